package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	levelFatal    = slog.LevelError + 4
	componentAttr = "component"
	timeLayout    = "15:04:05"
)

var (
	levelColors = map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgHiBlack),
		slog.LevelInfo:  color.New(),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed),
		levelFatal:      color.New(color.FgRed, color.Bold),
	}

	componentColors = map[string]*color.Color{
		"database": color.New(),
		"loader":   color.New(color.FgCyan),
		"rooms":    color.New(color.FgMagenta),
		"presence": color.New(color.FgBlue),
		"disgo":    color.New(color.FgHiBlack),
	}

	logMu   sync.Mutex
	logFile *os.File
	// silent and toFile remember the last InitLogger arguments.
	silent bool
	toFile bool
)

func init() {
	InitLogger(false, false)
}

// InitLogger installs the console handler as the slog default. With saveToFile
// every line is mirrored, without colors, to <project>.log.
func InitLogger(silentMode bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	silent, toFile = silentMode, saveToFile
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var out io.Writer = os.Stdout
	if toFile {
		name := GetProjectName() + ".log"
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open %s: %v\n", name, err)
		} else {
			logFile = f
			out = io.MultiWriter(os.Stdout, NewStripANSIWriter(f))
		}
	}

	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		level = slog.LevelDebug
	}

	color.NoColor = false
	slog.SetDefault(slog.New(NewConsoleHandler(out, level, silent)))
}

func SetSilentMode(silentMode bool) {
	InitLogger(silentMode, toFile)
}

func LogInfo(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func LogWarn(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func LogError(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

// LogFatal panics after logging so deferred cleanup still runs; main recovers it.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), levelFatal, msg)
	panic(msg)
}

func logComponent(level slog.Level, component, format string, v ...any) {
	slog.Log(context.Background(), level, fmt.Sprintf(format, v...), slog.String(componentAttr, component))
}

func LogDatabase(format string, v ...any) { logComponent(slog.LevelInfo, "database", format, v...) }
func LogLoader(format string, v ...any)   { logComponent(slog.LevelInfo, "loader", format, v...) }
func LogPresence(format string, v ...any) { logComponent(slog.LevelInfo, "presence", format, v...) }
func LogRooms(format string, v ...any)    { logComponent(slog.LevelInfo, "rooms", format, v...) }
func LogRoomsWarn(format string, v ...any) {
	logComponent(slog.LevelWarn, "rooms", format, v...)
}
func LogRoomsError(format string, v ...any) {
	logComponent(slog.LevelError, "rooms", format, v...)
}

// ConsoleHandler prints one colored line per record:
//
//	15:04:05 [WARN] [ROOMS] message
//
// The level tag is omitted for INFO. A "component" attr, from the record or
// from WithAttrs, picks the line color.
type ConsoleHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	silent    bool
	component string
}

func NewConsoleHandler(w io.Writer, level slog.Leveler, silent bool) *ConsoleHandler {
	return &ConsoleHandler{w: w, mu: &sync.Mutex{}, level: level, silent: silent}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !h.silent && level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	if h.silent {
		return nil
	}

	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentAttr {
			component = a.Value.String()
			return false
		}
		return true
	})

	line := h.format(r.Time, r.Level, component, r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *ConsoleHandler) format(t time.Time, level slog.Level, component, msg string) string {
	if t.IsZero() {
		t = time.Now()
	}
	label, lc := levelLabel(level)

	var b strings.Builder
	b.WriteString(t.Format(timeLayout))
	if label != "INFO" {
		b.WriteString(" " + lc.Sprintf("[%s]", label))
	}
	if component == "" {
		if label == "INFO" {
			b.WriteString(" [INFO]")
		}
		b.WriteString(" " + lc.Sprint(msg))
	} else {
		cc, ok := componentColors[component]
		if !ok {
			cc = color.New(color.FgCyan)
		}
		b.WriteString(" " + cc.Sprintf("[%s] %s", strings.ToUpper(component), msg))
	}
	b.WriteByte('\n')
	return b.String()
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for _, a := range attrs {
		if a.Key == componentAttr {
			next := *h
			next.component = a.Value.String()
			return &next
		}
	}
	return h
}

func (h *ConsoleHandler) WithGroup(string) slog.Handler { return h }

func levelLabel(level slog.Level) (string, *color.Color) {
	switch {
	case level >= levelFatal:
		return "FATAL", levelColors[levelFatal]
	case level >= slog.LevelError:
		return "ERROR", levelColors[slog.LevelError]
	case level >= slog.LevelWarn:
		return "WARN", levelColors[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return "INFO", levelColors[slog.LevelInfo]
	}
	return "DEBUG", levelColors[slog.LevelDebug]
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSIWriter drops color escapes before writing to w.
type StripANSIWriter struct {
	w io.Writer
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{w: w}
}

func (s *StripANSIWriter) Write(p []byte) (int, error) {
	if _, err := s.w.Write(ansiEscape.ReplaceAll(p, nil)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidValue  = "invalid %s: %w"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands   = "Syncing commands to %s..."
	MsgLoaderSynced         = "Registered %d command(s) to %s"
	MsgLoaderSyncFail       = "registering commands to %s: %w"
	MsgLoaderUpToDate       = "Commands are up to date. (Hash: %s)"
	MsgLoaderCleanup        = "Removed commands from previous scope %s"
	MsgLoaderCleanupFail    = "Could not remove commands from previous scope %s: %v"
	MsgLoaderPanicRecovered = "Panic recovered in handler: %v"

	// --- Voice Rooms ---
	MsgRoomsDisabled          = "ROOM_LOBBY_ID is not set, voice rooms disabled"
	MsgRoomsHydrated          = "Loaded %d managed room(s) from the database"
	MsgRoomsHydrateFail       = "Failed to load managed rooms: %v"
	MsgRoomsCreated           = "Created room %s for %s"
	MsgRoomsCreateFail        = "Failed to create room for %s: %v"
	MsgRoomsRolledBack        = "Rolled back room %s for %s: %v"
	MsgRoomsRollbackFail      = "Failed to roll back room %s: %v"
	MsgRoomsDeleted           = "Deleted room %s (%s)"
	MsgRoomsDeleteFail        = "Failed to delete room %s: %v"
	MsgRoomsPurged            = "Purged stale room %s"
	MsgRoomsStoreFail         = "Room store write failed for %s: %v"
	MsgRoomsEjected           = "Disconnected member %s in guild %s"
	MsgRoomsCooldownHit       = "Member %s is on cooldown (%s left)"
	MsgRoomsNoticeFail        = "Failed to notify %s: %v"
	MsgRoomsHandlerFail       = "Voice state handling failed for %s: %v"
	MsgRoomsHostChanged       = "Host of room %s is now %s"
	MsgRoomsSwept             = "Sweep removed %d empty room(s) in category %s"
	MsgRoomsSweepFail         = "Sweep failed: %v"
	MsgRoomsLobbyNoParent     = "Lobby %s has no parent category and ROOM_CATEGORY_ID is unset"
	MsgRoomsReassertFail      = "Failed to re-assert blacklist on %s: %v"
	MsgRoomsShutdown          = "Stopping cooldown timers..."
	MsgRoomsReasonHostLeft    = "host left"
	MsgRoomsReasonEmpty       = "empty"
	MsgRoomsReasonSweep       = "sweep"
	MsgRoomsCooldownNotice    = "You can create another room in %d second(s)."
	MsgRoomsDefaultName       = "%s's Room"
	MsgRoomsErrGuildOnly      = "This command can only be used in a server."
	MsgRoomsErrDisabled       = "Voice rooms are not configured on this bot."
	MsgRoomsErrNotInRoom      = "You are not in a managed room."
	MsgRoomsErrNotHost        = "Only the host of this room can do that."
	MsgRoomsErrTargetAway     = "<@%s> must be in your room to become its host."
	MsgRoomsErrTransferFail   = "Failed to transfer the room."
	MsgRoomsErrTargetBanned   = "<@%s> is blacklisted from voice rooms and cannot host one."
	MsgRoomsErrSweepFail      = "Sweep failed. Check the logs for details."
	MsgRoomsInfo              = "**<#%s>**\n> Host: <@%s>\n> Created: <t:%d:R>"
	MsgRoomsTransferred       = "<@%s> is now the host of <#%s>."
	MsgRoomsListEmpty         = "There are no managed rooms right now."
	MsgRoomsListHeader        = "**Managed Rooms** (%d)\n\n"
	MsgRoomsListItem          = "> <#%s> hosted by <@%s>\n"
	MsgRoomsSweepDone         = "Removed **%d** empty room(s)."

	// --- Presence ---
	MsgPresenceUpdated    = "Status set to %q (next in %v)"
	MsgPresenceUpdateFail = "Failed to update status: %v"
	MsgPresenceShutdown   = "Shutting down presence rotator..."
	MsgPresenceRooms      = "%d open room(s)"
	MsgPresenceLobby      = "Join %s to get a room"
	MsgPresenceUptime     = "Uptime: %dh %dm"

	// --- Session ---
	MsgSessionRebootCommanded   = "Reboot commanded by %s (%s)"
	MsgSessionShutdownCommanded = "Shutdown commanded by %s (%s)"
	MsgSessionRebooting         = "Rebooting..."
	MsgSessionShuttingDown      = "Shutting down..."
	MsgSessionStatusEnabled     = "Status rotation is now **on**."
	MsgSessionStatusDisabled    = "Status rotation is now **off**."
	MsgSessionStatusFail        = "Failed to save the status setting."
)
