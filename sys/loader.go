package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
)

const (
	configKeyCommandHash  = "command_hash"
	configKeyCommandScope = "command_scope"
	scopeGlobal           = "global"
)

var (
	AppContext       = context.Background()
	RestartRequested bool
	StartupTime      = time.Now()

	readyOnce sync.Once

	commands            []discord.ApplicationCommandCreate
	commandHandlers     = map[string]func(*events.ApplicationCommandInteractionCreate){}
	voiceStateHandlers  []func(*events.GuildVoiceStateUpdate)
	clientReadyHandlers []func(context.Context, *bot.Client)
)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

func recoverPanic() {
	if r := recover(); r != nil {
		LogError(MsgLoaderPanicRecovered, r)
		fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
	}
}

// SafeGo runs f on a new goroutine. A panic is logged instead of crashing the bot.
func SafeGo(f func()) {
	go func() {
		defer recoverPanic()
		f()
	}()
}

// SafeCall is SafeGo without the goroutine.
func SafeCall(f func()) {
	defer recoverPanic()
	f()
}

// CreateClient builds the disgo client with the intents and caches voice rooms rely on.
func CreateClient(cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("the lobby"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagRoles, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithEventListenerFunc(onReady),
		bot.WithEventListenerFunc(onCommand),
		bot.WithEventListenerFunc(onVoiceState),
		bot.WithLogger(slog.Default().With(slog.String("component", "disgo"))),
	)
}

// RegisterCommand adds a slash command to the synced set and routes its interactions to handler.
func RegisterCommand(cmd discord.SlashCommandCreate, handler func(*events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	commandHandlers[cmd.Name] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(*events.GuildVoiceStateUpdate)) {
	voiceStateHandlers = append(voiceStateHandlers, handler)
}

// OnClientReady runs cb once, on the first READY.
func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	clientReadyHandlers = append(clientReadyHandlers, cb)
}

func commandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// commandScope is "global" or the guild ID the commands are bound to.
func commandScope(guildID snowflake.ID) string {
	if guildID == 0 {
		return scopeGlobal
	}
	return guildID.String()
}

// syncPlan decides whether to upload commands and which stale scope, if any, to empty.
func syncPlan(hash, scope, lastHash, lastScope string) (upload bool, stale string) {
	if lastScope != "" && lastScope != scope {
		stale = lastScope
	}
	upload = hash == "" || hash != lastHash || scope != lastScope
	return upload, stale
}

// SyncCommands uploads the registered commands to guildID, or globally when it
// is zero. Uploads are skipped while the command set and scope are unchanged.
// Commands left in a previous scope are removed.
func SyncCommands(ctx context.Context, client *bot.Client, guildID snowflake.ID) error {
	scope := commandScope(guildID)
	hash := commandHash(commands)
	lastHash, _ := GetBotConfig(ctx, configKeyCommandHash)
	lastScope, _ := GetBotConfig(ctx, configKeyCommandScope)

	upload, stale := syncPlan(hash, scope, lastHash, lastScope)
	if !upload {
		LogLoader(MsgLoaderUpToDate, hash[:8])
		return nil
	}

	LogLoader(MsgLoaderSyncCommands, scope)
	if err := setCommands(client, scope, commands); err != nil {
		return fmt.Errorf(MsgLoaderSyncFail, scope, err)
	}
	LogLoader(MsgLoaderSynced, len(commands), scope)

	if stale != "" {
		if err := setCommands(client, stale, []discord.ApplicationCommandCreate{}); err != nil {
			LogWarn(MsgLoaderCleanupFail, stale, err)
		} else {
			LogLoader(MsgLoaderCleanup, stale)
		}
	}

	_ = SetBotConfig(ctx, configKeyCommandScope, scope)
	if hash != "" {
		_ = SetBotConfig(ctx, configKeyCommandHash, hash)
	}
	return nil
}

func setCommands(client *bot.Client, scope string, cmds []discord.ApplicationCommandCreate) error {
	if scope == scopeGlobal {
		_, err := client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
		return err
	}
	guildID, err := snowflake.Parse(scope)
	if err != nil {
		return err
	}
	_, err = client.Rest.SetGuildCommands(client.ApplicationID, guildID, cmds)
	return err
}

func onReady(event *events.Ready) {
	LogInfo(MsgBotReady, event.User.Username, event.User.ID, os.Getpid(), time.Since(StartupTime).Milliseconds())

	// READY repeats after a session is invalidated.
	readyOnce.Do(func() {
		client := event.Client()
		for _, cb := range clientReadyHandlers {
			cb(AppContext, client)
		}
		StartDaemons(AppContext)
	})
}

func onCommand(event *events.ApplicationCommandInteractionCreate) {
	if h, ok := commandHandlers[event.Data.CommandName()]; ok {
		SafeGo(func() { h(event) })
	}
}

// onVoiceState runs handlers inline so they observe gateway order.
// Handlers must hand slow work off to their own goroutines.
func onVoiceState(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateHandlers {
		SafeCall(func() { h(event) })
	}
}
