package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

// Config is read once from the environment (and .env) at startup.
type Config struct {
	Token string
	// GuildID scopes slash commands to one guild; zero registers them globally.
	GuildID      snowflake.ID
	DatabasePath string
	Silent       bool
	Rooms        RoomConfig
}

// RoomConfig holds everything the personal voice-room manager needs.
type RoomConfig struct {
	LobbyID         snowflake.ID
	CategoryID      snowflake.ID
	Cooldown        time.Duration
	ModeratorRoleID snowflake.ID
	AdminID         snowflake.ID
	BlacklistUsers  []snowflake.ID
	BlacklistRoles  []snowflake.ID
	MoveRetries     int
	MoveDelay       time.Duration
	SweepIgnore     []snowflake.ID
	SweepOnStart    bool
	RestRate        float64
}

// Enabled reports whether a lobby channel is configured.
func (r RoomConfig) Enabled() bool {
	return r.LobbyID != 0
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	guildID, err := envSnowflake("GUILD_ID")
	if err != nil {
		return nil, err
	}
	rooms, err := loadRoomConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Token:        os.Getenv("DISCORD_TOKEN"),
		GuildID:      guildID,
		DatabasePath: dbPath,
		Silent:       silent,
		Rooms:        rooms,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func loadRoomConfig() (RoomConfig, error) {
	rc := RoomConfig{
		Cooldown:    60 * time.Second,
		MoveRetries: 3,
		MoveDelay:   500 * time.Millisecond,
		RestRate:    5,
	}

	var err error
	if rc.LobbyID, err = envSnowflake("ROOM_LOBBY_ID"); err != nil {
		return rc, err
	}
	if rc.CategoryID, err = envSnowflake("ROOM_CATEGORY_ID"); err != nil {
		return rc, err
	}
	if rc.ModeratorRoleID, err = envSnowflake("ROOM_MOD_ROLE_ID"); err != nil {
		return rc, err
	}
	if rc.AdminID, err = envSnowflake("ROOM_ADMIN_ID"); err != nil {
		return rc, err
	}
	if rc.BlacklistUsers, err = envSnowflakes("ROOM_BLACKLIST_USERS"); err != nil {
		return rc, err
	}
	if rc.BlacklistRoles, err = envSnowflakes("ROOM_BLACKLIST_ROLES"); err != nil {
		return rc, err
	}
	if rc.SweepIgnore, err = envSnowflakes("ROOM_SWEEP_IGNORE"); err != nil {
		return rc, err
	}

	if v := os.Getenv("ROOM_COOLDOWN"); v != "" {
		if rc.Cooldown, err = time.ParseDuration(v); err != nil {
			return rc, fmt.Errorf(MsgConfigInvalidValue, "ROOM_COOLDOWN", err)
		}
	}
	if v := os.Getenv("ROOM_MOVE_DELAY"); v != "" {
		if rc.MoveDelay, err = time.ParseDuration(v); err != nil {
			return rc, fmt.Errorf(MsgConfigInvalidValue, "ROOM_MOVE_DELAY", err)
		}
	}
	if v := os.Getenv("ROOM_MOVE_RETRIES"); v != "" {
		if rc.MoveRetries, err = strconv.Atoi(v); err != nil {
			return rc, fmt.Errorf(MsgConfigInvalidValue, "ROOM_MOVE_RETRIES", err)
		}
	}
	if v := os.Getenv("ROOM_REST_RATE"); v != "" {
		if rc.RestRate, err = strconv.ParseFloat(v, 64); err != nil {
			return rc, fmt.Errorf(MsgConfigInvalidValue, "ROOM_REST_RATE", err)
		}
	}
	rc.SweepOnStart, _ = strconv.ParseBool(os.Getenv("ROOM_SWEEP_ON_START"))

	return rc, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.Rooms.Cooldown < 0 {
		return fmt.Errorf("invalid ROOM_COOLDOWN: must not be negative")
	}
	if c.Rooms.MoveRetries < 1 {
		return fmt.Errorf("invalid ROOM_MOVE_RETRIES: must be at least 1")
	}
	if c.Rooms.RestRate <= 0 {
		return fmt.Errorf("invalid ROOM_REST_RATE: must be positive")
	}
	return nil
}

func envSnowflake(key string) (snowflake.ID, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	id, err := snowflake.Parse(v)
	if err != nil {
		return 0, fmt.Errorf(MsgConfigInvalidValue, key, err)
	}
	return id, nil
}

func envSnowflakes(key string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	for _, s := range splitList(os.Getenv(key)) {
		id, err := snowflake.Parse(s)
		if err != nil {
			return nil, fmt.Errorf(MsgConfigInvalidValue, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetProjectName names the log and database files after the binary. Builds
// from go run and go test fall back to the module name.
func GetProjectName() string {
	const fallback = "lounge"
	exe, err := os.Executable()
	if err != nil {
		return fallback
	}
	name := strings.TrimSuffix(filepath.Base(exe), ".exe")
	if name == "main" || strings.HasPrefix(name, "go_build_") || strings.HasSuffix(name, ".test") {
		return fallback
	}
	return name
}
