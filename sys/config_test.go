package sys

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("room defaults", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "token")
		t.Setenv("DATABASE_PATH", "x.db")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.False(t, cfg.Rooms.Enabled())
		assert.Equal(t, time.Minute, cfg.Rooms.Cooldown)
		assert.Equal(t, 3, cfg.Rooms.MoveRetries)
		assert.Equal(t, 500*time.Millisecond, cfg.Rooms.MoveDelay)
		assert.Equal(t, "x.db", cfg.DatabasePath)
		assert.Zero(t, cfg.GuildID)
	})

	t.Run("guild scope", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "token")
		t.Setenv("GUILD_ID", "1100000000000000009")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, snowflake.ID(1100000000000000009), cfg.GuildID)
	})

	t.Run("room settings", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "token")
		t.Setenv("ROOM_LOBBY_ID", "1100000000000000001")
		t.Setenv("ROOM_COOLDOWN", "90s")
		t.Setenv("ROOM_BLACKLIST_USERS", " 1100000000000000002, ,1100000000000000003")
		t.Setenv("ROOM_SWEEP_ON_START", "true")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.True(t, cfg.Rooms.Enabled())
		assert.Equal(t, snowflake.ID(1100000000000000001), cfg.Rooms.LobbyID)
		assert.Equal(t, 90*time.Second, cfg.Rooms.Cooldown)
		assert.Equal(t, []snowflake.ID{1100000000000000002, 1100000000000000003}, cfg.Rooms.BlacklistUsers)
		assert.True(t, cfg.Rooms.SweepOnStart)
	})

	tests := []struct {
		name, key, value string
	}{
		{"bad guild id", "GUILD_ID", "guild"},
		{"bad lobby id", "ROOM_LOBBY_ID", "lobby"},
		{"bad cooldown", "ROOM_COOLDOWN", "soon"},
		{"bad blacklist", "ROOM_BLACKLIST_ROLES", "1,x"},
		{"negative cooldown", "ROOM_COOLDOWN", "-1s"},
		{"zero retries", "ROOM_MOVE_RETRIES", "0"},
		{"zero rate", "ROOM_REST_RATE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DISCORD_TOKEN", "token")
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}

	t.Run("missing token", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a, ,b,"))
}
