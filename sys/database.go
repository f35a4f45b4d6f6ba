package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the process-wide handle. Only the room store and bot_config use it.
var DB *sql.DB

const dbInitTimeout = 10 * time.Second

var dbPragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

var dbSchema = []string{
	`CREATE TABLE IF NOT EXISTS bot_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS voice_rooms (
		channel_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// InitDatabase opens the SQLite file at dataSourceName and creates missing tables.
func InitDatabase(ctx context.Context, dataSourceName string) error {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(4)

	initCtx, cancel := context.WithTimeout(ctx, dbInitTimeout)
	defer cancel()

	if err := applySchema(initCtx, db); err != nil {
		db.Close()
		return err
	}

	DB = db
	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, p := range dbPragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range dbSchema {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}
	return tx.Commit()
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
		DB = nil
	}
}

// GetBotConfig returns the stored value for key, or "" when unset.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// VoiceRoom is one bot-created voice channel and its current host.
type VoiceRoom struct {
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	HostID    snowflake.ID
	CreatedAt time.Time
}

// SetVoiceRoomHost upserts the host of a room. created_at is kept on update.
func SetVoiceRoomHost(ctx context.Context, guildID, channelID, hostID snowflake.ID) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO voice_rooms (channel_id, guild_id, host_id) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET host_id = excluded.host_id, guild_id = excluded.guild_id
	`, channelID.String(), guildID.String(), hostID.String())
	return err
}

// DeleteVoiceRoom removes a room row. Deleting a missing row is not an error.
func DeleteVoiceRoom(ctx context.Context, channelID snowflake.ID) error {
	_, err := DB.ExecContext(ctx, "DELETE FROM voice_rooms WHERE channel_id = ?", channelID.String())
	return err
}

// GetAllVoiceRooms lists every persisted room, oldest first.
func GetAllVoiceRooms(ctx context.Context) ([]VoiceRoom, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT channel_id, guild_id, host_id, created_at FROM voice_rooms ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []VoiceRoom
	for rows.Next() {
		var cid, gid, hid string
		r := VoiceRoom{}
		if err := rows.Scan(&cid, &gid, &hid, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.ChannelID, err = snowflake.Parse(cid); err != nil {
			return nil, fmt.Errorf("voice room %q: bad channel id: %w", cid, err)
		}
		if r.GuildID, err = snowflake.Parse(gid); err != nil {
			return nil, fmt.Errorf("voice room %s: bad guild id %q: %w", cid, gid, err)
		}
		if r.HostID, err = snowflake.Parse(hid); err != nil {
			return nil, fmt.Errorf("voice room %s: bad host id %q: %w", cid, hid, err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}
