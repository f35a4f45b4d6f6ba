package proc

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/sys"
)

// ManagedRoom is a voice channel the bot created, with its current host.
type ManagedRoom = sys.VoiceRoom

// RoomStore persists room ownership across restarts.
type RoomStore interface {
	GetAllRooms(ctx context.Context) ([]ManagedRoom, error)
	// SetRoomHost upserts. Calling it twice with the same values is a no-op.
	SetRoomHost(ctx context.Context, guildID, channelID, hostID snowflake.ID) error
	// DeleteRoom succeeds when the row does not exist.
	DeleteRoom(ctx context.Context, channelID snowflake.ID) error
}

// SQLRoomStore is the RoomStore backed by the bot's sqlite database.
type SQLRoomStore struct{}

func (SQLRoomStore) GetAllRooms(ctx context.Context) ([]ManagedRoom, error) {
	return sys.GetAllVoiceRooms(ctx)
}

func (SQLRoomStore) SetRoomHost(ctx context.Context, guildID, channelID, hostID snowflake.ID) error {
	return sys.SetVoiceRoomHost(ctx, guildID, channelID, hostID)
}

func (SQLRoomStore) DeleteRoom(ctx context.Context, channelID snowflake.ID) error {
	return sys.DeleteVoiceRoom(ctx, channelID)
}

// hostCache is the in-memory channel -> room map. It is filled from the store
// on first use; until then it is simply empty.
type hostCache struct {
	mu       sync.Mutex
	rooms    map[snowflake.ID]ManagedRoom
	hydrated bool

	hydrateMu sync.Mutex
}

func newHostCache() *hostCache {
	return &hostCache{rooms: make(map[snowflake.ID]ManagedRoom)}
}

// hydrate loads the store once. Entries written by live handlers while the
// load was in flight are kept over the stored ones.
func (h *hostCache) hydrate(ctx context.Context, store RoomStore) (int, error) {
	h.hydrateMu.Lock()
	defer h.hydrateMu.Unlock()

	h.mu.Lock()
	done := h.hydrated
	h.mu.Unlock()
	if done {
		return 0, nil
	}

	rooms, err := store.GetAllRooms(ctx)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range rooms {
		if _, ok := h.rooms[r.ChannelID]; !ok {
			h.rooms[r.ChannelID] = r
		}
	}
	h.hydrated = true
	return len(rooms), nil
}

func (h *hostCache) get(channelID snowflake.ID) (ManagedRoom, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[channelID]
	return r, ok
}

func (h *hostCache) put(r ManagedRoom) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	h.rooms[r.ChannelID] = r
}

// setHost changes the host of a tracked room and returns the previous one.
func (h *hostCache) setHost(channelID, hostID snowflake.ID) (snowflake.ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[channelID]
	if !ok {
		return 0, false
	}
	prev := r.HostID
	r.HostID = hostID
	h.rooms[channelID] = r
	return prev, true
}

// take removes a room and returns it. Only one caller can take a given room,
// which is how concurrent leave handlers agree on who deletes it.
func (h *hostCache) take(channelID snowflake.ID) (ManagedRoom, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[channelID]
	if ok {
		delete(h.rooms, channelID)
	}
	return r, ok
}

func (h *hostCache) list() []ManagedRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ManagedRoom, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b ManagedRoom) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})
	return out
}
