package proc

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/sys"
)

const (
	roomsHandlerTimeout = 2 * time.Minute
	sweepWaitForGuild   = 30 * time.Second
)

var (
	roomsMu     sync.RWMutex
	roomsCtl    *Controller
	roomsQueues = newMemberQueues()
)

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		sys.RegisterDaemon(sys.LogRooms, func(ctx context.Context) (bool, func(), func()) { return InitRooms(ctx, client) })
	})
	sys.RegisterVoiceStateUpdateHandler(onRoomsVoiceStateUpdate)
}

// Rooms returns the running controller, or nil when voice rooms are disabled.
func Rooms() *Controller {
	roomsMu.RLock()
	defer roomsMu.RUnlock()
	return roomsCtl
}

func setRooms(c *Controller) {
	roomsMu.Lock()
	roomsCtl = c
	roomsMu.Unlock()
}

// InitRooms builds the controller from the global config. The run func
// hydrates the host cache and, if configured, sweeps the room category once.
func InitRooms(ctx context.Context, client *bot.Client) (bool, func(), func()) {
	cfg := sys.GlobalConfig
	if cfg == nil || !cfg.Rooms.Enabled() {
		sys.LogRooms(sys.MsgRoomsDisabled)
		return false, nil, nil
	}

	c := NewController(SettingsFromConfig(cfg.Rooms), NewDisgoPlatform(client, cfg.Rooms.RestRate), SQLRoomStore{})
	setRooms(c)

	return true, func() {
		n, err := c.Hydrate(ctx)
		if err != nil {
			sys.LogRoomsError(sys.MsgRoomsHydrateFail, err)
		} else {
			sys.LogRooms(sys.MsgRoomsHydrated, n)
		}

		if cfg.Rooms.SweepOnStart {
			startupSweep(ctx, client, c, cfg.Rooms.SweepIgnore)
		}
	}, func() { ShutdownRooms() }
}

// ShutdownRooms stops the controller's cooldown timers.
func ShutdownRooms() {
	c := Rooms()
	if c == nil {
		return
	}
	sys.LogRooms(sys.MsgRoomsShutdown)
	c.Stop()
}

// startupSweep waits for the lobby's guild to reach the cache, then sweeps.
func startupSweep(ctx context.Context, client *bot.Client, c *Controller, ignore []snowflake.ID) {
	lobbyID := c.Settings().LobbyID

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(sweepWaitForGuild)

	for {
		if lobby, ok := client.Caches.Channel(lobbyID); ok {
			count, err := c.SweepEmptyRooms(ctx, lobby.GuildID(), c.Category(), ignore)
			if err != nil {
				sys.LogRoomsError(sys.MsgRoomsSweepFail, err)
			} else if count == 0 {
				sys.LogRooms(sys.MsgRoomsSwept, count, c.Category())
			}
			return
		}

		select {
		case <-ticker.C:
		case <-deadline:
			sys.LogRoomsWarn(sys.MsgRoomsSweepFail, "lobby channel never appeared in cache")
			return
		case <-ctx.Done():
			return
		}
	}
}

func onRoomsVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	c := Rooms()
	if c == nil {
		return
	}

	ev := eventFromVoiceState(event)
	roomsQueues.push(ev.UserID, func() {
		ctx, cancel := context.WithTimeout(sys.AppContext, roomsHandlerTimeout)
		defer cancel()
		if err := c.HandleEvent(ctx, ev); err != nil {
			sys.LogRoomsError(sys.MsgRoomsHandlerFail, ev.UserID, err)
		}
	})
}

func eventFromVoiceState(event *events.GuildVoiceStateUpdate) Event {
	ev := Event{
		GuildID:     event.VoiceState.GuildID,
		UserID:      event.VoiceState.UserID,
		RoleIDs:     event.Member.RoleIDs,
		DisplayName: event.Member.EffectiveName(),
	}
	if ev.DisplayName == "" {
		ev.DisplayName = event.Member.User.Username
	}
	if event.OldVoiceState.ChannelID != nil {
		ev.OldChannelID = *event.OldVoiceState.ChannelID
	}
	if event.VoiceState.ChannelID != nil {
		ev.NewChannelID = *event.VoiceState.ChannelID
	}
	return ev
}

// memberQueues runs jobs for one member in the order they were pushed, while
// different members proceed in parallel.
type memberQueues struct {
	mu     sync.Mutex
	queues map[snowflake.ID][]func()
}

func newMemberQueues() *memberQueues {
	return &memberQueues{queues: make(map[snowflake.ID][]func())}
}

func (q *memberQueues) push(userID snowflake.ID, job func()) {
	q.mu.Lock()
	pending, draining := q.queues[userID]
	q.queues[userID] = append(pending, job)
	q.mu.Unlock()

	if !draining {
		sys.SafeGo(func() { q.drain(userID) })
	}
}

func (q *memberQueues) drain(userID snowflake.ID) {
	for {
		q.mu.Lock()
		pending := q.queues[userID]
		if len(pending) == 0 {
			delete(q.queues, userID)
			q.mu.Unlock()
			return
		}
		job := pending[0]
		q.queues[userID] = pending[1:]
		q.mu.Unlock()

		sys.SafeCall(job)
	}
}
