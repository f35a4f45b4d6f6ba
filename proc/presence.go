package proc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/lounge/sys"
)

// ConfigKeyStatusVisible is the bot_config key toggled by /session status.
const ConfigKeyStatusVisible = "status_visible"

var (
	presenceMu   sync.Mutex
	lastPresence string
)

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		sys.RegisterDaemon(sys.LogPresence, func(ctx context.Context) (bool, func(), func()) { return StartPresenceRotator(ctx, client) })
	})
}

func rotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

// StartPresenceRotator cycles the listening activity through room statistics.
func StartPresenceRotator(ctx context.Context, client *bot.Client) (bool, func(), func()) {
	return true, func() {
			next := rotationInterval()
			updatePresence(ctx, client, next)
			for {
				select {
				case <-time.After(next):
					next = rotationInterval()
					updatePresence(ctx, client, next)
				case <-ctx.Done():
					return
				}
			}
		}, func() {
			sys.LogPresence(sys.MsgPresenceShutdown)
		}
}

func updatePresence(ctx context.Context, client *bot.Client, next time.Duration) {
	if visible, err := sys.GetBotConfig(ctx, ConfigKeyStatusVisible); err != nil || visible == "false" {
		_ = client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	rooms := -1
	lobbyName := ""
	if c := Rooms(); c != nil {
		rooms = len(c.ListManagedRooms(ctx))
		if ch, ok := client.Caches.Channel(c.Settings().LobbyID); ok {
			lobbyName = ch.Name()
		}
	}

	presenceMu.Lock()
	text := pickPresence(presenceChoices(rooms, lobbyName, time.Since(sys.StartupTime)), lastPresence, rand.Intn)
	lastPresence = text
	presenceMu.Unlock()

	err := client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	)
	if err != nil {
		sys.LogPresence(sys.MsgPresenceUpdateFail, err)
		return
	}
	sys.LogPresence(sys.MsgPresenceUpdated, text, next)
}

// presenceChoices lists the candidate statuses. rooms < 0 means voice rooms are off.
func presenceChoices(rooms int, lobbyName string, uptime time.Duration) []string {
	var out []string
	if rooms >= 0 {
		out = append(out, fmt.Sprintf(sys.MsgPresenceRooms, rooms))
	}
	if lobbyName != "" {
		out = append(out, fmt.Sprintf(sys.MsgPresenceLobby, lobbyName))
	}
	return append(out, fmt.Sprintf(sys.MsgPresenceUptime, int(uptime.Hours()), int(uptime.Minutes())%60))
}

// pickPresence picks a random choice other than last when there is one.
func pickPresence(choices []string, last string, intn func(int) int) string {
	var fresh []string
	for _, c := range choices {
		if c != last {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return choices[0]
	}
	return fresh[intn(len(fresh))]
}
