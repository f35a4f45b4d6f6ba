package proc

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/sys"
)

// maxChannelName is Discord's limit on channel names, in characters.
const maxChannelName = 100

// Event is one member's voice channel change. A zero channel id means "not in voice".
type Event struct {
	GuildID      snowflake.ID
	UserID       snowflake.ID
	RoleIDs      []snowflake.ID
	DisplayName  string
	OldChannelID snowflake.ID
	NewChannelID snowflake.ID
}

// Snapshot is what the controller knew at the moment it planned an event.
type Snapshot struct {
	LobbyID  snowflake.ID
	ParentID snowflake.ID
	// Hosts holds the recorded host of each managed channel the event touches.
	Hosts        map[snowflake.ID]snowflake.ID
	OldExists    bool
	OldOccupants int
	Blacklisted  bool
	CooldownLeft time.Duration
}

func (s Snapshot) managed(channelID snowflake.ID) bool {
	_, ok := s.Hosts[channelID]
	return ok
}

type TransitionKind int

const (
	Ignore TransitionKind = iota
	JoinLobby
	JoinManagedRoom
	LeaveManagedRoom
	LeaveUnmanaged
)

func (k TransitionKind) String() string {
	switch k {
	case JoinLobby:
		return "JoinLobby"
	case JoinManagedRoom:
		return "JoinManagedRoom"
	case LeaveManagedRoom:
		return "LeaveManagedRoom"
	case LeaveUnmanaged:
		return "LeaveUnmanaged"
	default:
		return "Ignore"
	}
}

type Transition struct {
	Kind      TransitionKind
	ChannelID snowflake.ID
}

// Classify splits an event into its leave and join transitions, leave first.
// Events that do not change the channel (mute, deafen, stream) are ignored.
func Classify(ev Event, snap Snapshot) []Transition {
	if ev.OldChannelID == ev.NewChannelID {
		return []Transition{{Kind: Ignore}}
	}

	var out []Transition
	if ev.OldChannelID != 0 {
		kind := LeaveUnmanaged
		if snap.managed(ev.OldChannelID) {
			kind = LeaveManagedRoom
		}
		out = append(out, Transition{Kind: kind, ChannelID: ev.OldChannelID})
	}

	if ev.NewChannelID != 0 {
		switch {
		case ev.NewChannelID == snap.LobbyID:
			out = append(out, Transition{Kind: JoinLobby, ChannelID: ev.NewChannelID})
		case snap.managed(ev.NewChannelID):
			out = append(out, Transition{Kind: JoinManagedRoom, ChannelID: ev.NewChannelID})
		}
	}

	if len(out) == 0 {
		return []Transition{{Kind: Ignore}}
	}
	return out
}

type EffectKind int

const (
	// EffectDisconnect removes the event's member from voice.
	EffectDisconnect EffectKind = iota
	EffectReassertBlacklist
	EffectNotifyCooldown
	EffectCreateRoom
	EffectDeleteRoom
	EffectPurgeRoom
)

func (k EffectKind) String() string {
	switch k {
	case EffectDisconnect:
		return "Disconnect"
	case EffectReassertBlacklist:
		return "ReassertBlacklist"
	case EffectNotifyCooldown:
		return "NotifyCooldown"
	case EffectCreateRoom:
		return "CreateRoom"
	case EffectDeleteRoom:
		return "DeleteRoom"
	case EffectPurgeRoom:
		return "PurgeRoom"
	default:
		return fmt.Sprintf("EffectKind(%d)", int(k))
	}
}

// Effect is one platform or state operation the interpreter must perform.
type Effect struct {
	Kind      EffectKind
	ChannelID snowflake.ID
	ParentID  snowflake.ID
	Name      string
	Wait      time.Duration
	Reason    string
}

// Plan decides what an event should do. It performs no I/O.
func Plan(ev Event, snap Snapshot) []Effect {
	var effects []Effect
	for _, t := range Classify(ev, snap) {
		effects = append(effects, planTransition(ev, snap, t)...)
	}
	return effects
}

func planTransition(ev Event, snap Snapshot, t Transition) []Effect {
	switch t.Kind {
	case LeaveManagedRoom:
		if !snap.OldExists {
			return []Effect{{Kind: EffectPurgeRoom, ChannelID: t.ChannelID}}
		}
		if snap.Hosts[t.ChannelID] == ev.UserID {
			return []Effect{{Kind: EffectDeleteRoom, ChannelID: t.ChannelID, Reason: sys.MsgRoomsReasonHostLeft}}
		}
		if snap.OldOccupants == 0 {
			return []Effect{{Kind: EffectDeleteRoom, ChannelID: t.ChannelID, Reason: sys.MsgRoomsReasonEmpty}}
		}
		return nil

	case JoinLobby:
		if snap.Blacklisted {
			return []Effect{{Kind: EffectDisconnect}}
		}
		if snap.CooldownLeft > 0 {
			return []Effect{
				{Kind: EffectNotifyCooldown, Wait: snap.CooldownLeft},
				{Kind: EffectDisconnect},
			}
		}
		return []Effect{{
			Kind:     EffectCreateRoom,
			ParentID: snap.ParentID,
			Name:     RoomName(ev.DisplayName),
		}}

	case JoinManagedRoom:
		if snap.Blacklisted {
			return []Effect{
				{Kind: EffectReassertBlacklist, ChannelID: t.ChannelID},
				{Kind: EffectDisconnect},
			}
		}
		return nil
	}
	return nil
}

// RoomName is the default name of a member's room. Long display names are
// shortened so the whole name fits the channel name limit.
func RoomName(displayName string) string {
	overhead := utf8.RuneCountInString(fmt.Sprintf(sys.MsgRoomsDefaultName, ""))
	if room := maxChannelName - overhead; utf8.RuneCountInString(displayName) > room {
		displayName = string([]rune(displayName)[:room])
	}
	return fmt.Sprintf(sys.MsgRoomsDefaultName, displayName)
}
