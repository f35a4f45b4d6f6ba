package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

// maxListedRooms keeps the reply under Discord's text display limit.
const maxListedRooms = 50

// handleRoomsList lists the managed rooms of this guild
func handleRoomsList(event *events.ApplicationCommandInteractionCreate, ctl *proc.Controller, guildID snowflake.ID) {
	var rooms []proc.ManagedRoom
	for _, r := range ctl.ListManagedRooms(sys.AppContext) {
		if r.GuildID == guildID {
			rooms = append(rooms, r)
		}
	}

	if len(rooms) == 0 {
		respond(event, sys.MsgRoomsListEmpty, true)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(sys.MsgRoomsListHeader, len(rooms)))
	for i, r := range rooms {
		if i == maxListedRooms {
			sb.WriteString(fmt.Sprintf("> ... and %d more\n", len(rooms)-maxListedRooms))
			break
		}
		sb.WriteString(fmt.Sprintf(sys.MsgRoomsListItem, r.ChannelID, r.HostID))
	}

	respond(event, sb.String(), true)
}
