package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

// handleRoomInfo shows the host of the caller's current room
func handleRoomInfo(event *events.ApplicationCommandInteractionCreate, ctl *proc.Controller, guildID snowflake.ID) {
	channelID, ok := currentVoiceChannel(event, guildID, event.User().ID)
	if !ok {
		respond(event, sys.MsgRoomsErrNotInRoom, true)
		return
	}

	room, ok := ctl.GetRoom(sys.AppContext, channelID)
	if !ok {
		respond(event, sys.MsgRoomsErrNotInRoom, true)
		return
	}

	respond(event, fmt.Sprintf(sys.MsgRoomsInfo, room.ChannelID, room.HostID, room.CreatedAt.Unix()), true)
}
