package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

// handleRoomsSweep deletes empty rooms in the room category
func handleRoomsSweep(event *events.ApplicationCommandInteractionCreate, ctl *proc.Controller, guildID snowflake.ID) {
	_ = event.DeferCreateMessage(true)

	sys.SafeGo(func() {
		var ignore []snowflake.ID
		if sys.GlobalConfig != nil {
			ignore = sys.GlobalConfig.Rooms.SweepIgnore
		}

		count, err := ctl.SweepEmptyRooms(sys.AppContext, guildID, ctl.Category(), ignore)
		if err != nil {
			sys.LogRoomsError(sys.MsgRoomsSweepFail, err)
			if count == 0 {
				respond(event, sys.MsgRoomsErrSweepFail, true)
				return
			}
		}
		respond(event, fmt.Sprintf(sys.MsgRoomsSweepDone, count), true)
	})
}
