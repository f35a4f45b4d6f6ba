package home

import (
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

// handleRoomTransfer hands the caller's room to another occupant
func handleRoomTransfer(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, ctl *proc.Controller, guildID snowflake.ID) {
	target, ok := data.OptUser("user")
	if !ok {
		return
	}
	caller := event.User().ID

	channelID, ok := currentVoiceChannel(event, guildID, caller)
	if !ok {
		respond(event, sys.MsgRoomsErrNotInRoom, true)
		return
	}

	host, ok := ctl.GetHost(sys.AppContext, channelID)
	if !ok {
		respond(event, sys.MsgRoomsErrNotInRoom, true)
		return
	}
	if host != caller {
		respond(event, sys.MsgRoomsErrNotHost, true)
		return
	}

	if targetChannel, ok := currentVoiceChannel(event, guildID, target.ID); !ok || targetChannel != channelID || target.Bot {
		respond(event, fmt.Sprintf(sys.MsgRoomsErrTargetAway, target.ID), true)
		return
	}

	var roles []snowflake.ID
	if m, ok := event.Client().Caches.Member(guildID, target.ID); ok {
		roles = m.RoleIDs
	}

	_ = event.DeferCreateMessage(true)

	sys.SafeGo(func() {
		err := ctl.SetHost(sys.AppContext, channelID, target.ID, roles)
		switch {
		case errors.Is(err, proc.ErrBlacklisted):
			respond(event, fmt.Sprintf(sys.MsgRoomsErrTargetBanned, target.ID), true)
		case err != nil:
			sys.LogRoomsError(sys.MsgRoomsHandlerFail, caller, err)
			respond(event, sys.MsgRoomsErrTransferFail, true)
		default:
			respond(event, fmt.Sprintf(sys.MsgRoomsTransferred, target.ID, channelID), true)
		}
	})
}
