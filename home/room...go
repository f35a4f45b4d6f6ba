package home

import (
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

func init() {
	manageChannels := discord.PermissionManageChannels

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "room",
		Description: "Manage your personal voice room",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "info",
				Description: "Show who hosts the room you are in",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "transfer",
				Description: "Hand your room to another member in it",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{
						Name:        "user",
						Description: "The new host",
						Required:    true,
					},
				},
			},
		},
	}, handleRoom)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "rooms",
		Description:              "Voice room administration (Moderators Only)",
		DefaultMemberPermissions: omit.New(&manageChannels),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List every managed room",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "sweep",
				Description: "Delete empty rooms left behind in the room category",
			},
		},
	}, handleRooms)
}

func handleRoom(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}

	ctl, guildID, ok := roomPreflight(event)
	if !ok {
		return
	}

	switch *data.SubCommandName {
	case "info":
		handleRoomInfo(event, ctl, guildID)
	case "transfer":
		handleRoomTransfer(event, data, ctl, guildID)
	default:
		sys.LogWarn("Unknown room subcommand: %s", *data.SubCommandName)
	}
}

func handleRooms(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}

	ctl, guildID, ok := roomPreflight(event)
	if !ok {
		return
	}

	switch *data.SubCommandName {
	case "list":
		handleRoomsList(event, ctl, guildID)
	case "sweep":
		handleRoomsSweep(event, ctl, guildID)
	default:
		sys.LogWarn("Unknown rooms subcommand: %s", *data.SubCommandName)
	}
}

// roomPreflight rejects invocations outside a guild or while rooms are disabled.
func roomPreflight(event *events.ApplicationCommandInteractionCreate) (*proc.Controller, snowflake.ID, bool) {
	guildID := event.GuildID()
	if guildID == nil {
		respond(event, sys.MsgRoomsErrGuildOnly, true)
		return nil, 0, false
	}
	ctl := proc.Rooms()
	if ctl == nil {
		respond(event, sys.MsgRoomsErrDisabled, true)
		return nil, 0, false
	}
	return ctl, *guildID, true
}

// currentVoiceChannel returns the voice channel a member is in, from the cache.
func currentVoiceChannel(event *events.ApplicationCommandInteractionCreate, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := event.Client().Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

func respond(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	displayContent := content
	if !strings.HasPrefix(content, "#") && !strings.HasPrefix(content, ">") && !strings.HasPrefix(content, "**") {
		displayContent = "> " + content
	}

	builder := discord.NewMessageCreate().
		WithIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(displayContent))).
		WithEphemeral(ephemeral)

	if err := event.CreateMessage(builder); err != nil {
		// Already deferred.
		updateBuilder := discord.NewMessageUpdate().
			WithIsComponentsV2(true).
			AddComponents(discord.NewContainer(discord.NewTextDisplay(displayContent)))
		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), updateBuilder)
	}
}
