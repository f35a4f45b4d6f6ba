package home

import (
	"os"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "session",
		Description:              "Session management utilities (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "reboot",
				Description: "Restart the bot process",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shutdown",
				Description: "Shut down the bot process",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "status",
				Description: "Toggle the rotating status",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "visible",
						Description: "Whether the status rotates",
						Required:    true,
					},
				},
			},
		},
	}, handleSession)
}

func handleSession(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}

	switch *data.SubCommandName {
	case "reboot":
		sys.LogWarn(sys.MsgSessionRebootCommanded, event.User().Username, event.User().ID)
		respond(event, sys.MsgSessionRebooting, true)
		sys.RestartRequested = true
		terminateSelf(1500 * time.Millisecond)
	case "shutdown":
		sys.LogWarn(sys.MsgSessionShutdownCommanded, event.User().Username, event.User().ID)
		respond(event, sys.MsgSessionShuttingDown, true)
		terminateSelf(time.Second)
	case "status":
		visible := data.Bool("visible")
		value, content := "false", sys.MsgSessionStatusDisabled
		if visible {
			value, content = "true", sys.MsgSessionStatusEnabled
		}
		if err := sys.SetBotConfig(sys.AppContext, proc.ConfigKeyStatusVisible, value); err != nil {
			sys.LogError(sys.MsgGenericError, err)
			content = sys.MsgSessionStatusFail
		}
		respond(event, content, true)
	default:
		sys.LogWarn("Unknown session subcommand: %s", *data.SubCommandName)
	}
}

// terminateSelf gives the reply time to land, then signals the main loop.
func terminateSelf(after time.Duration) {
	time.Sleep(after)
	_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
}
