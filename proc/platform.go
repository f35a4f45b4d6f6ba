package proc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// ErrGone means the channel, member, role or overwrite no longer exists.
var ErrGone = errors.New("resource no longer exists")

// Platform is the subset of Discord the room controller needs.
type Platform interface {
	CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []discord.PermissionOverwrite) (snowflake.ID, error)
	// MoveMember moves userID into channelID, or disconnects them when channelID is nil.
	MoveMember(ctx context.Context, guildID, userID snowflake.ID, channelID *snowflake.ID) error
	DeleteChannel(ctx context.Context, channelID snowflake.ID) error
	SetOverwrite(ctx context.Context, channelID snowflake.ID, overwrite discord.PermissionOverwrite) error
	SendDirectNotice(ctx context.Context, userID snowflake.ID, text string) error

	SelfID() snowflake.ID
	ChannelExists(channelID snowflake.ID) bool
	ChannelParent(channelID snowflake.ID) (snowflake.ID, bool)
	MemberVoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, bool)
	Occupants(guildID, channelID snowflake.ID) int
	VoiceChannelsIn(guildID, categoryID snowflake.ID) []snowflake.ID
	CanManage(channelID snowflake.ID) bool
}

// Discord JSON error codes the adapter cares about.
const (
	codeUnknownChannel   = 10003
	codeUnknownMember    = 10007
	codeUnknownOverwrite = 10009
	codeUnknownRole      = 10011
	codeNotInVoice       = 40032
	codeMissingAccess    = 50001
	codeMissingPerms     = 50013
)

// classifyRestError maps disgo REST errors onto ErrGone and Permanent.
func classifyRestError(err error) error {
	if err == nil {
		return nil
	}

	var restErr *rest.Error
	if !errors.As(err, &restErr) {
		return err
	}

	switch int(restErr.Code) {
	case codeUnknownChannel, codeUnknownMember, codeUnknownOverwrite, codeUnknownRole, codeNotInVoice:
		return fmt.Errorf("%w: %v", ErrGone, err)
	case codeMissingAccess, codeMissingPerms:
		return Permanent(err)
	}

	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrGone, err)
		case http.StatusForbidden, http.StatusBadRequest:
			return Permanent(err)
		}
	}
	return err
}

// DisgoPlatform implements Platform on top of a disgo client. REST mutations
// share one token bucket; cache reads are not throttled.
type DisgoPlatform struct {
	client  *bot.Client
	limiter *rate.Limiter
}

func NewDisgoPlatform(client *bot.Client, perSecond float64) *DisgoPlatform {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &DisgoPlatform{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (p *DisgoPlatform) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *DisgoPlatform) CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []discord.PermissionOverwrite) (snowflake.ID, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	ch, err := p.client.Rest.CreateGuildChannel(guildID, discord.GuildVoiceChannelCreate{
		Name:                 name,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	}, rest.WithCtx(ctx))
	if err != nil {
		return 0, classifyRestError(err)
	}
	return ch.ID(), nil
}

func (p *DisgoPlatform) MoveMember(ctx context.Context, guildID, userID snowflake.ID, channelID *snowflake.ID) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	// disgo's MemberUpdate omits a nil channel_id, so disconnects need an explicit null.
	route := rest.NewEndpoint(http.MethodPatch, "/guilds/{guild.id}/members/{user.id}")
	body := struct {
		ChannelID *snowflake.ID `json:"channel_id"`
	}{ChannelID: channelID}
	return classifyRestError(p.client.Rest.Do(route.Compile(nil, guildID.String(), userID.String()), body, nil, rest.WithCtx(ctx)))
}

func (p *DisgoPlatform) DeleteChannel(ctx context.Context, channelID snowflake.ID) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return classifyRestError(p.client.Rest.DeleteChannel(channelID, rest.WithCtx(ctx)))
}

func (p *DisgoPlatform) SetOverwrite(ctx context.Context, channelID snowflake.ID, overwrite discord.PermissionOverwrite) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/{channel.id}/permissions/{overwrite.id}")
	return classifyRestError(p.client.Rest.Do(route.Compile(nil, channelID.String(), overwrite.ID().String()), overwrite, nil, rest.WithCtx(ctx)))
}

func (p *DisgoPlatform) SendDirectNotice(ctx context.Context, userID snowflake.ID, text string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	dm, err := p.client.Rest.CreateDMChannel(userID, rest.WithCtx(ctx))
	if err != nil {
		return classifyRestError(err)
	}
	_, err = p.client.Rest.CreateMessage(dm.ID(), discord.NewMessageCreate().
		WithContent(text), rest.WithCtx(ctx))
	return classifyRestError(err)
}

func (p *DisgoPlatform) SelfID() snowflake.ID {
	return p.client.ID()
}

func (p *DisgoPlatform) ChannelExists(channelID snowflake.ID) bool {
	_, ok := p.client.Caches.Channel(channelID)
	return ok
}

func (p *DisgoPlatform) ChannelParent(channelID snowflake.ID) (snowflake.ID, bool) {
	ch, ok := p.client.Caches.Channel(channelID)
	if !ok || ch.ParentID() == nil {
		return 0, false
	}
	return *ch.ParentID(), true
}

func (p *DisgoPlatform) MemberVoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := p.client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

func (p *DisgoPlatform) Occupants(guildID, channelID snowflake.ID) int {
	n := 0
	for state := range p.client.Caches.VoiceStates(guildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID {
			n++
		}
	}
	return n
}

func (p *DisgoPlatform) VoiceChannelsIn(guildID, categoryID snowflake.ID) []snowflake.ID {
	var ids []snowflake.ID
	for ch := range p.client.Caches.Channels() {
		if ch.GuildID() != guildID || ch.Type() != discord.ChannelTypeGuildVoice {
			continue
		}
		if ch.ParentID() != nil && *ch.ParentID() == categoryID {
			ids = append(ids, ch.ID())
		}
	}
	return ids
}

// CanManage reports whether the bot holds ManageChannels on channelID.
func (p *DisgoPlatform) CanManage(channelID snowflake.ID) bool {
	ch, ok := p.client.Caches.Channel(channelID)
	if !ok {
		return false
	}
	self, ok := p.client.Caches.Member(ch.GuildID(), p.client.ID())
	if !ok {
		return false
	}
	return p.client.Caches.MemberPermissionsInChannel(ch, self).Has(discord.PermissionManageChannels)
}
