package proc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/lounge/sys"
)

var (
	// ErrNotManaged is returned for channels the controller does not track.
	ErrNotManaged = errors.New("channel is not a managed room")
	// ErrBlacklisted is returned when a blacklisted member would become a host.
	ErrBlacklisted = errors.New("member is blacklisted from voice rooms")
)

const rollbackTimeout = 15 * time.Second

const (
	everyoneAllow = discord.PermissionConnect | discord.PermissionSpeak
	everyoneDeny  = discord.PermissionStream | discord.PermissionUseEmbeddedActivities |
		discord.PermissionSendMessages | discord.PermissionUseSoundboard

	hostAllow = discord.PermissionConnect | discord.PermissionManageChannels |
		discord.PermissionMoveMembers | discord.PermissionSpeak
	hostDeny = discord.PermissionStream | discord.PermissionUseEmbeddedActivities

	selfAllow = discord.PermissionViewChannel | discord.PermissionConnect |
		discord.PermissionManageChannels | discord.PermissionMoveMembers

	moderatorAllow = discord.PermissionViewChannel | discord.PermissionConnect | discord.PermissionSpeak |
		discord.PermissionStream | discord.PermissionMoveMembers | discord.PermissionMuteMembers |
		discord.PermissionDeafenMembers | discord.PermissionManageChannels

	adminAllow = moderatorAllow | discord.PermissionUseVAD | discord.PermissionPrioritySpeaker |
		discord.PermissionSendMessages | discord.PermissionUseEmbeddedActivities | discord.PermissionUseSoundboard
)

// RoomSettings configures a Controller.
type RoomSettings struct {
	LobbyID         snowflake.ID
	CategoryID      snowflake.ID
	Cooldown        time.Duration
	ModeratorRoleID snowflake.ID
	AdminID         snowflake.ID
	Blacklist       Blacklist
	MoveRetries     int
	MoveDelay       time.Duration
}

// SettingsFromConfig converts the loaded room configuration.
func SettingsFromConfig(rc sys.RoomConfig) RoomSettings {
	return RoomSettings{
		LobbyID:         rc.LobbyID,
		CategoryID:      rc.CategoryID,
		Cooldown:        rc.Cooldown,
		ModeratorRoleID: rc.ModeratorRoleID,
		AdminID:         rc.AdminID,
		Blacklist:       NewBlacklist(rc.BlacklistUsers, rc.BlacklistRoles),
		MoveRetries:     rc.MoveRetries,
		MoveDelay:       rc.MoveDelay,
	}
}

// Controller owns the room lifecycle: the host cache, the cooldowns, and every
// platform call that creates, moves into or deletes a room.
type Controller struct {
	settings  RoomSettings
	platform  Platform
	store     RoomStore
	hosts     *hostCache
	cooldowns *Cooldowns
}

func NewController(settings RoomSettings, platform Platform, store RoomStore) *Controller {
	if settings.MoveRetries < 1 {
		settings.MoveRetries = 3
	}
	if settings.Blacklist == nil {
		settings.Blacklist = Blacklist{}
	}
	return &Controller{
		settings:  settings,
		platform:  platform,
		store:     store,
		hosts:     newHostCache(),
		cooldowns: NewCooldowns(),
	}
}

func (c *Controller) Settings() RoomSettings { return c.settings }

// Category is the category rooms are created in: the configured one, or the lobby's parent.
func (c *Controller) Category() snowflake.ID { return c.parentCategory() }

// Hydrate loads persisted rooms into the cache if that has not happened yet.
func (c *Controller) Hydrate(ctx context.Context) (int, error) {
	return c.hosts.hydrate(ctx, c.store)
}

func (c *Controller) ensureHydrated(ctx context.Context) {
	if _, err := c.Hydrate(ctx); err != nil {
		sys.LogRoomsWarn(sys.MsgRoomsHydrateFail, err)
	}
}

// Stop cancels pending cooldown timers.
func (c *Controller) Stop() {
	c.cooldowns.Stop()
}

// HandleEvent plans and executes one voice state change.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) error {
	if ev.UserID == c.platform.SelfID() {
		return nil
	}
	c.ensureHydrated(ctx)

	effects := Plan(ev, c.Snapshot(ev))
	if len(effects) == 0 {
		return nil
	}
	return c.Execute(ctx, ev, effects)
}

// Snapshot collects the cache and platform state Plan needs for ev.
func (c *Controller) Snapshot(ev Event) Snapshot {
	snap := Snapshot{
		LobbyID:     c.settings.LobbyID,
		ParentID:    c.parentCategory(),
		Hosts:       make(map[snowflake.ID]snowflake.ID, 2),
		Blacklisted: IsBlacklisted(ev.UserID, ev.RoleIDs, c.settings.Blacklist),
	}

	for _, ch := range []snowflake.ID{ev.OldChannelID, ev.NewChannelID} {
		if ch == 0 {
			continue
		}
		if r, ok := c.hosts.get(ch); ok {
			snap.Hosts[ch] = r.HostID
		}
	}

	if ev.OldChannelID != 0 {
		snap.OldExists = c.platform.ChannelExists(ev.OldChannelID)
		if snap.OldExists {
			snap.OldOccupants = c.platform.Occupants(ev.GuildID, ev.OldChannelID)
		}
	}

	if ev.NewChannelID != 0 && ev.NewChannelID == c.settings.LobbyID {
		snap.CooldownLeft = c.cooldowns.Remaining(ev.UserID, c.settings.Cooldown)
	}
	return snap
}

func (c *Controller) parentCategory() snowflake.ID {
	if c.settings.CategoryID != 0 {
		return c.settings.CategoryID
	}
	parent, _ := c.platform.ChannelParent(c.settings.LobbyID)
	return parent
}

// Execute runs effects in order. A failing effect does not stop the ones after
// it; all failures are returned together.
func (c *Controller) Execute(ctx context.Context, ev Event, effects []Effect) error {
	var errs []error
	for _, e := range effects {
		if err := c.apply(ctx, ev, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) apply(ctx context.Context, ev Event, e Effect) error {
	switch e.Kind {
	case EffectDisconnect:
		return c.disconnect(ctx, ev.GuildID, ev.UserID)
	case EffectReassertBlacklist:
		return ApplyTo(ctx, c.platform, e.ChannelID, c.settings.Blacklist)
	case EffectNotifyCooldown:
		c.notifyCooldown(ctx, ev.UserID, e.Wait)
		return nil
	case EffectCreateRoom:
		return c.createRoom(ctx, ev, e)
	case EffectDeleteRoom:
		return c.deleteRoom(ctx, e.ChannelID, e.Reason)
	case EffectPurgeRoom:
		return c.purgeRoom(ctx, e.ChannelID)
	}
	return fmt.Errorf("unknown effect %s", e.Kind)
}

func (c *Controller) disconnect(ctx context.Context, guildID, userID snowflake.ID) error {
	err := c.platform.MoveMember(ctx, guildID, userID, nil)
	if err != nil && !errors.Is(err, ErrGone) {
		return err
	}
	sys.LogRooms(sys.MsgRoomsEjected, userID, guildID)
	return nil
}

// notifyCooldown is best effort; users with closed DMs are only logged.
func (c *Controller) notifyCooldown(ctx context.Context, userID snowflake.ID, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	sys.LogRooms(sys.MsgRoomsCooldownHit, userID, wait.Round(time.Second))
	if err := c.platform.SendDirectNotice(ctx, userID, fmt.Sprintf(sys.MsgRoomsCooldownNotice, seconds)); err != nil {
		sys.LogRoomsWarn(sys.MsgRoomsNoticeFail, userID, err)
	}
}

func (c *Controller) createRoom(ctx context.Context, ev Event, e Effect) error {
	// The cooldown is claimed here, not at planning time, so two concurrent
	// lobby joins by one member cannot both get past it.
	if !c.cooldowns.TryAcquire(ev.UserID, c.settings.Cooldown) {
		c.notifyCooldown(ctx, ev.UserID, c.cooldowns.Remaining(ev.UserID, c.settings.Cooldown))
		return c.disconnect(ctx, ev.GuildID, ev.UserID)
	}

	if e.ParentID == 0 {
		sys.LogRoomsWarn(sys.MsgRoomsLobbyNoParent, c.settings.LobbyID)
	}

	channelID, err := c.platform.CreateVoiceChannel(ctx, ev.GuildID, e.Name, e.ParentID, c.baselineOverwrites(ev.GuildID, ev.UserID))
	if err != nil {
		c.cooldowns.Release(ev.UserID)
		sys.LogRoomsError(sys.MsgRoomsCreateFail, ev.UserID, err)
		return err
	}

	if err := ApplyTo(ctx, c.platform, channelID, c.settings.Blacklist); err != nil {
		c.rollback(ctx, ev.UserID, channelID, err)
		return err
	}

	target := channelID
	err = RetryAction(ctx,
		func(ctx context.Context) error {
			err := c.platform.MoveMember(ctx, ev.GuildID, ev.UserID, &target)
			if errors.Is(err, ErrGone) {
				// The member left voice; no amount of retrying brings them back.
				return Permanent(err)
			}
			return err
		},
		func(ctx context.Context) bool {
			cur, ok := c.platform.MemberVoiceChannel(ev.GuildID, ev.UserID)
			return ok && cur == channelID
		},
		c.settings.MoveRetries, c.settings.MoveDelay,
	)
	if err != nil {
		c.rollback(ctx, ev.UserID, channelID, err)
		return err
	}

	room := ManagedRoom{ChannelID: channelID, GuildID: ev.GuildID, HostID: ev.UserID, CreatedAt: time.Now()}
	c.hosts.put(room)
	if err := c.store.SetRoomHost(ctx, ev.GuildID, channelID, ev.UserID); err != nil {
		sys.LogRoomsError(sys.MsgRoomsStoreFail, channelID, err)
	}
	sys.LogRooms(sys.MsgRoomsCreated, channelID, ev.UserID)

	// The member may have left between the move check and the cache write,
	// in which case their leave event saw an unmanaged channel.
	if cur, ok := c.platform.MemberVoiceChannel(ev.GuildID, ev.UserID); !ok || cur != channelID {
		return c.deleteRoom(ctx, channelID, sys.MsgRoomsReasonHostLeft)
	}
	return nil
}

// rollback deletes a half-created room. The member is left where they are.
func (c *Controller) rollback(ctx context.Context, userID, channelID snowflake.ID, cause error) {
	c.cooldowns.Release(userID)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := c.deleteChannel(rctx, channelID); err != nil {
		sys.LogRoomsError(sys.MsgRoomsRollbackFail, channelID, err)
		return
	}
	sys.LogRoomsWarn(sys.MsgRoomsRolledBack, channelID, userID, cause)
}

// deleteChannel deletes with retries. A channel that is already gone counts as deleted.
func (c *Controller) deleteChannel(ctx context.Context, channelID snowflake.ID) error {
	deleted := false
	return RetryAction(ctx,
		func(ctx context.Context) error {
			err := c.platform.DeleteChannel(ctx, channelID)
			if err == nil || errors.Is(err, ErrGone) {
				deleted = true
				return nil
			}
			return err
		},
		func(context.Context) bool { return deleted },
		c.settings.MoveRetries, c.settings.MoveDelay,
	)
}

// deleteRoom removes a managed room. Whoever takes the room out of the cache
// performs the delete; concurrent handlers that lose the race do nothing.
func (c *Controller) deleteRoom(ctx context.Context, channelID snowflake.ID, reason string) error {
	room, ok := c.hosts.take(channelID)
	if !ok {
		return nil
	}

	if err := c.deleteChannel(ctx, channelID); err != nil {
		c.hosts.put(room)
		sys.LogRoomsError(sys.MsgRoomsDeleteFail, channelID, err)
		return err
	}

	if err := c.store.DeleteRoom(ctx, channelID); err != nil {
		sys.LogRoomsError(sys.MsgRoomsStoreFail, channelID, err)
		return err
	}
	sys.LogRooms(sys.MsgRoomsDeleted, channelID, reason)
	return nil
}

// purgeRoom forgets a room whose channel disappeared out of band.
func (c *Controller) purgeRoom(ctx context.Context, channelID snowflake.ID) error {
	c.hosts.take(channelID)
	if err := c.store.DeleteRoom(ctx, channelID); err != nil {
		sys.LogRoomsError(sys.MsgRoomsStoreFail, channelID, err)
		return err
	}
	sys.LogRooms(sys.MsgRoomsPurged, channelID)
	return nil
}

func (c *Controller) baselineOverwrites(guildID, hostID snowflake.ID) []discord.PermissionOverwrite {
	type entry struct {
		id          Identity
		allow, deny discord.Permissions
	}
	entries := []entry{
		{id: RoleIdentity(guildID), allow: everyoneAllow, deny: everyoneDeny},
		{id: UserIdentity(hostID), allow: hostAllow, deny: hostDeny},
		{id: UserIdentity(c.platform.SelfID()), allow: selfAllow},
	}
	if c.settings.ModeratorRoleID != 0 {
		entries = append(entries, entry{id: RoleIdentity(c.settings.ModeratorRoleID), allow: moderatorAllow})
	}
	if c.settings.AdminID != 0 {
		entries = append(entries, entry{id: UserIdentity(c.settings.AdminID), allow: adminAllow})
	}

	var out []discord.PermissionOverwrite
	seen := make(map[snowflake.ID]bool, len(entries))
	for _, e := range entries {
		if _, banned := c.settings.Blacklist[e.id]; banned || seen[e.id.ID] {
			continue
		}
		seen[e.id.ID] = true
		out = append(out, e.id.Overwrite(e.allow, e.deny))
	}
	for id, deny := range OverwritesFor(c.settings.Blacklist) {
		if seen[id.ID] {
			continue
		}
		seen[id.ID] = true
		out = append(out, id.Overwrite(0, deny))
	}
	return out
}

// GetHost returns the recorded host of a managed room.
func (c *Controller) GetHost(ctx context.Context, channelID snowflake.ID) (snowflake.ID, bool) {
	c.ensureHydrated(ctx)
	r, ok := c.hosts.get(channelID)
	return r.HostID, ok
}

// GetRoom returns a managed room by channel id.
func (c *Controller) GetRoom(ctx context.Context, channelID snowflake.ID) (ManagedRoom, bool) {
	c.ensureHydrated(ctx)
	return c.hosts.get(channelID)
}

// SetHost hands a room to userID, whose roles are roleIDs. Blacklisted members
// cannot become hosts. The new host gets the host overwrite, the previous host
// loses every allow it held, and the blacklist is re-asserted.
func (c *Controller) SetHost(ctx context.Context, channelID, userID snowflake.ID, roleIDs []snowflake.ID) error {
	if IsBlacklisted(userID, roleIDs, c.settings.Blacklist) {
		return ErrBlacklisted
	}

	c.ensureHydrated(ctx)
	room, ok := c.hosts.get(channelID)
	if !ok {
		return ErrNotManaged
	}
	if room.HostID == userID {
		return nil
	}

	if err := c.platform.SetOverwrite(ctx, channelID, UserIdentity(userID).Overwrite(hostAllow, hostDeny)); err != nil {
		return err
	}
	if room.HostID != 0 {
		// No allows: a guest's Connect comes from @everyone, so role denies still bite.
		demoted := UserIdentity(room.HostID).Overwrite(0, hostDeny)
		if err := c.platform.SetOverwrite(ctx, channelID, demoted); err != nil && !errors.Is(err, ErrGone) {
			return err
		}
	}
	if err := ApplyTo(ctx, c.platform, channelID, c.settings.Blacklist); err != nil {
		sys.LogRoomsError(sys.MsgRoomsReassertFail, channelID, err)
		return err
	}

	if _, ok := c.hosts.setHost(channelID, userID); !ok {
		// Deleted while we were updating overwrites.
		return ErrNotManaged
	}
	if err := c.store.SetRoomHost(ctx, room.GuildID, channelID, userID); err != nil {
		sys.LogRoomsError(sys.MsgRoomsStoreFail, channelID, err)
		return err
	}
	sys.LogRooms(sys.MsgRoomsHostChanged, channelID, userID)
	return nil
}

// ListManagedRooms returns every tracked room, oldest first.
func (c *Controller) ListManagedRooms(ctx context.Context) []ManagedRoom {
	c.ensureHydrated(ctx)
	return c.hosts.list()
}

// SweepEmptyRooms deletes every empty, deletable voice channel in categoryID
// except the lobby and ignoreIDs, and returns how many were deleted. Tracked
// rooms of the guild whose channel no longer exists are purged on the way.
func (c *Controller) SweepEmptyRooms(ctx context.Context, guildID, categoryID snowflake.ID, ignoreIDs []snowflake.ID) (int, error) {
	c.ensureHydrated(ctx)

	ignore := make(map[snowflake.ID]bool, len(ignoreIDs)+1)
	ignore[c.settings.LobbyID] = true
	for _, id := range ignoreIDs {
		ignore[id] = true
	}

	var errs []error
	for _, r := range c.hosts.list() {
		if r.GuildID == guildID && !c.platform.ChannelExists(r.ChannelID) {
			if err := c.purgeRoom(ctx, r.ChannelID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	count := 0
	for _, channelID := range c.platform.VoiceChannelsIn(guildID, categoryID) {
		if ignore[channelID] || c.platform.Occupants(guildID, channelID) > 0 || !c.platform.CanManage(channelID) {
			continue
		}

		if _, managed := c.hosts.get(channelID); managed {
			if err := c.deleteRoom(ctx, channelID, sys.MsgRoomsReasonSweep); err != nil {
				errs = append(errs, err)
				continue
			}
		} else {
			if err := c.deleteChannel(ctx, channelID); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := c.store.DeleteRoom(ctx, channelID); err != nil {
				errs = append(errs, err)
			}
			sys.LogRooms(sys.MsgRoomsDeleted, channelID, sys.MsgRoomsReasonSweep)
		}
		count++
	}

	if count > 0 {
		sys.LogRooms(sys.MsgRoomsSwept, count, categoryID)
	}
	return count, errors.Join(errs...)
}
