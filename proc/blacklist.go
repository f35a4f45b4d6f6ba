package proc

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// BlacklistDeny is denied to every blacklisted identity on every managed room.
const BlacklistDeny = discord.PermissionConnect |
	discord.PermissionSpeak |
	discord.PermissionStream |
	discord.PermissionUseEmbeddedActivities |
	discord.PermissionSendMessages

type IdentityKind int

const (
	IdentityUser IdentityKind = iota
	IdentityRole
)

// Identity is a user or role that a permission overwrite can target.
type Identity struct {
	ID   snowflake.ID
	Kind IdentityKind
}

func UserIdentity(id snowflake.ID) Identity { return Identity{ID: id, Kind: IdentityUser} }
func RoleIdentity(id snowflake.ID) Identity { return Identity{ID: id, Kind: IdentityRole} }

func (i Identity) String() string {
	if i.Kind == IdentityRole {
		return "role:" + i.ID.String()
	}
	return "user:" + i.ID.String()
}

// Overwrite builds the platform overwrite for this identity.
func (i Identity) Overwrite(allow, deny discord.Permissions) discord.PermissionOverwrite {
	if i.Kind == IdentityRole {
		return discord.RolePermissionOverwrite{RoleID: i.ID, Allow: allow, Deny: deny}
	}
	return discord.MemberPermissionOverwrite{UserID: i.ID, Allow: allow, Deny: deny}
}

// Blacklist is the static set of identities kept out of managed rooms.
type Blacklist map[Identity]struct{}

func NewBlacklist(users, roles []snowflake.ID) Blacklist {
	b := make(Blacklist, len(users)+len(roles))
	for _, id := range users {
		b[UserIdentity(id)] = struct{}{}
	}
	for _, id := range roles {
		b[RoleIdentity(id)] = struct{}{}
	}
	return b
}

// OverwritesFor returns the deny set each target must carry.
func OverwritesFor(targets Blacklist) map[Identity]discord.Permissions {
	out := make(map[Identity]discord.Permissions, len(targets))
	for id := range targets {
		out[id] = BlacklistDeny
	}
	return out
}

// ApplyTo writes every deny overwrite on channelID. Targets that no longer
// resolve are skipped; any other failure stops and is returned.
func ApplyTo(ctx context.Context, p Platform, channelID snowflake.ID, targets Blacklist) error {
	for id, deny := range OverwritesFor(targets) {
		if err := p.SetOverwrite(ctx, channelID, id.Overwrite(0, deny)); err != nil {
			if errors.Is(err, ErrGone) {
				continue
			}
			return fmt.Errorf("deny %s on %s: %w", id, channelID, err)
		}
	}
	return nil
}

// IsBlacklisted reports whether the user, or any role they hold, is a target.
func IsBlacklisted(userID snowflake.ID, roleIDs []snowflake.ID, targets Blacklist) bool {
	if _, ok := targets[UserIdentity(userID)]; ok {
		return true
	}
	for _, r := range roleIDs {
		if _, ok := targets[RoleIdentity(r)]; ok {
			return true
		}
	}
	return false
}
