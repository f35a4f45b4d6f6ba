package proc

import (
	"context"
	"errors"
	"testing"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverwritesFor(t *testing.T) {
	bl := NewBlacklist([]snowflake.ID{1}, []snowflake.ID{2})

	got := OverwritesFor(bl)
	require.Len(t, got, 2)
	for id, deny := range got {
		assert.Equal(t, BlacklistDeny, deny, id.String())
		assert.True(t, deny.Has(discord.PermissionConnect))
	}

	assert.Empty(t, OverwritesFor(Blacklist{}))
}

func TestIdentityOverwrite(t *testing.T) {
	role := RoleIdentity(5).Overwrite(0, BlacklistDeny)
	ro, ok := role.(discord.RolePermissionOverwrite)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(5), ro.RoleID)
	assert.Equal(t, BlacklistDeny, ro.Deny)

	user := UserIdentity(6).Overwrite(discord.PermissionConnect, 0)
	mo, ok := user.(discord.MemberPermissionOverwrite)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(6), mo.UserID)
	assert.Equal(t, discord.PermissionConnect, mo.Allow)
}

func TestIsBlacklisted(t *testing.T) {
	bl := NewBlacklist([]snowflake.ID{10}, []snowflake.ID{20})

	assert.True(t, IsBlacklisted(10, nil, bl))
	assert.True(t, IsBlacklisted(11, []snowflake.ID{30, 20}, bl))
	assert.False(t, IsBlacklisted(11, []snowflake.ID{30}, bl))
	// A user id that happens to equal a blacklisted role id is not a match.
	assert.False(t, IsBlacklisted(20, nil, bl))
}

func TestApplyTo(t *testing.T) {
	channel := snowflake.ID(500)

	t.Run("writes every deny", func(t *testing.T) {
		p := newFakePlatform()
		bl := NewBlacklist([]snowflake.ID{1, 2}, []snowflake.ID{3})

		require.NoError(t, ApplyTo(context.Background(), p, channel, bl))
		assert.Len(t, p.overwritesOn(channel), 3)
	})

	t.Run("swallows targets that are gone", func(t *testing.T) {
		p := newFakePlatform()
		p.overwriteErr[3] = ErrGone
		bl := NewBlacklist([]snowflake.ID{1}, []snowflake.ID{3})

		require.NoError(t, ApplyTo(context.Background(), p, channel, bl))
		assert.Len(t, p.overwritesOn(channel), 1)
	})

	t.Run("propagates other failures", func(t *testing.T) {
		p := newFakePlatform()
		boom := errors.New("missing permissions")
		p.overwriteErr[1] = boom
		bl := NewBlacklist([]snowflake.ID{1}, nil)

		err := ApplyTo(context.Background(), p, channel, bl)
		assert.ErrorIs(t, err, boom)
	})
}
