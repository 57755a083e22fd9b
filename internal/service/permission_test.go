package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
	p "github.com/victorivanov/rolesync/internal/permissions"
	"github.com/victorivanov/rolesync/internal/presence"
)

func TestResolveEffectivePermissions(t *testing.T) {
	env := newTestEnv(t)
	everyone := models.Role{ID: "e", Permissions: map[string]bool{"viewChannels": true}}
	support := models.Role{ID: "support", Permissions: map[string]bool{"sendMessages": true}}
	member := &models.Member{UID: "u", RoleIDs: []string{"support", "gone"}}

	res := env.perms.ResolveEffectivePermissions(member, []models.Role{everyone, support}, &everyone)
	assert.Equal(t, p.Of(p.ViewChannel, p.SendMessages), res.Set)
	assert.Equal(t, res.Set.Bits(), res.Bits)

	owner := &models.Member{UID: "o", BaseRole: models.BaseRoleOwner}
	assert.Equal(t, p.All, env.perms.ResolveEffectivePermissions(owner, nil, nil).Set)
}

func TestClassifyPresence(t *testing.T) {
	env := newTestEnv(t)
	yes := true
	recent := time.Now().Add(-30 * time.Minute)

	assert.Equal(t, presence.Online, env.perms.ClassifyPresence([]presence.Signal{{Online: &yes}}))
	assert.Equal(t, presence.Idle, env.perms.ClassifyPresence([]presence.Signal{{LastActive: &recent}}))
	assert.Equal(t, presence.Offline, env.perms.ClassifyPresence(nil))
}

func TestEffectivePermissions(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	view, err := env.perms.EffectivePermissions(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "everyone", view.DefaultRoleID)
	assert.True(t, view.Permissions["kick_members"])
	assert.True(t, view.Permissions["view_channel"])
	assert.True(t, view.Stale, "never computed")
	assert.Nil(t, view.Cached.ComputedAt)

	_, err = env.perms.RecomputeForMember(ctx, "s1", "alice")
	require.NoError(t, err)
	view, err = env.perms.EffectivePermissions(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.False(t, view.Stale)
	assert.Equal(t, view.PermissionBits, view.Cached.PermissionBits)

	_, err = env.perms.EffectivePermissions(ctx, "s1", "stranger")
	requireCode(t, err, ErrNotFound, "NOT_FOUND")
	_, err = env.perms.EffectivePermissions(ctx, "nope", "alice")
	requireCode(t, err, ErrNotFound, "NOT_FOUND")
}

func TestRequireServerPermission(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	assert.NoError(t, env.perms.RequireServerPermission(ctx, "s1", "owner", p.BanMembers))
	assert.NoError(t, env.perms.RequireServerPermission(ctx, "s1", "alice", p.KickMembers))
	assert.NoError(t, env.perms.RequireServerPermission(ctx, "s1", "carol", p.ManageServer))

	err := env.perms.RequireServerPermission(ctx, "s1", "bob", p.KickMembers)
	requireCode(t, err, ErrForbidden, "MISSING_PERMISSIONS")
	err = env.perms.RequireServerPermission(ctx, "s1", "carol", p.BanMembers)
	requireCode(t, err, ErrForbidden, "MISSING_PERMISSIONS")
	err = env.perms.RequireServerPermission(ctx, "s1", "stranger", p.ViewChannel)
	requireCode(t, err, ErrForbidden, "FORBIDDEN")
	err = env.perms.RequireServerPermission(ctx, "missing", "owner", p.ViewChannel)
	requireCode(t, err, ErrNotFound, "NOT_FOUND")
}

func TestRecomputeAll(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	res, err := env.perms.RecomputeAll(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Updated)
	assert.Equal(t, p.Of(p.ViewChannel, p.AdminOverride), env.cached(t, "carol"))

	_, err = env.perms.RecomputeAll(ctx, "missing")
	requireCode(t, err, ErrNotFound, "NOT_FOUND")
}

func TestRecomputeAll_KickedMidRunStaysGone(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()
	bobPath := database.MemberPath("s1", "bob")

	// bob is kicked after the run listed him but before his cache lands
	var once sync.Once
	env.store.beforeBatch(func(ms []docstore.Mutation) {
		for _, m := range ms {
			if m.Path == bobPath {
				once.Do(func() { require.NoError(t, env.store.Store.Delete(ctx, bobPath)) })
			}
		}
	})

	_, err := env.perms.RecomputeAll(ctx, "s1")
	require.NoError(t, err)

	bob, err := env.repos.Members.GetByServerAndUser(ctx, "s1", "bob")
	require.NoError(t, err)
	assert.Nil(t, bob, "cache write must not recreate the member")
	err = env.perms.RequireServerPermission(ctx, "s1", "bob", p.ViewChannel)
	requireCode(t, err, ErrForbidden, "FORBIDDEN")
	assert.Equal(t, p.Of(p.ViewChannel, p.KickMembers, p.ManageRoles), env.cached(t, "alice"))
}
