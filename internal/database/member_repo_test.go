package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

func TestMemberRepo_CreateGet(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "u1", "r1", "r2")

	got, err := repos.Members.GetByServerAndUser(ctx, "s1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, "s1", got.ServerID)
	assert.Equal(t, models.BaseRoleMember, got.BaseRole)
	assert.Equal(t, []string{"r1", "r2"}, got.RoleIDs)
	assert.Nil(t, got.PermissionsComputedAt)
}

func TestMemberRepo_NotFound(t *testing.T) {
	repos, _ := testRepos(t)
	got, err := repos.Members.GetByServerAndUser(context.Background(), "s1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemberRepo_RoleEdits(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "u1")

	require.NoError(t, repos.Members.AddRole(ctx, "s1", "u1", "r1"))
	require.NoError(t, repos.Members.AddRole(ctx, "s1", "u1", "r1"))
	require.NoError(t, repos.Members.AddRole(ctx, "s1", "u1", "r2"))
	got, _ := repos.Members.GetByServerAndUser(ctx, "s1", "u1")
	assert.Equal(t, []string{"r1", "r2"}, got.RoleIDs)

	require.NoError(t, repos.Members.RemoveRole(ctx, "s1", "u1", "r1"))
	got, _ = repos.Members.GetByServerAndUser(ctx, "s1", "u1")
	assert.Equal(t, []string{"r2"}, got.RoleIDs)

	require.NoError(t, repos.Members.SetRoles(ctx, "s1", "u1", []string{"r3"}))
	require.NoError(t, repos.Members.SetBaseRole(ctx, "s1", "u1", models.BaseRoleAdmin))
	nick := "zed"
	require.NoError(t, repos.Members.SetNickname(ctx, "s1", "u1", &nick))
	got, _ = repos.Members.GetByServerAndUser(ctx, "s1", "u1")
	assert.Equal(t, []string{"r3"}, got.RoleIDs)
	assert.Equal(t, models.BaseRoleAdmin, got.BaseRole)
	require.NotNil(t, got.Nickname)
	assert.Equal(t, "zed", *got.Nickname)

	require.NoError(t, repos.Members.SetNickname(ctx, "s1", "u1", nil))
	got, _ = repos.Members.GetByServerAndUser(ctx, "s1", "u1")
	assert.Nil(t, got.Nickname)
}

func TestMemberRepo_GetByRole(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "a", "mod")
	createTestMember(t, repos, "s1", "b", "vip")
	createTestMember(t, repos, "s1", "c", "mod", "vip")
	createTestMember(t, repos, "s2", "d", "mod")

	mods, err := repos.Members.GetByRole(ctx, "s1", "mod")
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "a", mods[0].UID)
	assert.Equal(t, "c", mods[1].UID)

	all, err := repos.Members.GetByServerID(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemberRepo_WritePermissions(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "a", "mod")
	createTestMember(t, repos, "s1", "b")
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	err := repos.Members.WritePermissions(ctx, "s1", []PermissionUpdate{
		{UID: "a", Permissions: map[string]bool{"kick_members": true}, Bits: 1 << 10, ComputedAt: at},
		{UID: "b", Permissions: map[string]bool{"kick_members": false}, Bits: 0, ComputedAt: at},
	})
	require.NoError(t, err)

	a, _ := repos.Members.GetByServerAndUser(ctx, "s1", "a")
	assert.Equal(t, int64(1<<10), a.PermissionBits)
	assert.Equal(t, map[string]bool{"kick_members": true}, a.Permissions)
	require.NotNil(t, a.PermissionsComputedAt)
	assert.True(t, at.Equal(*a.PermissionsComputedAt))
	assert.Equal(t, []string{"mod"}, a.RoleIDs, "cache writes leave roles alone")

	require.NoError(t, repos.Members.WritePermissions(ctx, "s1", nil))
}

func TestMemberRepo_PruneRole(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "a", "mod", "vip")
	createTestMember(t, repos, "s1", "b", "mod")

	require.NoError(t, repos.Members.PruneRole(ctx, "s1", "mod", []string{"a", "b"}))
	left, err := repos.Members.GetByRole(ctx, "s1", "mod")
	require.NoError(t, err)
	assert.Empty(t, left)

	a, _ := repos.Members.GetByServerAndUser(ctx, "s1", "a")
	assert.Equal(t, []string{"vip"}, a.RoleIDs)
}

func TestMemberRepo_WritesDoNotRecreateDeletedMember(t *testing.T) {
	repos, store := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "a", "mod")
	require.NoError(t, repos.Members.Delete(ctx, "s1", "a"))

	require.NoError(t, repos.Members.WritePermissions(ctx, "s1", []PermissionUpdate{
		{UID: "a", Permissions: map[string]bool{"view_channel": true}, Bits: 1, ComputedAt: time.Now()},
	}))
	require.NoError(t, repos.Members.PruneRole(ctx, "s1", "mod", []string{"a"}))
	require.NoError(t, repos.Members.AddRole(ctx, "s1", "a", "vip"))
	require.NoError(t, repos.Members.SetBaseRole(ctx, "s1", "a", models.BaseRoleAdmin))

	_, err := store.Read(ctx, MemberPath("s1", "a"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestMemberRepo_Delete(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	createTestMember(t, repos, "s1", "a")
	require.NoError(t, repos.Members.Delete(ctx, "s1", "a"))
	got, err := repos.Members.GetByServerAndUser(ctx, "s1", "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
