package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/models"
)

func TestChannelRepo_AllowedRoles(t *testing.T) {
	repos, _ := testRepos(t)
	ctx := context.Background()
	for _, ch := range []*models.Channel{
		{ID: "general", ServerID: "s1", Name: "general"},
		{ID: "staff", ServerID: "s1", Name: "staff", AllowedRoleIDs: []string{"mod", "admin"}},
		{ID: "mods", ServerID: "s1", Name: "mods", AllowedRoleIDs: []string{"mod"}},
	} {
		require.NoError(t, repos.Channels.Create(ctx, ch))
	}

	got, err := repos.Channels.GetByID(ctx, "s1", "general")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.AllowedRoleIDs)

	gated, err := repos.Channels.GetByAllowedRole(ctx, "s1", "mod")
	require.NoError(t, err)
	require.Len(t, gated, 2)

	require.NoError(t, repos.Channels.PruneRole(ctx, "s1", "mod", []string{"mods", "staff"}))
	gated, err = repos.Channels.GetByAllowedRole(ctx, "s1", "mod")
	require.NoError(t, err)
	assert.Empty(t, gated)

	staff, _ := repos.Channels.GetByID(ctx, "s1", "staff")
	assert.Equal(t, []string{"admin"}, staff.AllowedRoleIDs)

	all, err := repos.Channels.GetByServerID(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, repos.Channels.Delete(ctx, "s1", "mods"))
	missing, err := repos.Channels.GetByID(ctx, "s1", "mods")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
