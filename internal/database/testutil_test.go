package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/models"
)

// testRepos returns repositories over a fresh in-memory store.
func testRepos(t *testing.T) (*Repositories, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	t.Cleanup(func() { _ = store.Close() })
	return NewRepositories(store), store
}

func createTestServer(t *testing.T, repos *Repositories, id string) *models.Server {
	t.Helper()
	server := &models.Server{ID: id, Name: "Server " + id, OwnerID: "owner", CreatedAt: time.Now().UTC()}
	require.NoError(t, repos.Servers.Create(context.Background(), server))
	return server
}

func createTestMember(t *testing.T, repos *Repositories, serverID, uid string, roleIDs ...string) *models.Member {
	t.Helper()
	m := &models.Member{UID: uid, ServerID: serverID, BaseRole: models.BaseRoleMember, RoleIDs: roleIDs, JoinedAt: time.Now().UTC()}
	require.NoError(t, repos.Members.Create(context.Background(), m))
	return m
}
