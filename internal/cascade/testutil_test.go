package cascade

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// flakyStore wraps a store and fails selected operations.
type flakyStore struct {
	docstore.Store

	mu          sync.Mutex
	failBatchOn string // BatchWrite fails if any mutation path contains this
	failListOn  string // List fails for collections containing this
	batches     atomic.Int64
}

func (s *flakyStore) BatchWrite(ctx context.Context, mutations []docstore.Mutation) error {
	s.batches.Add(1)
	s.mu.Lock()
	needle := s.failBatchOn
	s.mu.Unlock()
	if needle != "" {
		for _, m := range mutations {
			if strings.Contains(m.Path, needle) {
				return errInjected
			}
		}
	}
	return s.Store.BatchWrite(ctx, mutations)
}

func (s *flakyStore) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	s.mu.Lock()
	needle := s.failListOn
	s.mu.Unlock()
	if needle != "" && strings.Contains(collection, needle) {
		return nil, errInjected
	}
	return s.Store.List(ctx, collection, filters...)
}

func (s *flakyStore) set(batch, list string) {
	s.mu.Lock()
	s.failBatchOn, s.failListOn = batch, list
	s.mu.Unlock()
}

var errInjected = errors.New("injected failure")

type testEnv struct {
	store *flakyStore
	repos *database.Repositories
	ctrl  *Controller
	rec   *gateway.Recorder
}

func newTestEnv(t *testing.T, batch int) *testEnv {
	t.Helper()
	store := &flakyStore{Store: memstore.New()}
	repos := database.NewRepositories(store)
	rec := &gateway.Recorder{}
	ctrl := NewController(repos, rec, Config{BatchSize: batch}).WithClock(func() time.Time { return testNow })
	return &testEnv{store: store, repos: repos, ctrl: ctrl, rec: rec}
}

func (e *testEnv) server(t *testing.T, id, defaultRoleID string) {
	t.Helper()
	require.NoError(t, e.repos.Servers.Create(context.Background(), &models.Server{ID: id, Name: id, OwnerID: "owner", DefaultRoleID: defaultRoleID}))
}

func (e *testEnv) role(t *testing.T, serverID, id string, position int, perms map[string]bool) {
	t.Helper()
	require.NoError(t, e.repos.Roles.Create(context.Background(), &models.Role{
		ID: id, ServerID: serverID, Name: id, Position: position, Permissions: perms,
		PermissionBits: permissions.Normalize(perms).Bits(),
	}))
}

func (e *testEnv) member(t *testing.T, serverID, uid string, base models.BaseRole, roleIDs ...string) {
	t.Helper()
	require.NoError(t, e.repos.Members.Create(context.Background(), &models.Member{
		UID: uid, ServerID: serverID, BaseRole: base, RoleIDs: roleIDs, JoinedAt: testNow,
	}))
}

func (e *testEnv) cached(t *testing.T, serverID, uid string) permissions.Set {
	t.Helper()
	m, err := e.repos.Members.GetByServerAndUser(context.Background(), serverID, uid)
	require.NoError(t, err)
	require.NotNil(t, m, uid)
	return permissions.FromBits(m.PermissionBits)
}

func (e *testEnv) memberDoc(t *testing.T, serverID, uid string) *models.Member {
	t.Helper()
	m, err := e.repos.Members.GetByServerAndUser(context.Background(), serverID, uid)
	require.NoError(t, err)
	require.NotNil(t, m, uid)
	return m
}

// seedSupport builds server s1 with an everyone role granting view_channel,
// a support role granting send_messages and a mod role granting
// kick_members.
func (e *testEnv) seedSupport(t *testing.T) {
	t.Helper()
	e.server(t, "s1", "everyone")
	e.role(t, "s1", "everyone", 0, map[string]bool{"viewChannels": true})
	e.role(t, "s1", "support", 1, map[string]bool{"sendMessages": true})
	e.role(t, "s1", "mod", 2, map[string]bool{"kick_members": true})
	e.member(t, "s1", "plain", models.BaseRoleMember)
	e.member(t, "s1", "helper", models.BaseRoleMember, "support")
	e.member(t, "s1", "moderator", models.BaseRoleMember, "mod", "support")
	e.member(t, "s1", "boss", models.BaseRoleOwner)
	e.member(t, "s1", "admin", models.BaseRoleAdmin)
}
