package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
	"github.com/victorivanov/rolesync/internal/presence"
)

var errBackendDown = errors.New("backend down")

// hookStore lets a test fail batch writes touching a path, or act just
// before a batch lands.
type hookStore struct {
	docstore.Store

	mu     sync.Mutex
	failOn string
	before func([]docstore.Mutation)
}

func (s *hookStore) BatchWrite(ctx context.Context, mutations []docstore.Mutation) error {
	s.mu.Lock()
	failOn, before := s.failOn, s.before
	s.mu.Unlock()

	if before != nil {
		before(mutations)
	}
	for _, m := range mutations {
		if failOn != "" && strings.Contains(m.Path, failOn) {
			return errBackendDown
		}
	}
	return s.Store.BatchWrite(ctx, mutations)
}

func (s *hookStore) failBatchesOn(needle string) {
	s.mu.Lock()
	s.failOn = needle
	s.mu.Unlock()
}

func (s *hookStore) beforeBatch(fn func([]docstore.Mutation)) {
	s.mu.Lock()
	s.before = fn
	s.mu.Unlock()
}

type testEnv struct {
	store   *hookStore
	repos   *database.Repositories
	rec     *gateway.Recorder
	perms   *PermissionService
	roles   *RoleService
	members *MemberService
	servers *ServerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := &hookStore{Store: memstore.New()}
	repos := database.NewRepositories(store)
	rec := &gateway.Recorder{}
	ctrl := cascade.NewController(repos, rec, cascade.Config{})
	perms := NewPermissionService(repos, ctrl, presence.NewClassifier(presence.DefaultConfig()))
	return &testEnv{
		store:   store,
		repos:   repos,
		rec:     rec,
		perms:   perms,
		roles:   NewRoleService(repos, ctrl, rec, perms),
		members: NewMemberService(repos, ctrl, rec, perms),
		servers: NewServerService(repos, ctrl),
	}
}

// seed builds server s1 owned by "owner" with:
//
//	everyone  view_channel (flagged, also the default pointer)
//	mod       manage_roles, kick_members
//	greeter   send_messages
//
// and members owner, alice (mod), bob (no roles) and carol (admin).
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.repos.Servers.Create(ctx, &models.Server{ID: "s1", Name: "s1", OwnerID: "owner", DefaultRoleID: "everyone"}))
	roles := []models.Role{
		{ID: "everyone", Name: "@everyone", IsEveryoneRole: true, Permissions: map[string]bool{"view_channel": true}},
		{ID: "mod", Name: "mod", Position: 1, Permissions: map[string]bool{"manageRoles": true, "kickMembers": true}},
		{ID: "greeter", Name: "greeter", Position: 2, Permissions: map[string]bool{"send_messages": true}},
	}
	for i := range roles {
		roles[i].ServerID = "s1"
		roles[i].PermissionBits = permissions.NormalizeRole(&roles[i]).Bits()
		require.NoError(t, e.repos.Roles.Create(ctx, &roles[i]))
	}
	members := []models.Member{
		{UID: "owner", BaseRole: models.BaseRoleOwner},
		{UID: "alice", BaseRole: models.BaseRoleMember, RoleIDs: []string{"mod"}},
		{UID: "bob", BaseRole: models.BaseRoleMember},
		{UID: "carol", BaseRole: models.BaseRoleAdmin},
	}
	for i := range members {
		members[i].ServerID = "s1"
		require.NoError(t, e.repos.Members.Create(ctx, &members[i]))
	}
}

func (e *testEnv) cached(t *testing.T, uid string) permissions.Set {
	t.Helper()
	m, err := e.repos.Members.GetByServerAndUser(context.Background(), "s1", uid)
	require.NoError(t, err)
	require.NotNil(t, m)
	return permissions.FromBits(m.PermissionBits)
}

func requireCode(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, code, se.Code)
}
