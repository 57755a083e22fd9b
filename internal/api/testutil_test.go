package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
	"github.com/victorivanov/rolesync/internal/presence"
	"github.com/victorivanov/rolesync/internal/redis"
	"github.com/victorivanov/rolesync/internal/service"
)

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func setAuthUser(c echo.Context, uid string) {
	auth.SetUserID(c, uid)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// apiEnv is the whole HTTP stack over memstore and miniredis.
type apiEnv struct {
	e      *echo.Echo
	repos  *database.Repositories
	rec    *gateway.Recorder
	tokens *auth.TokenService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	rdb := newTestRedis(t)
	repos := database.NewRepositories(memstore.New())
	rec := &gateway.Recorder{}
	tokens := auth.NewTokenService("test-secret", "rolesync-test", 0)

	ctrl := cascade.NewController(repos, rec, cascade.Config{})
	classifier := presence.NewClassifier(presence.DefaultConfig())
	presenceSvc := presence.NewService(classifier, rdb, presence.NewGatewaySource(rdb), presence.NewProfileSource(repos.Profiles))
	perms := service.NewPermissionService(repos, ctrl, classifier)

	e := echo.New()
	SetupRouter(e, &Dependencies{
		Servers:      NewServerHandler(service.NewServerService(repos, ctrl)),
		Roles:        NewRoleHandler(service.NewRoleService(repos, ctrl, rec, perms)),
		Members:      NewMemberHandler(service.NewMemberService(repos, ctrl, rec, perms)),
		Permissions:  NewPermissionHandler(perms),
		Presence:     NewPresenceHandler(presenceSvc, presence.NewTracker(presenceSvc, rec)),
		Users:        NewUserHandler(service.NewProfileService(repos.Profiles)),
		TokenService: tokens,
		Redis:        rdb,
		HealthChecks: map[string]HealthCheck{"redis": rdb.Ping},
		RateLimit:    1000,
	})
	return &apiEnv{e: e, repos: repos, rec: rec, tokens: tokens}
}

// seed builds server s1 owned by "owner" with roles everyone (view_channel,
// the default), mod (manage_roles, kick_members) and greeter
// (send_messages), and members owner, alice (mod) and bob.
func (env *apiEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.repos.Servers.Create(ctx, &models.Server{ID: "s1", Name: "s1", OwnerID: "owner", DefaultRoleID: "everyone"}))
	roles := []models.Role{
		{ID: "everyone", Name: "@everyone", IsEveryoneRole: true, Permissions: map[string]bool{"view_channel": true}},
		{ID: "mod", Name: "mod", Position: 1, Permissions: map[string]bool{"manage_roles": true, "kick_members": true}},
		{ID: "greeter", Name: "greeter", Position: 2, Permissions: map[string]bool{"send_messages": true}},
	}
	for i := range roles {
		roles[i].ServerID = "s1"
		roles[i].PermissionBits = permissions.NormalizeRole(&roles[i]).Bits()
		require.NoError(t, env.repos.Roles.Create(ctx, &roles[i]))
	}
	for _, m := range []models.Member{
		{UID: "owner", BaseRole: models.BaseRoleOwner},
		{UID: "alice", BaseRole: models.BaseRoleMember, RoleIDs: []string{"mod"}},
		{UID: "bob", BaseRole: models.BaseRoleMember},
	} {
		m.ServerID = "s1"
		require.NoError(t, env.repos.Members.Create(ctx, &m))
	}
}

// do sends a request as uid; an empty uid sends no token.
func (env *apiEnv) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != "" {
		token, err := env.tokens.GenerateAccessToken(uid)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) cachedBits(t *testing.T, uid string) permissions.Set {
	t.Helper()
	m, err := env.repos.Members.GetByServerAndUser(context.Background(), "s1", uid)
	require.NoError(t, err)
	require.NotNil(t, m)
	return permissions.FromBits(m.PermissionBits)
}

// decode unwraps the data envelope into out and returns the warnings.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) []cascade.Warning {
	t.Helper()
	var env struct {
		Data     json.RawMessage   `json:"data"`
		Warnings []cascade.Warning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env.Warnings
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}
