package cascade

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

// roleFingerprint is everything about a role that can change a resolution,
// either through its permissions or through default-role selection.
type roleFingerprint struct {
	bits     int64
	owner    bool
	everyone bool
	name     string
	position int
}

func fingerprintRole(r *models.Role) roleFingerprint {
	return roleFingerprint{
		bits:     permissions.NormalizeRole(r).Bits(),
		owner:    r.IsOwnerRole,
		everyone: r.IsEveryoneRole,
		name:     r.Name,
		position: r.Position,
	}
}

func fingerprintMember(m *models.Member) string {
	ids := append([]string(nil), m.RoleIDs...)
	sort.Strings(ids)
	return string(m.BaseRole) + "|" + strings.Join(ids, ",")
}

// serverState is the watcher's view of one server.
type serverState struct {
	defaultPtr  string
	defaultRole string
	roles       map[string]models.Role
	members     map[string]string
}

func (s *serverState) selectDefault(serverID string) string {
	roles := make([]models.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	server := &models.Server{ID: serverID, DefaultRoleID: s.defaultPtr}
	if d := permissions.SelectDefaultRole(server, roles); d != nil {
		return d.ID
	}
	return ""
}

// Watcher turns document store changes into cascade triggers. Events that
// leave every fingerprint unchanged, including the engine's own cache
// writes, are ignored.
type Watcher struct {
	ctrl  *Controller
	repos *database.Repositories
	store docstore.Store

	mu      sync.Mutex
	servers map[string]*serverState
	wg      sync.WaitGroup
}

func NewWatcher(ctrl *Controller, repos *database.Repositories, store docstore.Store) *Watcher {
	return &Watcher{ctrl: ctrl, repos: repos, store: store, servers: make(map[string]*serverState)}
}

// Run watches every existing server and any server created later, until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	created, err := w.store.Subscribe(ctx, database.ServersCollection)
	if err != nil {
		return errors.Wrap(err, "subscribing to servers")
	}

	servers, err := w.repos.Servers.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing servers")
	}
	for _, s := range servers {
		if err := w.Watch(ctx, s.ID); err != nil {
			log.Error().Err(err).Str("server", s.ID).Msg("watching server")
		}
	}
	log.Info().Int("servers", len(servers)).Msg("cascade watcher started")

	for ev := range created {
		if ev.Type != docstore.ChangeUpsert {
			continue
		}
		if err := w.Watch(ctx, ev.ID()); err != nil {
			log.Error().Err(err).Str("server", ev.ID()).Msg("watching server")
		}
	}
	w.wg.Wait()
	return ctx.Err()
}

// Watch primes fingerprints for serverID and starts following its roles,
// members and server document. Watching a server twice is a no-op.
func (w *Watcher) Watch(ctx context.Context, serverID string) error {
	w.mu.Lock()
	if _, ok := w.servers[serverID]; ok {
		w.mu.Unlock()
		return nil
	}
	state := &serverState{roles: make(map[string]models.Role), members: make(map[string]string)}
	w.servers[serverID] = state
	w.mu.Unlock()

	// Subscribe before priming so no change falls between the two.
	roles, err := w.store.Subscribe(ctx, database.RolesPath(serverID))
	if err != nil {
		return w.abandon(serverID, errors.Wrap(err, "subscribing to roles"))
	}
	members, err := w.store.Subscribe(ctx, database.MembersPath(serverID))
	if err != nil {
		return w.abandon(serverID, errors.Wrap(err, "subscribing to members"))
	}
	server, err := w.store.Subscribe(ctx, database.ServerPath(serverID))
	if err != nil {
		return w.abandon(serverID, errors.Wrap(err, "subscribing to server"))
	}

	if err := w.prime(ctx, serverID, state); err != nil {
		return w.abandon(serverID, err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.follow(ctx, serverID, roles, members, server)
	}()
	return nil
}

func (w *Watcher) abandon(serverID string, err error) error {
	w.mu.Lock()
	delete(w.servers, serverID)
	w.mu.Unlock()
	return err
}

func (w *Watcher) prime(ctx context.Context, serverID string, state *serverState) error {
	server, err := w.repos.Servers.GetByID(ctx, serverID)
	if err != nil {
		return errors.Wrap(err, "priming server")
	}
	roles, err := w.repos.Roles.GetByServerID(ctx, serverID)
	if err != nil {
		return errors.Wrap(err, "priming roles")
	}
	members, err := w.repos.Members.GetByServerID(ctx, serverID)
	if err != nil {
		return errors.Wrap(err, "priming members")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if server != nil {
		state.defaultPtr = server.DefaultRoleID
	}
	for _, r := range roles {
		state.roles[r.ID] = r
	}
	for i := range members {
		state.members[members[i].UID] = fingerprintMember(&members[i])
	}
	state.defaultRole = state.selectDefault(serverID)
	return nil
}

// follow handles one server's events in arrival order until every channel
// is closed.
func (w *Watcher) follow(ctx context.Context, serverID string, roles, members, server <-chan docstore.ChangeEvent) {
	for roles != nil || members != nil || server != nil {
		var (
			ev docstore.ChangeEvent
			ok bool
		)
		select {
		case ev, ok = <-roles:
			if !ok {
				roles = nil
				continue
			}
			w.onRole(ctx, serverID, ev)
		case ev, ok = <-members:
			if !ok {
				members = nil
				continue
			}
			w.onMember(ctx, serverID, ev)
		case ev, ok = <-server:
			if !ok {
				server = nil
				continue
			}
			w.onServer(ctx, serverID, ev)
		}
	}
}

func (w *Watcher) onRole(ctx context.Context, serverID string, ev docstore.ChangeEvent) {
	roleID := ev.ID()
	state := w.state(serverID)

	if ev.Type == docstore.ChangeDelete {
		w.mu.Lock()
		_, known := state.roles[roleID]
		wasDefault := state.defaultRole == roleID
		delete(state.roles, roleID)
		state.defaultRole = state.selectDefault(serverID)
		w.mu.Unlock()
		if !known {
			return
		}
		w.report(w.ctrl.RoleDeleted(ctx, serverID, roleID, wasDefault))
		return
	}

	var role models.Role
	if err := docstore.Decode(ev.Data, &role); err != nil {
		log.Warn().Err(err).Str("server", serverID).Str("role", roleID).Msg("undecodable role document")
		return
	}
	role.ID, role.ServerID = roleID, serverID

	w.mu.Lock()
	prev, known := state.roles[roleID]
	state.roles[roleID] = role
	prevDefault := state.defaultRole
	state.defaultRole = state.selectDefault(serverID)
	defaultMoved := state.defaultRole != prevDefault
	w.mu.Unlock()

	switch {
	case defaultMoved:
		w.report(w.ctrl.DefaultRoleChanged(ctx, serverID))
	case known && fingerprintRole(&prev) == fingerprintRole(&role):
		// our own bits re-sync or a cosmetic edit
		if permissions.RoleBitsStale(&role) {
			w.report(w.ctrl.RoleChanged(ctx, serverID, roleID))
		}
	default:
		w.report(w.ctrl.RoleChanged(ctx, serverID, roleID))
	}
}

func (w *Watcher) onMember(ctx context.Context, serverID string, ev docstore.ChangeEvent) {
	uid := ev.ID()
	state := w.state(serverID)

	if ev.Type == docstore.ChangeDelete {
		w.mu.Lock()
		delete(state.members, uid)
		w.mu.Unlock()
		return
	}

	var m models.Member
	if err := docstore.Decode(ev.Data, &m); err != nil {
		log.Warn().Err(err).Str("server", serverID).Str("uid", uid).Msg("undecodable member document")
		return
	}
	m.UID, m.ServerID = uid, serverID
	fp := fingerprintMember(&m)

	w.mu.Lock()
	prev, known := state.members[uid]
	state.members[uid] = fp
	w.mu.Unlock()

	// A member never computed needs a first pass even if nothing moved.
	if known && prev == fp && m.PermissionsComputedAt != nil {
		return
	}
	w.report(w.ctrl.MemberChanged(ctx, serverID, uid))
}

func (w *Watcher) onServer(ctx context.Context, serverID string, ev docstore.ChangeEvent) {
	if ev.Type == docstore.ChangeDelete {
		return
	}
	var server models.Server
	if err := docstore.Decode(ev.Data, &server); err != nil {
		log.Warn().Err(err).Str("server", serverID).Msg("undecodable server document")
		return
	}

	state := w.state(serverID)
	w.mu.Lock()
	state.defaultPtr = server.DefaultRoleID
	prevDefault := state.defaultRole
	state.defaultRole = state.selectDefault(serverID)
	moved := state.defaultRole != prevDefault
	w.mu.Unlock()

	if moved {
		w.report(w.ctrl.DefaultRoleChanged(ctx, serverID))
	}
}

func (w *Watcher) state(serverID string) *serverState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.servers[serverID]
}

// report logs a run's failure; warnings are already logged by the
// controller.
func (w *Watcher) report(res *Result, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("server", res.ServerID).Str("trigger", string(res.Trigger)).Msg("cascade failed")
	}
}
