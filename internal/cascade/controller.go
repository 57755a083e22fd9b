// Package cascade keeps every member's cached effective permissions in
// step with role, membership and default-role changes.
//
// Work is an explicit queue of affected members per server, deduplicated and
// drained in bounded atomic batches. A member whose cache already equals the
// fresh resolution is not rewritten, so reruns are cheap and the engine's
// own writes never look like new work. Failures are collected as warnings;
// nothing is rolled back and the repair sweep converges what was missed.
package cascade

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

const (
	DefaultBatchSize = 400
	MaxBatchSize     = 500
)

// Config tunes the controller.
type Config struct {
	BatchSize int
}

// Controller runs cascades. It is safe for concurrent use; runs for the
// same server are serialized.
type Controller struct {
	repos      *database.Repositories
	dispatcher gateway.Dispatcher
	batchSize  int
	now        func() time.Time

	locks sync.Map // server id -> *sync.Mutex
}

func NewController(repos *database.Repositories, dispatcher gateway.Dispatcher, cfg Config) *Controller {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	if dispatcher == nil {
		dispatcher = gateway.Noop{}
	}
	return &Controller{repos: repos, dispatcher: dispatcher, batchSize: size, now: time.Now}
}

// WithClock returns a copy of c that stamps computations with now.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	return &Controller{repos: c.repos, dispatcher: c.dispatcher, batchSize: c.batchSize, now: now}
}

// BatchSize is the effective batch bound.
func (c *Controller) BatchSize() int { return c.batchSize }

// snapshot is one consistent read of a server's role state.
type snapshot struct {
	server      *models.Server
	roles       []models.Role
	index       map[string]*models.Role
	defaultRole *models.Role
}

func (s *snapshot) isDefault(roleID string) bool {
	return s.defaultRole != nil && s.defaultRole.ID == roleID
}

// loadSnapshot reads the server, its roles and the selected default role.
func (c *Controller) loadSnapshot(ctx context.Context, serverID string) (*snapshot, error) {
	server, err := c.repos.Servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading server %s", serverID)
	}
	roles, err := c.repos.Roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading roles of %s", serverID)
	}
	index := make(map[string]*models.Role, len(roles))
	for i := range roles {
		index[roles[i].ID] = &roles[i]
	}
	return &snapshot{
		server:      server,
		roles:       roles,
		index:       index,
		defaultRole: permissions.SelectDefaultRole(server, roles),
	}, nil
}

// RoleChanged recomputes the holders of roleID, or every member when it is
// the selected default role, after re-syncing the role's cached bits.
func (c *Controller) RoleChanged(ctx context.Context, serverID, roleID string) (*Result, error) {
	return c.run(ctx, serverID, TriggerRoleChanged, func(ctx context.Context, res *Result) error {
		snap, err := c.loadSnapshot(ctx, serverID)
		if err != nil {
			return err
		}
		role, ok := snap.index[roleID]
		if !ok {
			// gone by the time we looked; treat it as the deletion it is
			return c.roleDeleted(ctx, res, serverID, roleID, false)
		}
		c.syncRoleBits(ctx, res, role)

		if snap.isDefault(roleID) {
			members, err := c.repos.Members.GetByServerID(ctx, serverID)
			if err != nil {
				return errors.Wrap(err, "listing members")
			}
			return c.drain(ctx, res, snap, members)
		}
		holders, err := c.repos.Members.GetByRole(ctx, serverID, roleID)
		if err != nil {
			return errors.Wrap(err, "listing role holders")
		}
		return c.drain(ctx, res, snap, holders)
	})
}

// ErrPruneIncomplete is returned by DeleteRole when the role could not be
// removed from every member and channel. The role document is left in place
// so the delete can be retried.
var ErrPruneIncomplete = errors.New("role still referenced")

// DeleteRole removes roleID from every member's roleIds and every channel's
// allowedRoleIds, deletes the role document, and recomputes its former
// holders. The document is deleted only once both prunes succeeded.
// wasDefault widens the recompute to every member.
func (c *Controller) DeleteRole(ctx context.Context, serverID, roleID string, wasDefault bool) (*Result, error) {
	return c.run(ctx, serverID, TriggerRoleDeleted, func(ctx context.Context, res *Result) error {
		uids, err := c.prune(ctx, res, serverID, roleID)
		if err != nil {
			return err
		}
		if !res.OK() {
			// holders already pruned still need their caches fixed
			snap, err := c.loadSnapshot(ctx, serverID)
			if err != nil {
				return err
			}
			if err := c.drainUIDs(ctx, res, snap, uids); err != nil {
				return err
			}
			return ErrPruneIncomplete
		}
		if err := c.repos.Roles.Delete(ctx, serverID, roleID); err != nil {
			return errors.Wrap(err, "deleting role")
		}
		return c.recomputeDeleted(ctx, res, serverID, roleID, wasDefault, uids)
	})
}

// RoleDeleted cleans up after a role document that is already gone: it
// prunes the id and recomputes the former holders. wasDefault widens the
// recompute to every member; it is also assumed when the server's explicit
// default pointer names the role.
func (c *Controller) RoleDeleted(ctx context.Context, serverID, roleID string, wasDefault bool) (*Result, error) {
	return c.run(ctx, serverID, TriggerRoleDeleted, func(ctx context.Context, res *Result) error {
		return c.roleDeleted(ctx, res, serverID, roleID, wasDefault)
	})
}

func (c *Controller) roleDeleted(ctx context.Context, res *Result, serverID, roleID string, wasDefault bool) error {
	uids, err := c.prune(ctx, res, serverID, roleID)
	if err != nil {
		return err
	}
	return c.recomputeDeleted(ctx, res, serverID, roleID, wasDefault, uids)
}

// prune removes roleID from its holders and from channel allow-lists and
// returns the holders. The two fan-outs are independent; a failure in one
// does not stop the other.
func (c *Controller) prune(ctx context.Context, res *Result, serverID, roleID string) ([]string, error) {
	holders, err := c.repos.Members.GetByRole(ctx, serverID, roleID)
	if err != nil {
		return nil, errors.Wrap(err, "listing role holders")
	}
	uids := make([]string, len(holders))
	for i := range holders {
		uids[i] = holders[i].UID
	}
	c.pruneMembers(ctx, res, serverID, roleID, uids)
	c.pruneChannels(ctx, res, serverID, roleID)
	return uids, nil
}

func (c *Controller) recomputeDeleted(ctx context.Context, res *Result, serverID, roleID string, wasDefault bool, uids []string) error {
	snap, err := c.loadSnapshot(ctx, serverID)
	if err != nil {
		return err
	}
	if wasDefault || (snap.server != nil && snap.server.DefaultRoleID == roleID) {
		members, err := c.repos.Members.GetByServerID(ctx, serverID)
		if err != nil {
			return errors.Wrap(err, "listing members")
		}
		return c.drain(ctx, res, snap, members)
	}
	return c.drainUIDs(ctx, res, snap, uids)
}

// MemberChanged recomputes one member after their roles or base role moved.
func (c *Controller) MemberChanged(ctx context.Context, serverID, uid string) (*Result, error) {
	return c.recomputeUIDs(ctx, serverID, TriggerMemberChanged, []string{uid})
}

// RecomputeForMember is the explicit single-member recompute.
func (c *Controller) RecomputeForMember(ctx context.Context, serverID, uid string) (*Result, error) {
	return c.recomputeUIDs(ctx, serverID, TriggerRecomputeMember, []string{uid})
}

// DefaultRoleChanged recomputes every member.
func (c *Controller) DefaultRoleChanged(ctx context.Context, serverID string) (*Result, error) {
	return c.recomputeAll(ctx, serverID, TriggerDefaultRoleChanged)
}

// RecomputeAll re-syncs every role's cached bits and recomputes every
// member.
func (c *Controller) RecomputeAll(ctx context.Context, serverID string) (*Result, error) {
	return c.recomputeAll(ctx, serverID, TriggerRecomputeAll)
}

func (c *Controller) recomputeUIDs(ctx context.Context, serverID string, trigger Trigger, uids []string) (*Result, error) {
	return c.run(ctx, serverID, trigger, func(ctx context.Context, res *Result) error {
		snap, err := c.loadSnapshot(ctx, serverID)
		if err != nil {
			return err
		}
		return c.drainUIDs(ctx, res, snap, uids)
	})
}

func (c *Controller) recomputeAll(ctx context.Context, serverID string, trigger Trigger) (*Result, error) {
	return c.run(ctx, serverID, trigger, func(ctx context.Context, res *Result) error {
		snap, err := c.loadSnapshot(ctx, serverID)
		if err != nil {
			return err
		}
		members, err := c.repos.Members.GetByServerID(ctx, serverID)
		if err != nil {
			return errors.Wrap(err, "listing members")
		}
		if trigger == TriggerRecomputeAll {
			for _, role := range snap.index {
				c.syncRoleBits(ctx, res, role)
			}
			c.pruneDangling(ctx, res, snap, members)
		}
		return c.drain(ctx, res, snap, members)
	})
}

// run wraps a cascade with the per-server lock, a run id, timing, logging
// and metrics.
func (c *Controller) run(ctx context.Context, serverID string, trigger Trigger, fn func(context.Context, *Result) error) (*Result, error) {
	mu := c.serverLock(serverID)
	mu.Lock()
	defer mu.Unlock()

	res := &Result{RunID: uuid.NewString(), ServerID: serverID, Trigger: trigger}
	logger := log.With().Str("run", res.RunID).Str("server", serverID).Str("trigger", string(trigger)).Logger()
	start := time.Now()

	err := fn(logger.WithContext(ctx), res)

	res.Duration = time.Since(start)
	runDuration.WithLabelValues(string(trigger)).Observe(res.Duration.Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !res.OK():
		outcome = "partial"
	}
	runsTotal.WithLabelValues(string(trigger), outcome).Inc()

	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	} else if !res.OK() {
		ev = logger.Warn()
	}
	ev.Int("considered", res.Considered).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("warnings", len(res.Warnings)).
		Dur("took", res.Duration).
		Msg("cascade finished")

	return res, err
}

func (c *Controller) serverLock(serverID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(serverID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// drainUIDs loads the queued members and drains them. Duplicate ids are
// processed once; ids with no member document are counted as missing.
func (c *Controller) drainUIDs(ctx context.Context, res *Result, snap *snapshot, uids []string) error {
	serverID := snapID(snap, res)
	seen := make(map[string]struct{}, len(uids))
	members := make([]models.Member, 0, len(uids))
	for _, uid := range uids {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		m, err := c.repos.Members.GetByServerAndUser(ctx, serverID, uid)
		if err != nil {
			res.warn(Warning{Stage: StageLoadMember, UID: uid, Message: err.Error()})
			continue
		}
		if m == nil {
			res.Missing++
			continue
		}
		members = append(members, *m)
	}
	return c.drain(ctx, res, snap, members)
}

// drain resolves members against snap and writes the changed caches in
// bounded batches.
func (c *Controller) drain(ctx context.Context, res *Result, snap *snapshot, members []models.Member) error {
	serverID := snapID(snap, res)
	logger := zerolog.Ctx(ctx)
	now := c.now().UTC()

	seen := make(map[string]struct{}, len(members))
	pending := make([]database.PermissionUpdate, 0, c.batchSize)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		res.Batches++
		batchSize.Observe(float64(len(pending)))
		if err := c.repos.Members.WritePermissions(ctx, serverID, pending); err != nil {
			logger.Warn().Err(err).Int("size", len(pending)).Msg("permission batch failed")
			for _, u := range pending {
				res.warn(Warning{Stage: StageWrite, UID: u.UID, Message: err.Error()})
			}
			membersTotal.WithLabelValues("failed").Add(float64(len(pending)))
			pending = pending[:0]
			return
		}
		res.Updated += len(pending)
		membersTotal.WithLabelValues("updated").Add(float64(len(pending)))
		for _, u := range pending {
			c.dispatcher.DispatchToServer(serverID, gateway.EventMemberPermissionsUpdate, gateway.MemberPermissionsUpdateData{
				ServerID:       serverID,
				UID:            u.UID,
				Permissions:    u.Permissions,
				PermissionBits: u.Bits,
				ComputedAt:     u.ComputedAt,
			})
		}
		pending = pending[:0]
	}

	for i := range members {
		m := &members[i]
		if _, dup := seen[m.UID]; dup {
			continue
		}
		seen[m.UID] = struct{}{}

		if err := ctx.Err(); err != nil {
			flush()
			res.warn(Warning{Stage: StageCancelled, Message: err.Error()})
			return err
		}

		res.Considered++
		fresh := permissions.ResolveIndexed(m, snap.index, snap.defaultRole)
		if cacheCurrent(m, fresh) {
			res.Unchanged++
			membersTotal.WithLabelValues("unchanged").Inc()
			continue
		}
		pending = append(pending, database.PermissionUpdate{
			UID:         m.UID,
			Permissions: fresh.Map(),
			Bits:        fresh.Bits,
			ComputedAt:  now,
		})
		if len(pending) == c.batchSize {
			flush()
		}
	}
	flush()
	return nil
}

// cacheCurrent reports whether m's stored cache already equals fresh: same
// bits and a complete canonical map with the same values.
func cacheCurrent(m *models.Member, fresh permissions.Resolution) bool {
	if m.PermissionsComputedAt == nil || m.PermissionBits != fresh.Bits {
		return false
	}
	want := fresh.Map()
	if len(m.Permissions) != len(want) {
		return false
	}
	for k, v := range want {
		if got, ok := m.Permissions[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// syncRoleBits rewrites a role's cached bits when they disagree with its
// permission map.
func (c *Controller) syncRoleBits(ctx context.Context, res *Result, role *models.Role) {
	if !permissions.RoleBitsStale(role) {
		return
	}
	bits := permissions.NormalizeRole(role).Bits()
	if err := c.repos.Roles.SetPermissionBits(ctx, role.ServerID, role.ID, bits); err != nil {
		res.warn(Warning{Stage: StageRoleBits, RoleID: role.ID, Message: err.Error()})
		return
	}
	role.PermissionBits = bits
}

func (c *Controller) pruneMembers(ctx context.Context, res *Result, serverID, roleID string, uids []string) {
	for start := 0; start < len(uids); start += c.batchSize {
		batch := uids[start:min(start+c.batchSize, len(uids))]
		res.Batches++
		batchSize.Observe(float64(len(batch)))
		if err := c.repos.Members.PruneRole(ctx, serverID, roleID, batch); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("role", roleID).Msg("pruning role from members failed")
			for _, uid := range batch {
				res.warn(Warning{Stage: StagePruneMembers, UID: uid, RoleID: roleID, Message: err.Error()})
			}
			continue
		}
		res.Pruned += len(batch)
	}
}

func (c *Controller) pruneChannels(ctx context.Context, res *Result, serverID, roleID string) {
	channels, err := c.repos.Channels.GetByAllowedRole(ctx, serverID, roleID)
	if err != nil {
		res.warn(Warning{Stage: StagePruneChannels, RoleID: roleID, Message: err.Error()})
		return
	}
	ids := make([]string, len(channels))
	for i := range channels {
		ids[i] = channels[i].ID
	}
	c.pruneChannelIDs(ctx, res, serverID, roleID, ids)
}

func (c *Controller) pruneChannelIDs(ctx context.Context, res *Result, serverID, roleID string, ids []string) {
	for start := 0; start < len(ids); start += c.batchSize {
		batch := ids[start:min(start+c.batchSize, len(ids))]
		res.Batches++
		batchSize.Observe(float64(len(batch)))
		if err := c.repos.Channels.PruneRole(ctx, serverID, roleID, batch); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("role", roleID).Msg("pruning role from channels failed")
			for _, id := range batch {
				res.warn(Warning{Stage: StagePruneChannels, ChannelID: id, RoleID: roleID, Message: err.Error()})
			}
			continue
		}
		res.Pruned += len(batch)
	}
}

// pruneDangling removes role ids that name no role document from members
// and channel allow-lists. An id missing from snap is pruned only after a
// fresh read confirms the role is gone, so roles created during the run
// survive.
func (c *Controller) pruneDangling(ctx context.Context, res *Result, snap *snapshot, members []models.Member) {
	serverID := snapID(snap, res)

	memberRefs := make(map[string][]string)
	for i := range members {
		for _, id := range members[i].RoleIDs {
			if _, ok := snap.index[id]; !ok {
				memberRefs[id] = append(memberRefs[id], members[i].UID)
			}
		}
	}
	channelRefs := make(map[string][]string)
	channels, err := c.repos.Channels.GetByServerID(ctx, serverID)
	if err != nil {
		res.warn(Warning{Stage: StagePruneChannels, Message: err.Error()})
	}
	for i := range channels {
		for _, id := range channels[i].AllowedRoleIDs {
			if _, ok := snap.index[id]; !ok {
				channelRefs[id] = append(channelRefs[id], channels[i].ID)
			}
		}
	}

	checked := make(map[string]bool)
	gone := func(roleID string) bool {
		if v, ok := checked[roleID]; ok {
			return v
		}
		role, err := c.repos.Roles.GetByID(ctx, serverID, roleID)
		if err != nil {
			res.warn(Warning{Stage: StagePruneMembers, RoleID: roleID, Message: err.Error()})
		}
		checked[roleID] = err == nil && role == nil
		return checked[roleID]
	}

	for roleID, uids := range memberRefs {
		if gone(roleID) {
			c.pruneMembers(ctx, res, serverID, roleID, uids)
		}
	}
	for roleID, ids := range channelRefs {
		if gone(roleID) {
			c.pruneChannelIDs(ctx, res, serverID, roleID, ids)
		}
	}
}

func snapID(snap *snapshot, res *Result) string {
	if snap.server != nil && snap.server.ID != "" {
		return snap.server.ID
	}
	return res.ServerID
}
