package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
	"github.com/victorivanov/rolesync/internal/presence"
)

// PermissionService resolves effective permissions, authorizes actions and
// starts recomputes.
type PermissionService struct {
	servers    database.ServerRepository
	roles      database.RoleRepository
	members    database.MemberRepository
	cascade    *cascade.Controller
	classifier *presence.Classifier
}

// NewPermissionService creates a PermissionService.
func NewPermissionService(repos *database.Repositories, ctrl *cascade.Controller, classifier *presence.Classifier) *PermissionService {
	return &PermissionService{
		servers:    repos.Servers,
		roles:      repos.Roles,
		members:    repos.Members,
		cascade:    ctrl,
		classifier: classifier,
	}
}

// CachedPermissions is the permission cache stored on a member document.
type CachedPermissions struct {
	Permissions    map[string]bool `json:"permissions"`
	PermissionBits int64           `json:"permissionBits,string"`
	ComputedAt     *time.Time      `json:"computedAt,omitempty"`
}

// EffectivePermissions is a fresh resolution next to what the member
// document currently caches.
type EffectivePermissions struct {
	ServerID       string            `json:"serverId"`
	UID            string            `json:"uid"`
	DefaultRoleID  string            `json:"defaultRoleId,omitempty"`
	Permissions    map[string]bool   `json:"permissions"`
	PermissionBits int64             `json:"permissionBits,string"`
	Cached         CachedPermissions `json:"cached"`
	Stale          bool              `json:"stale"`
}

// ResolveEffectivePermissions is the pure resolver: owner short-circuit,
// default role, assigned roles, admin override.
func (s *PermissionService) ResolveEffectivePermissions(member *models.Member, roles []models.Role, defaultRole *models.Role) permissions.Resolution {
	return permissions.Resolve(member, roles, defaultRole)
}

// ClassifyPresence classifies already gathered presence signals.
func (s *PermissionService) ClassifyPresence(signals []presence.Signal) presence.State {
	return s.classifier.Classify(signals)
}

// serverState loads what a resolution needs. A missing server or member is
// a NotFound error.
func (s *PermissionService) serverState(ctx context.Context, serverID, uid string) (*models.Server, *models.Member, []models.Role, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, nil, nil, internalError(err, "loading server")
	}
	if server == nil {
		return nil, nil, nil, NotFound("NOT_FOUND", "server not found")
	}
	member, err := s.members.GetByServerAndUser(ctx, serverID, uid)
	if err != nil {
		return nil, nil, nil, internalError(err, "loading member")
	}
	if member == nil {
		return server, nil, nil, NotFound("NOT_FOUND", "member not found")
	}
	roles, err := s.roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, nil, nil, internalError(err, "loading roles")
	}
	return server, member, roles, nil
}

// EffectivePermissions resolves a member from the current role state. It
// reads only; the stored cache is reported, not rewritten.
func (s *PermissionService) EffectivePermissions(ctx context.Context, serverID, uid string) (*EffectivePermissions, error) {
	server, member, roles, err := s.serverState(ctx, serverID, uid)
	if err != nil {
		return nil, err
	}
	defaultRole := permissions.SelectDefaultRole(server, roles)
	fresh := permissions.Resolve(member, roles, defaultRole)

	out := &EffectivePermissions{
		ServerID:       serverID,
		UID:            uid,
		Permissions:    fresh.Map(),
		PermissionBits: fresh.Bits,
		Cached: CachedPermissions{
			Permissions:    member.Permissions,
			PermissionBits: member.PermissionBits,
			ComputedAt:     member.PermissionsComputedAt,
		},
		Stale: member.PermissionsComputedAt == nil || member.PermissionBits != fresh.Bits,
	}
	if defaultRole != nil {
		out.DefaultRoleID = defaultRole.ID
	}
	return out, nil
}

// RequireServerPermission checks that uid holds key in serverID. The server
// owner passes every check.
func (s *PermissionService) RequireServerPermission(ctx context.Context, serverID, uid string, key permissions.Key) error {
	server, member, roles, err := s.serverState(ctx, serverID, uid)
	if server != nil && server.OwnerID == uid {
		return nil
	}
	if err != nil {
		if server != nil && member == nil {
			return Forbidden("FORBIDDEN", "you are not a member of this server")
		}
		return err
	}
	if !permissions.Resolve(member, roles, permissions.SelectDefaultRole(server, roles)).Set.Has(key) {
		return Forbidden("MISSING_PERMISSIONS", "you do not have permission to perform this action")
	}
	return nil
}

// RecomputeForMember rewrites one member's cache.
func (s *PermissionService) RecomputeForMember(ctx context.Context, serverID, uid string) (*cascade.Result, error) {
	if _, _, _, err := s.serverState(ctx, serverID, uid); err != nil {
		return nil, err
	}
	res, err := s.cascade.RecomputeForMember(ctx, serverID, uid)
	if err != nil {
		return nil, internalError(err, "recomputing member")
	}
	return res, nil
}

// RecomputeAll rewrites every member's cache in serverID.
func (s *PermissionService) RecomputeAll(ctx context.Context, serverID string) (*cascade.Result, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "loading server")
	}
	if server == nil {
		return nil, NotFound("NOT_FOUND", "server not found")
	}
	res, err := s.cascade.RecomputeAll(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "recomputing server")
	}
	return res, nil
}

// cascadeWarnings folds a cascade run that followed a successful write into
// warnings. The write stands even if the run failed outright.
func cascadeWarnings(res *cascade.Result, err error) []cascade.Warning {
	if err != nil {
		serverID := ""
		if res != nil {
			serverID = res.ServerID
		}
		log.Warn().Err(err).Str("server", serverID).Msg("cascade after write failed")
		warnings := []cascade.Warning{{Stage: cascade.StageRun, Message: err.Error()}}
		if res != nil {
			warnings = append(res.Warnings, warnings...)
		}
		return warnings
	}
	if res == nil {
		return nil
	}
	return res.Warnings
}
