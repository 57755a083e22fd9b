package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

// RoleService handles role business logic and starts the cascades role
// edits require.
type RoleService struct {
	servers database.ServerRepository
	roles   database.RoleRepository
	cascade *cascade.Controller
	gateway gateway.Dispatcher
	perms   *PermissionService
	now     func() time.Time
}

// NewRoleService creates a RoleService.
func NewRoleService(repos *database.Repositories, ctrl *cascade.Controller, gw gateway.Dispatcher, perms *PermissionService) *RoleService {
	if gw == nil {
		gw = gateway.Noop{}
	}
	return &RoleService{
		servers: repos.Servers,
		roles:   repos.Roles,
		cascade: ctrl,
		gateway: gw,
		perms:   perms,
		now:     time.Now,
	}
}

// RoleUpdate is a partial role edit; nil fields are left alone.
type RoleUpdate struct {
	Name             *string
	Color            *int
	Mentionable      *bool
	ShowInMemberList *bool
	Permissions      map[string]bool
}

func validRoleName(name string) bool { return name != "" && len(name) <= 100 }

// ListRoles returns a server's roles ordered by position.
func (s *RoleService) ListRoles(ctx context.Context, serverID string) ([]models.Role, error) {
	roles, err := s.roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "listing roles")
	}
	if roles == nil {
		roles = []models.Role{}
	}
	return roles, nil
}

// CreateRole adds a role with no permissions above every existing role.
// Nobody holds it yet, so no recompute is needed.
func (s *RoleService) CreateRole(ctx context.Context, serverID, actorID, name string, color *int) (*models.Role, error) {
	if !validRoleName(name) {
		return nil, BadRequest("INVALID_NAME", "name must be 1-100 characters")
	}
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, err
	}

	existing, err := s.roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "listing roles")
	}
	position := 0
	for _, r := range existing {
		if r.Position+1 > position {
			position = r.Position + 1
		}
	}

	role := &models.Role{
		ID:          uuid.NewString(),
		ServerID:    serverID,
		Name:        name,
		Color:       color,
		Position:    position,
		Permissions: map[string]bool{},
		CreatedAt:   s.now().UTC(),
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, internalError(err, "creating role")
	}

	s.gateway.DispatchToServer(serverID, gateway.EventGuildRoleCreate, role)
	return role, nil
}

// UpdateRole applies a partial edit. A new permission map replaces the old
// one with canonical keys and its bits written alongside; holders are then
// recomputed.
func (s *RoleService) UpdateRole(ctx context.Context, serverID, actorID, roleID string, upd RoleUpdate) (*models.Role, []cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, nil, err
	}
	role, err := s.roles.GetByID(ctx, serverID, roleID)
	if err != nil {
		return nil, nil, internalError(err, "loading role")
	}
	if role == nil {
		return nil, nil, NotFound("NOT_FOUND", "role not found")
	}

	if upd.Name != nil {
		if !validRoleName(*upd.Name) {
			return nil, nil, BadRequest("INVALID_NAME", "name must be 1-100 characters")
		}
		role.Name = *upd.Name
	}
	if upd.Color != nil {
		role.Color = upd.Color
	}
	if upd.Mentionable != nil {
		role.Mentionable = *upd.Mentionable
	}
	if upd.ShowInMemberList != nil {
		role.ShowInMemberList = *upd.ShowInMemberList
	}
	if upd.Permissions != nil {
		if role.IsOwnerRole {
			return nil, nil, Forbidden("OWNER_ROLE", "the owner role always has every permission")
		}
		role.Permissions = permissions.CanonicalizeMap(upd.Permissions)
	}
	role.PermissionBits = permissions.NormalizeRole(role).Bits()

	if err := s.roles.Update(ctx, role); err != nil {
		return nil, nil, internalError(err, "updating role")
	}
	s.gateway.DispatchToServer(serverID, gateway.EventGuildRoleUpdate, role)

	warnings := cascadeWarnings(s.cascade.RoleChanged(ctx, serverID, roleID))
	return role, warnings, nil
}

// DeleteRole prunes a role from members and channels, deletes it and
// recomputes its holders. If the prune fails the role stays and the call
// can be retried. Whether it was the default role is decided from the role
// state before the delete.
func (s *RoleService) DeleteRole(ctx context.Context, serverID, actorID, roleID string) ([]cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, err
	}
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "loading server")
	}
	roles, err := s.roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "listing roles")
	}

	var role *models.Role
	for i := range roles {
		if roles[i].ID == roleID {
			role = &roles[i]
			break
		}
	}
	if role == nil {
		return nil, NotFound("NOT_FOUND", "role not found")
	}
	if role.IsOwnerRole {
		return nil, Forbidden("CANNOT_DELETE", "cannot delete the owner role")
	}
	wasDefault := false
	if d := permissions.SelectDefaultRole(server, roles); d != nil && d.ID == roleID {
		wasDefault = true
	}

	res, err := s.cascade.DeleteRole(ctx, serverID, roleID, wasDefault)
	if err != nil {
		if left, rerr := s.roles.GetByID(ctx, serverID, roleID); rerr != nil || left != nil {
			log.Warn().Err(err).Str("server", serverID).Str("role", roleID).Msg("role delete incomplete")
			return cascadeWarnings(res, nil), Unavailable("DELETE_INCOMPLETE", "the role is still referenced, retry the delete")
		}
	}
	s.gateway.DispatchToServer(serverID, gateway.EventGuildRoleDelete, gateway.RoleDeleteData{ServerID: serverID, RoleID: roleID})
	return cascadeWarnings(res, err), nil
}

// SetDefaultRole points the server's baseline at roleID and recomputes every
// member.
func (s *RoleService) SetDefaultRole(ctx context.Context, serverID, actorID, roleID string) ([]cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageServer); err != nil {
		return nil, err
	}
	role, err := s.roles.GetByID(ctx, serverID, roleID)
	if err != nil {
		return nil, internalError(err, "loading role")
	}
	if role == nil {
		return nil, NotFound("NOT_FOUND", "role not found")
	}

	if err := s.servers.SetDefaultRole(ctx, serverID, roleID); err != nil {
		return nil, internalError(err, "setting default role")
	}
	return cascadeWarnings(s.cascade.DefaultRoleChanged(ctx, serverID)), nil
}
