package service

import (
	"context"
	"time"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

// MemberService handles member management business logic. Every change to
// a member's roles or base role is followed by a recompute of that member.
type MemberService struct {
	servers database.ServerRepository
	roles   database.RoleRepository
	members database.MemberRepository
	cascade *cascade.Controller
	gateway gateway.Dispatcher
	perms   *PermissionService
	now     func() time.Time
}

// NewMemberService creates a MemberService.
func NewMemberService(repos *database.Repositories, ctrl *cascade.Controller, gw gateway.Dispatcher, perms *PermissionService) *MemberService {
	if gw == nil {
		gw = gateway.Noop{}
	}
	return &MemberService{
		servers: repos.Servers,
		roles:   repos.Roles,
		members: repos.Members,
		cascade: ctrl,
		gateway: gw,
		perms:   perms,
		now:     time.Now,
	}
}

// Join adds uid to a server with no explicit roles. The server owner joins
// with the owner base role.
func (s *MemberService) Join(ctx context.Context, serverID, uid string) (*models.Member, []cascade.Warning, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, nil, internalError(err, "loading server")
	}
	if server == nil {
		return nil, nil, NotFound("NOT_FOUND", "server not found")
	}
	existing, err := s.members.GetByServerAndUser(ctx, serverID, uid)
	if err != nil {
		return nil, nil, internalError(err, "loading member")
	}
	if existing != nil {
		return nil, nil, Conflict("ALREADY_MEMBER", "already a member of this server")
	}

	base := models.BaseRoleMember
	if server.OwnerID == uid {
		base = models.BaseRoleOwner
	}
	member := &models.Member{
		UID:      uid,
		ServerID: serverID,
		BaseRole: base,
		RoleIDs:  []string{},
		JoinedAt: s.now().UTC(),
	}
	if err := s.members.Create(ctx, member); err != nil {
		return nil, nil, internalError(err, "creating member")
	}
	return s.afterChange(ctx, serverID, uid)
}

// SetRoles replaces a member's assigned roles. Every id must name an
// existing role; duplicates are dropped.
func (s *MemberService) SetRoles(ctx context.Context, serverID, actorID, uid string, roleIDs []string) (*models.Member, []cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, nil, err
	}
	if _, err := s.requireMember(ctx, serverID, uid); err != nil {
		return nil, nil, err
	}

	roles, err := s.roles.GetByServerID(ctx, serverID)
	if err != nil {
		return nil, nil, internalError(err, "listing roles")
	}
	valid := make(map[string]bool, len(roles))
	for _, r := range roles {
		valid[r.ID] = true
	}
	ids := make([]string, 0, len(roleIDs))
	seen := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		if !valid[id] {
			return nil, nil, BadRequest("INVALID_ROLE", "invalid role ID")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if err := s.members.SetRoles(ctx, serverID, uid, ids); err != nil {
		return nil, nil, internalError(err, "setting roles")
	}
	return s.afterChange(ctx, serverID, uid)
}

// AddRole assigns one role.
func (s *MemberService) AddRole(ctx context.Context, serverID, actorID, uid, roleID string) (*models.Member, []cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, nil, err
	}
	if _, err := s.requireMember(ctx, serverID, uid); err != nil {
		return nil, nil, err
	}
	role, err := s.roles.GetByID(ctx, serverID, roleID)
	if err != nil {
		return nil, nil, internalError(err, "loading role")
	}
	if role == nil {
		return nil, nil, NotFound("NOT_FOUND", "role not found")
	}

	if err := s.members.AddRole(ctx, serverID, uid, roleID); err != nil {
		return nil, nil, internalError(err, "adding role")
	}
	return s.afterChange(ctx, serverID, uid)
}

// RemoveRole unassigns one role. Removing a role the member does not hold,
// or one that no longer exists, is allowed.
func (s *MemberService) RemoveRole(ctx context.Context, serverID, actorID, uid, roleID string) (*models.Member, []cascade.Warning, error) {
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
		return nil, nil, err
	}
	if _, err := s.requireMember(ctx, serverID, uid); err != nil {
		return nil, nil, err
	}
	if err := s.members.RemoveRole(ctx, serverID, uid, roleID); err != nil {
		return nil, nil, internalError(err, "removing role")
	}
	return s.afterChange(ctx, serverID, uid)
}

// SetBaseRole changes the legacy base role. Ownership is tied to the
// server, so owner can be neither granted nor taken away here.
func (s *MemberService) SetBaseRole(ctx context.Context, serverID, actorID, uid string, base models.BaseRole) (*models.Member, []cascade.Warning, error) {
	if !base.Valid() || base == models.BaseRoleOwner {
		return nil, nil, BadRequest("INVALID_BASE_ROLE", "base role must be admin, member or empty")
	}
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.ManageServer); err != nil {
		return nil, nil, err
	}
	member, err := s.requireMember(ctx, serverID, uid)
	if err != nil {
		return nil, nil, err
	}
	if member.BaseRole == models.BaseRoleOwner {
		return nil, nil, Forbidden("FORBIDDEN", "cannot change the owner's base role")
	}

	if err := s.members.SetBaseRole(ctx, serverID, uid, base); err != nil {
		return nil, nil, internalError(err, "setting base role")
	}
	return s.afterChange(ctx, serverID, uid)
}

// SetNickname changes a nickname. Members may change their own with
// change_nickname; changing someone else's needs manage_nicknames. An empty
// nickname clears it.
func (s *MemberService) SetNickname(ctx context.Context, serverID, actorID, uid string, nickname string) (*models.Member, error) {
	perm := permissions.ManageNicknames
	if actorID == uid {
		perm = permissions.ChangeNickname
	}
	if err := s.perms.RequireServerPermission(ctx, serverID, actorID, perm); err != nil {
		return nil, err
	}
	member, err := s.requireMember(ctx, serverID, uid)
	if err != nil {
		return nil, err
	}
	if len(nickname) > 32 {
		return nil, BadRequest("INVALID_NICKNAME", "nickname must be 32 characters or fewer")
	}

	var nick *string
	if nickname != "" {
		nick = &nickname
	}
	if err := s.members.SetNickname(ctx, serverID, uid, nick); err != nil {
		return nil, internalError(err, "setting nickname")
	}
	member.Nickname = nick
	s.gateway.DispatchToServer(serverID, gateway.EventGuildMemberUpdate, member)
	return member, nil
}

// Remove deletes a membership. Leaving needs no permission; removing
// someone else needs kick_members. The owner can be neither kicked nor
// leave.
func (s *MemberService) Remove(ctx context.Context, serverID, actorID, uid string) error {
	if actorID != uid {
		if err := s.perms.RequireServerPermission(ctx, serverID, actorID, permissions.KickMembers); err != nil {
			return err
		}
	}
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return internalError(err, "loading server")
	}
	if server == nil {
		return NotFound("NOT_FOUND", "server not found")
	}
	if server.OwnerID == uid {
		return Forbidden("FORBIDDEN", "the server owner cannot be removed")
	}
	if _, err := s.requireMember(ctx, serverID, uid); err != nil {
		return err
	}

	if err := s.members.Delete(ctx, serverID, uid); err != nil {
		return internalError(err, "deleting member")
	}
	s.gateway.DispatchToServer(serverID, gateway.EventGuildMemberRemove, gateway.MemberRemoveData{ServerID: serverID, UID: uid})
	return nil
}

func (s *MemberService) requireMember(ctx context.Context, serverID, uid string) (*models.Member, error) {
	member, err := s.members.GetByServerAndUser(ctx, serverID, uid)
	if err != nil {
		return nil, internalError(err, "loading member")
	}
	if member == nil {
		return nil, NotFound("NOT_FOUND", "member not found")
	}
	return member, nil
}

// afterChange recomputes uid, then reloads and announces the member.
func (s *MemberService) afterChange(ctx context.Context, serverID, uid string) (*models.Member, []cascade.Warning, error) {
	warnings := cascadeWarnings(s.cascade.MemberChanged(ctx, serverID, uid))

	member, err := s.members.GetByServerAndUser(ctx, serverID, uid)
	if err != nil {
		return nil, warnings, internalError(err, "reloading member")
	}
	if member == nil {
		return nil, warnings, NotFound("NOT_FOUND", "member not found")
	}
	s.gateway.DispatchToServer(serverID, gateway.EventGuildMemberUpdate, member)
	return member, warnings, nil
}
