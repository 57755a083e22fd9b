package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/permissions"
)

// ServerService handles server business logic.
type ServerService struct {
	servers  database.ServerRepository
	roles    database.RoleRepository
	members  database.MemberRepository
	channels database.ChannelRepository
	cascade  *cascade.Controller
	now      func() time.Time
}

// NewServerService creates a ServerService.
func NewServerService(repos *database.Repositories, ctrl *cascade.Controller) *ServerService {
	return &ServerService{
		servers:  repos.Servers,
		roles:    repos.Roles,
		members:  repos.Members,
		channels: repos.Channels,
		cascade:  ctrl,
		now:      time.Now,
	}
}

// everyonePermissions is what the baseline role of a new server grants.
var everyonePermissions = permissions.Of(
	permissions.ViewChannel,
	permissions.SendMessages,
	permissions.ReadMessageHistory,
	permissions.ChangeNickname,
	permissions.AddReactions,
	permissions.Connect,
	permissions.Speak,
)

// CreateServer creates a server with an everyone role as its default, an
// owner role held by the creator and a general channel.
func (s *ServerService) CreateServer(ctx context.Context, ownerID, name string) (*models.Server, []cascade.Warning, error) {
	if len(name) < 2 || len(name) > 100 {
		return nil, nil, BadRequest("INVALID_NAME", "server name must be 2-100 characters")
	}
	now := s.now().UTC()

	server := &models.Server{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
	}
	everyone := &models.Role{
		ID:             uuid.NewString(),
		ServerID:       server.ID,
		Name:           "@everyone",
		Position:       0,
		Permissions:    everyonePermissions.Map(),
		PermissionBits: everyonePermissions.Bits(),
		IsEveryoneRole: true,
		CreatedAt:      now,
	}
	owner := &models.Role{
		ID:               uuid.NewString(),
		ServerID:         server.ID,
		Name:             "Owner",
		Position:         1,
		Permissions:      permissions.All.Map(),
		PermissionBits:   permissions.All.Bits(),
		IsOwnerRole:      true,
		ShowInMemberList: true,
		CreatedAt:        now,
	}
	server.DefaultRoleID = everyone.ID

	if err := s.servers.Create(ctx, server); err != nil {
		return nil, nil, internalError(err, "creating server")
	}
	for _, role := range []*models.Role{everyone, owner} {
		if err := s.roles.Create(ctx, role); err != nil {
			return nil, nil, internalError(err, "creating role")
		}
	}
	if err := s.members.Create(ctx, &models.Member{
		UID:      ownerID,
		ServerID: server.ID,
		BaseRole: models.BaseRoleOwner,
		RoleIDs:  []string{owner.ID},
		JoinedAt: now,
	}); err != nil {
		return nil, nil, internalError(err, "creating owner member")
	}
	if err := s.channels.Create(ctx, &models.Channel{
		ID:       uuid.NewString(),
		ServerID: server.ID,
		Name:     "general",
	}); err != nil {
		return nil, nil, internalError(err, "creating channel")
	}

	return server, cascadeWarnings(s.cascade.RecomputeForMember(ctx, server.ID, ownerID)), nil
}

// GetServer returns a server visible to uid. Non-members get NotFound.
func (s *ServerService) GetServer(ctx context.Context, serverID, uid string) (*models.Server, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, internalError(err, "loading server")
	}
	if server == nil {
		return nil, NotFound("NOT_FOUND", "server not found")
	}
	if server.OwnerID != uid {
		member, err := s.members.GetByServerAndUser(ctx, serverID, uid)
		if err != nil {
			return nil, internalError(err, "loading member")
		}
		if member == nil {
			return nil, NotFound("NOT_FOUND", "server not found")
		}
	}
	return server, nil
}
