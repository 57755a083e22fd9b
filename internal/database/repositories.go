package database

import (
	"context"
	"time"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type ServerRepository interface {
	Create(ctx context.Context, server *models.Server) error
	GetByID(ctx context.Context, id string) (*models.Server, error)
	List(ctx context.Context) ([]models.Server, error)
	SetDefaultRole(ctx context.Context, serverID, roleID string) error
	Delete(ctx context.Context, id string) error
}

type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, serverID, roleID string) (*models.Role, error)
	GetByServerID(ctx context.Context, serverID string) ([]models.Role, error)
	Update(ctx context.Context, role *models.Role) error
	SetPermissionBits(ctx context.Context, serverID, roleID string, bits int64) error
	Delete(ctx context.Context, serverID, roleID string) error
}

type MemberRepository interface {
	Create(ctx context.Context, member *models.Member) error
	GetByServerAndUser(ctx context.Context, serverID, uid string) (*models.Member, error)
	GetByServerID(ctx context.Context, serverID string) ([]models.Member, error)
	GetByRole(ctx context.Context, serverID, roleID string) ([]models.Member, error)
	SetRoles(ctx context.Context, serverID, uid string, roleIDs []string) error
	AddRole(ctx context.Context, serverID, uid, roleID string) error
	RemoveRole(ctx context.Context, serverID, uid, roleID string) error
	SetBaseRole(ctx context.Context, serverID, uid string, base models.BaseRole) error
	SetNickname(ctx context.Context, serverID, uid string, nickname *string) error
	Delete(ctx context.Context, serverID, uid string) error
	// WritePermissions stores computed permission caches in one atomic batch.
	WritePermissions(ctx context.Context, serverID string, updates []PermissionUpdate) error
	// PruneRole removes roleID from the roleIds of every listed member in one
	// atomic batch.
	PruneRole(ctx context.Context, serverID, roleID string, uids []string) error
}

type ChannelRepository interface {
	Create(ctx context.Context, channel *models.Channel) error
	GetByID(ctx context.Context, serverID, channelID string) (*models.Channel, error)
	GetByServerID(ctx context.Context, serverID string) ([]models.Channel, error)
	GetByAllowedRole(ctx context.Context, serverID, roleID string) ([]models.Channel, error)
	PruneRole(ctx context.Context, serverID, roleID string, channelIDs []string) error
	Delete(ctx context.Context, serverID, channelID string) error
}

type ProfileRepository interface {
	GetByUID(ctx context.Context, uid string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
	SetStatus(ctx context.Context, uid, status string, at time.Time) error
	Touch(ctx context.Context, uid string, at time.Time) error
}

// PermissionUpdate is one member's freshly computed permission cache.
type PermissionUpdate struct {
	UID         string
	Permissions map[string]bool
	Bits        int64
	ComputedAt  time.Time
}

// Repositories bundles every repository over one store.
type Repositories struct {
	Servers  ServerRepository
	Roles    RoleRepository
	Members  MemberRepository
	Channels ChannelRepository
	Profiles ProfileRepository
}

func NewRepositories(store docstore.Store) *Repositories {
	return &Repositories{
		Servers:  NewServerRepository(store),
		Roles:    NewRoleRepository(store),
		Members:  NewMemberRepository(store),
		Channels: NewChannelRepository(store),
		Profiles: NewProfileRepository(store),
	}
}

// updateExisting merges update into the document at path. A document that
// has been deleted stays deleted.
func updateExisting(ctx context.Context, store docstore.Store, path string, update docstore.Document) error {
	return store.BatchWrite(ctx, []docstore.Mutation{{Path: path, Update: update, MustExist: true}})
}
