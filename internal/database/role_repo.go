package database

import (
	"context"
	"sort"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type roleRepo struct {
	store docstore.Store
}

func NewRoleRepository(store docstore.Store) RoleRepository {
	return &roleRepo{store: store}
}

func (r *roleRepo) Create(ctx context.Context, role *models.Role) error {
	doc, err := toDocument(role)
	if err != nil {
		return err
	}
	return r.store.Write(ctx, RolePath(role.ServerID, role.ID), doc)
}

func (r *roleRepo) GetByID(ctx context.Context, serverID, roleID string) (*models.Role, error) {
	doc, err := r.store.Read(ctx, RolePath(serverID, roleID))
	role := &models.Role{}
	found, err := readModel(doc, err, role)
	if !found || err != nil {
		return nil, err
	}
	role.ID, role.ServerID = roleID, serverID
	return role, nil
}

// GetByServerID returns the server's roles ordered by position, then id.
func (r *roleRepo) GetByServerID(ctx context.Context, serverID string) ([]models.Role, error) {
	snaps, err := r.store.List(ctx, RolesPath(serverID))
	if err != nil {
		return nil, err
	}
	roles, err := decodeAll(snaps, func(role *models.Role, id string) {
		role.ID, role.ServerID = id, serverID
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Position != roles[j].Position {
			return roles[i].Position < roles[j].Position
		}
		return roles[i].ID < roles[j].ID
	})
	return roles, nil
}

// Update replaces the editable fields. The permission map is written whole
// so keys dropped by the caller disappear from the document.
func (r *roleRepo) Update(ctx context.Context, role *models.Role) error {
	update := docstore.Document{
		"name":             role.Name,
		"position":         role.Position,
		"permissions":      boolMap(role.Permissions),
		"permissionBits":   bitsValue(role.PermissionBits),
		"mentionable":      role.Mentionable,
		"showInMemberList": role.ShowInMemberList,
		"isEveryoneRole":   role.IsEveryoneRole,
	}
	if role.Color != nil {
		update["color"] = *role.Color
	}
	return updateExisting(ctx, r.store, RolePath(role.ServerID, role.ID), update)
}

func (r *roleRepo) SetPermissionBits(ctx context.Context, serverID, roleID string, bits int64) error {
	return updateExisting(ctx, r.store, RolePath(serverID, roleID), docstore.Document{"permissionBits": bitsValue(bits)})
}

func (r *roleRepo) Delete(ctx context.Context, serverID, roleID string) error {
	return r.store.Delete(ctx, RolePath(serverID, roleID))
}
