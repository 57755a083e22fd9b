package database

import (
	"context"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type memberRepo struct {
	store docstore.Store
}

func NewMemberRepository(store docstore.Store) MemberRepository {
	return &memberRepo{store: store}
}

func (r *memberRepo) Create(ctx context.Context, member *models.Member) error {
	doc, err := toDocument(member)
	if err != nil {
		return err
	}
	if member.RoleIDs == nil {
		doc["roleIds"] = []any{}
	}
	return r.store.Write(ctx, MemberPath(member.ServerID, member.UID), doc)
}

func (r *memberRepo) GetByServerAndUser(ctx context.Context, serverID, uid string) (*models.Member, error) {
	doc, err := r.store.Read(ctx, MemberPath(serverID, uid))
	m := &models.Member{}
	found, err := readModel(doc, err, m)
	if !found || err != nil {
		return nil, err
	}
	m.UID, m.ServerID = uid, serverID
	return m, nil
}

func (r *memberRepo) GetByServerID(ctx context.Context, serverID string) ([]models.Member, error) {
	snaps, err := r.store.List(ctx, MembersPath(serverID))
	if err != nil {
		return nil, err
	}
	return decodeAll(snaps, setMemberID(serverID))
}

func (r *memberRepo) GetByRole(ctx context.Context, serverID, roleID string) ([]models.Member, error) {
	snaps, err := r.store.List(ctx, MembersPath(serverID), docstore.ArrayContains("roleIds", roleID))
	if err != nil {
		return nil, err
	}
	return decodeAll(snaps, setMemberID(serverID))
}

func (r *memberRepo) SetRoles(ctx context.Context, serverID, uid string, roleIDs []string) error {
	return updateExisting(ctx, r.store, MemberPath(serverID, uid), docstore.Document{"roleIds": stringsToAny(roleIDs)})
}

func (r *memberRepo) AddRole(ctx context.Context, serverID, uid, roleID string) error {
	return updateExisting(ctx, r.store, MemberPath(serverID, uid), docstore.Document{"roleIds": docstore.Union(roleID)})
}

func (r *memberRepo) RemoveRole(ctx context.Context, serverID, uid, roleID string) error {
	return updateExisting(ctx, r.store, MemberPath(serverID, uid), docstore.Document{"roleIds": docstore.Remove(roleID)})
}

func (r *memberRepo) SetBaseRole(ctx context.Context, serverID, uid string, base models.BaseRole) error {
	return updateExisting(ctx, r.store, MemberPath(serverID, uid), docstore.Document{"baseRole": string(base)})
}

func (r *memberRepo) SetNickname(ctx context.Context, serverID, uid string, nickname *string) error {
	var v any
	if nickname != nil {
		v = *nickname
	}
	return updateExisting(ctx, r.store, MemberPath(serverID, uid), docstore.Document{"nickname": v})
}

func (r *memberRepo) Delete(ctx context.Context, serverID, uid string) error {
	return r.store.Delete(ctx, MemberPath(serverID, uid))
}

func (r *memberRepo) WritePermissions(ctx context.Context, serverID string, updates []PermissionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	mutations := make([]docstore.Mutation, len(updates))
	for i, u := range updates {
		mutations[i] = docstore.Mutation{
			Path: MemberPath(serverID, u.UID),
			Update: docstore.Document{
				"permissions":           boolMap(u.Permissions),
				"permissionBits":        bitsValue(u.Bits),
				"permissionsComputedAt": timestamp(u.ComputedAt),
			},
			MustExist: true,
		}
	}
	return r.store.BatchWrite(ctx, mutations)
}

func (r *memberRepo) PruneRole(ctx context.Context, serverID, roleID string, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	mutations := make([]docstore.Mutation, len(uids))
	for i, uid := range uids {
		mutations[i] = docstore.Mutation{
			Path:      MemberPath(serverID, uid),
			Update:    docstore.Document{"roleIds": docstore.Remove(roleID)},
			MustExist: true,
		}
	}
	return r.store.BatchWrite(ctx, mutations)
}

func setMemberID(serverID string) func(*models.Member, string) {
	return func(m *models.Member, uid string) {
		m.UID, m.ServerID = uid, serverID
	}
}
