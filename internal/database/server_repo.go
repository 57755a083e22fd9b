package database

import (
	"context"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type serverRepo struct {
	store docstore.Store
}

func NewServerRepository(store docstore.Store) ServerRepository {
	return &serverRepo{store: store}
}

func (r *serverRepo) Create(ctx context.Context, server *models.Server) error {
	doc, err := toDocument(server)
	if err != nil {
		return err
	}
	return r.store.Write(ctx, ServerPath(server.ID), doc)
}

func (r *serverRepo) GetByID(ctx context.Context, id string) (*models.Server, error) {
	doc, err := r.store.Read(ctx, ServerPath(id))
	server := &models.Server{}
	found, err := readModel(doc, err, server)
	if !found || err != nil {
		return nil, err
	}
	server.ID = id
	return server, nil
}

func (r *serverRepo) List(ctx context.Context) ([]models.Server, error) {
	snaps, err := r.store.List(ctx, ServersCollection)
	if err != nil {
		return nil, err
	}
	return decodeAll(snaps, func(s *models.Server, id string) { s.ID = id })
}

func (r *serverRepo) SetDefaultRole(ctx context.Context, serverID, roleID string) error {
	return r.store.Write(ctx, ServerPath(serverID), docstore.Document{"defaultRoleId": roleID})
}

func (r *serverRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, ServerPath(id))
}
