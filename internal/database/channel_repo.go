package database

import (
	"context"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type channelRepo struct {
	store docstore.Store
}

func NewChannelRepository(store docstore.Store) ChannelRepository {
	return &channelRepo{store: store}
}

func (r *channelRepo) Create(ctx context.Context, ch *models.Channel) error {
	doc, err := toDocument(ch)
	if err != nil {
		return err
	}
	if ch.AllowedRoleIDs == nil {
		doc["allowedRoleIds"] = []any{}
	}
	return r.store.Write(ctx, ChannelPath(ch.ServerID, ch.ID), doc)
}

func (r *channelRepo) GetByID(ctx context.Context, serverID, channelID string) (*models.Channel, error) {
	doc, err := r.store.Read(ctx, ChannelPath(serverID, channelID))
	ch := &models.Channel{}
	found, err := readModel(doc, err, ch)
	if !found || err != nil {
		return nil, err
	}
	ch.ID, ch.ServerID = channelID, serverID
	return ch, nil
}

func (r *channelRepo) GetByServerID(ctx context.Context, serverID string) ([]models.Channel, error) {
	snaps, err := r.store.List(ctx, ChannelsPath(serverID))
	if err != nil {
		return nil, err
	}
	return decodeAll(snaps, setChannelID(serverID))
}

func (r *channelRepo) GetByAllowedRole(ctx context.Context, serverID, roleID string) ([]models.Channel, error) {
	snaps, err := r.store.List(ctx, ChannelsPath(serverID), docstore.ArrayContains("allowedRoleIds", roleID))
	if err != nil {
		return nil, err
	}
	return decodeAll(snaps, setChannelID(serverID))
}

func (r *channelRepo) PruneRole(ctx context.Context, serverID, roleID string, channelIDs []string) error {
	if len(channelIDs) == 0 {
		return nil
	}
	mutations := make([]docstore.Mutation, len(channelIDs))
	for i, id := range channelIDs {
		mutations[i] = docstore.Mutation{
			Path:      ChannelPath(serverID, id),
			Update:    docstore.Document{"allowedRoleIds": docstore.Remove(roleID)},
			MustExist: true,
		}
	}
	return r.store.BatchWrite(ctx, mutations)
}

func (r *channelRepo) Delete(ctx context.Context, serverID, channelID string) error {
	return r.store.Delete(ctx, ChannelPath(serverID, channelID))
}

func setChannelID(serverID string) func(*models.Channel, string) {
	return func(ch *models.Channel, id string) {
		ch.ID, ch.ServerID = id, serverID
	}
}
