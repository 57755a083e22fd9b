package database

import (
	"context"
	"time"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/models"
)

type profileRepo struct {
	store docstore.Store
}

func NewProfileRepository(store docstore.Store) ProfileRepository {
	return &profileRepo{store: store}
}

func (r *profileRepo) GetByUID(ctx context.Context, uid string) (*models.Profile, error) {
	doc, err := r.store.Read(ctx, ProfilePath(uid))
	p := &models.Profile{}
	found, err := readModel(doc, err, p)
	if !found || err != nil {
		return nil, err
	}
	p.UID = uid
	return p, nil
}

func (r *profileRepo) Upsert(ctx context.Context, profile *models.Profile) error {
	doc, err := toDocument(profile)
	if err != nil {
		return err
	}
	return r.store.Write(ctx, ProfilePath(profile.UID), doc)
}

// SetStatus records a client-reported status string.
func (r *profileRepo) SetStatus(ctx context.Context, uid, status string, at time.Time) error {
	return r.store.Write(ctx, ProfilePath(uid), docstore.Document{
		"status":    status,
		"updatedAt": timestamp(at),
	})
}

// Touch records activity without changing the reported status.
func (r *profileRepo) Touch(ctx context.Context, uid string, at time.Time) error {
	return r.store.Write(ctx, ProfilePath(uid), docstore.Document{"lastActive": timestamp(at)})
}
