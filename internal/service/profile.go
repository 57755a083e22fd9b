package service

import (
	"context"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/models"
)

// ProfileService handles the users/{uid} profile documents that also feed
// presence.
type ProfileService struct {
	profiles database.ProfileRepository
}

// NewProfileService creates a ProfileService.
func NewProfileService(profiles database.ProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles}
}

// GetProfile returns the profile of uid.
func (s *ProfileService) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	profile, err := s.profiles.GetByUID(ctx, uid)
	if err != nil {
		return nil, internalError(err, "loading profile")
	}
	if profile == nil {
		return nil, NotFound("NOT_FOUND", "user not found")
	}
	return profile, nil
}

// UpdateProfile sets the caller's display name, creating the profile on
// first use.
func (s *ProfileService) UpdateProfile(ctx context.Context, uid, displayName string) (*models.Profile, error) {
	if len(displayName) < 1 || len(displayName) > 32 {
		return nil, BadRequest("INVALID_DISPLAY_NAME", "display name must be 1-32 characters")
	}
	profile, err := s.profiles.GetByUID(ctx, uid)
	if err != nil {
		return nil, internalError(err, "loading profile")
	}
	if profile == nil {
		profile = &models.Profile{UID: uid}
	}
	profile.DisplayName = displayName

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, internalError(err, "saving profile")
	}
	return profile, nil
}
