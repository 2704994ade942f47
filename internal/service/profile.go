package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

// ProfileService manages user profiles and public username lookups.
type ProfileService struct {
	repo   domain.ProfileRepository
	cache  ProfileCache
	logger *slog.Logger
	now    func() time.Time
}

// NewProfileService creates a new profile service. cache may be nil.
func NewProfileService(repo domain.ProfileRepository, cache ProfileCache, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    utcNow,
	}
}

// Get returns the caller's stored profile, or a default view that is not persisted.
func (s *ProfileService) Get(ctx context.Context, id domain.Identity) (*domain.Profile, error) {
	p, err := s.repo.GetProfile(ctx, id.UserID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return domain.DefaultProfile(id, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// Update creates or merges the caller's profile.
func (s *ProfileService) Update(ctx context.Context, id domain.Identity, upd domain.ProfileUpdate) (*domain.Profile, error) {
	p, err := s.repo.UpsertProfile(ctx, id, upd, s.now())
	if err != nil {
		return nil, fmt.Errorf("upserting profile: %w", err)
	}
	s.logger.Info("profile updated", "user_id", id.UserID)

	if s.cache != nil {
		if err := s.cache.SetPublicProfile(ctx, p.Public()); err != nil {
			s.logger.Warn("failed to refresh public profile cache", "user_id", id.UserID, "error", err)
		}
	}
	return p, nil
}

// PublicProfile returns username and email of any user. Unknown users get null fields.
func (s *ProfileService) PublicProfile(ctx context.Context, userID string) (*domain.PublicProfile, error) {
	if s.cache != nil {
		pub, ok, err := s.cache.GetPublicProfile(ctx, userID)
		if err != nil {
			s.logger.Warn("public profile cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return pub, nil
		}
	}

	var pub domain.PublicProfile
	p, err := s.repo.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		pub = domain.PublicProfile{UserID: userID}
	case err != nil:
		return nil, fmt.Errorf("getting profile: %w", err)
	default:
		pub = p.Public()
	}

	if s.cache != nil {
		if err := s.cache.SetPublicProfile(ctx, pub); err != nil {
			s.logger.Warn("public profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return &pub, nil
}
