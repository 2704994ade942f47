package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

const maxConfigCreateAttempts = 5

// ConfigurationService manages per-user board configurations.
type ConfigurationService struct {
	repo   domain.ConfigurationRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewConfigurationService creates a new configuration service
func NewConfigurationService(repo domain.ConfigurationRepository, logger *slog.Logger) *ConfigurationService {
	return &ConfigurationService{
		repo:   repo,
		logger: logger,
		now:    utcNow,
	}
}

// List returns the caller's configurations keyed by configId.
func (s *ConfigurationService) List(ctx context.Context, userID string) (map[string]domain.Configuration, error) {
	configs, err := s.repo.ListConfigurations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing configurations: %w", err)
	}

	out := make(map[string]domain.Configuration, len(configs))
	for _, c := range configs {
		out[c.ConfigID] = c
	}
	return out, nil
}

func (s *ConfigurationService) Get(ctx context.Context, userID, configID string) (*domain.Configuration, error) {
	c, err := s.repo.GetConfiguration(ctx, userID, configID)
	if err != nil {
		return nil, fmt.Errorf("getting configuration: %w", err)
	}
	return c, nil
}

// Create stores a new configuration under the owner's next numeric id.
// A lost race for the id is retried with a fresh id.
func (s *ConfigurationService) Create(ctx context.Context, userID string, in domain.ConfigurationInput) (*domain.Configuration, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxConfigCreateAttempts; attempt++ {
		c, err := s.repo.CreateConfiguration(ctx, userID, in, s.now())
		if err == nil {
			s.logger.Info("configuration created", "user_id", userID, "config_id", c.ConfigID)
			return c, nil
		}
		if !errors.Is(err, domain.ErrConfigurationConflict) {
			return nil, fmt.Errorf("creating configuration: %w", err)
		}
		lastErr = err
		s.logger.Debug("configuration id conflict, retrying", "user_id", userID, "attempt", attempt)
	}
	return nil, fmt.Errorf("creating configuration after %d attempts: %w", maxConfigCreateAttempts, lastErr)
}

// Update replaces walls and targets of an existing configuration.
// Existence is checked before the body is validated.
func (s *ConfigurationService) Update(ctx context.Context, userID, configID string, in domain.ConfigurationInput) error {
	if _, err := s.repo.GetConfiguration(ctx, userID, configID); err != nil {
		return fmt.Errorf("getting configuration: %w", err)
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.UpdateConfiguration(ctx, userID, configID, in, s.now()); err != nil {
		return fmt.Errorf("updating configuration: %w", err)
	}
	return nil
}

func (s *ConfigurationService) Delete(ctx context.Context, userID, configID string) error {
	if err := s.repo.DeleteConfiguration(ctx, userID, configID); err != nil {
		return fmt.Errorf("deleting configuration: %w", err)
	}
	s.logger.Info("configuration deleted", "user_id", userID, "config_id", configID)
	return nil
}
