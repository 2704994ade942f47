package domain

import (
	"context"
	"time"
)

// ConfigurationRepository stores board configurations keyed by (userID, configID).
type ConfigurationRepository interface {
	ListConfigurations(ctx context.Context, userID string) ([]Configuration, error)
	GetConfiguration(ctx context.Context, userID, configID string) (*Configuration, error)
	// CreateConfiguration assigns the next numeric id for the owner. Implementations
	// return ErrConfigurationConflict when a concurrent create took the same id.
	CreateConfiguration(ctx context.Context, userID string, in ConfigurationInput, now time.Time) (*Configuration, error)
	UpdateConfiguration(ctx context.Context, userID, configID string, in ConfigurationInput, now time.Time) (*Configuration, error)
	DeleteConfiguration(ctx context.Context, userID, configID string) error
}

// RoundRepository stores rounds keyed by roundID.
type RoundRepository interface {
	// CreateRound inserts the round only if the id is unused, else ErrRoundExists.
	CreateRound(ctx context.Context, round *Round) error
	GetRound(ctx context.Context, roundID string) (*Round, error)
	ListRounds(ctx context.Context) ([]Round, error)
	DeleteRound(ctx context.Context, roundID string) error
}

// ScoreRepository stores personal bests keyed by (roundID, userID).
type ScoreRepository interface {
	// SubmitBest writes the submission only when it beats the stored best,
	// in a single conditional write.
	SubmitBest(ctx context.Context, sub ScoreSubmission, completedAt time.Time) (*SubmitResult, error)
	ListRoundScores(ctx context.Context, roundID string) ([]Score, error)
	ListUserScores(ctx context.Context, userID string) ([]Score, error)
	ListScoredRounds(ctx context.Context) ([]string, error)
}

// ProfileRepository stores user profiles keyed by userID.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, id Identity, upd ProfileUpdate, now time.Time) (*Profile, error)
}

// Store is a storage backend serving every resource.
type Store interface {
	ConfigurationRepository
	RoundRepository
	ScoreRepository
	ProfileRepository
	Ping(ctx context.Context) error
	Close()
}
