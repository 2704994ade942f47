// Package service holds the business rules for configurations, rounds, scores and profiles.
package service

import (
	"context"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

// ScoreCache caches round leaderboards. A nil cache disables caching.
// SetRoundScores refuses a fill when the round was invalidated after
// RoundVersion was read.
type ScoreCache interface {
	GetRoundScores(ctx context.Context, roundID string) ([]domain.Score, bool, error)
	RoundVersion(ctx context.Context, roundID string) (int64, error)
	SetRoundScores(ctx context.Context, roundID string, version int64, scores []domain.Score) (bool, error)
	InvalidateRound(ctx context.Context, roundID string) error
}

// ProfileCache caches public profile lookups. A nil cache disables caching.
type ProfileCache interface {
	GetPublicProfile(ctx context.Context, userID string) (*domain.PublicProfile, bool, error)
	SetPublicProfile(ctx context.Context, profile domain.PublicProfile) error
}

// Broadcaster pushes leaderboard changes to realtime subscribers.
type Broadcaster interface {
	SubscriberCount(roundID string) int
	BroadcastScoreUpdate(roundID string, score domain.Score)
	BroadcastLeaderboardUpdate(roundID string, scores []domain.Score)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
