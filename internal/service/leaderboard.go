package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

// ScoreService applies personal-best submissions and serves round leaderboards.
type ScoreService struct {
	repo   domain.ScoreRepository
	cache  ScoreCache
	hub    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewScoreService creates a new score service. cache may be nil.
func NewScoreService(repo domain.ScoreRepository, cache ScoreCache, logger *slog.Logger) *ScoreService {
	return &ScoreService{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    utcNow,
	}
}

// SetHub sets the realtime hub notified of new personal bests
func (s *ScoreService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SubmitScore stores the attempt when it beats the caller's best for the round.
func (s *ScoreService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmitResult, error) {
	res, err := s.repo.SubmitBest(ctx, sub, s.now())
	if err != nil {
		return nil, fmt.Errorf("submitting score: %w", err)
	}

	if !res.Improved {
		s.logger.Debug("score not improved",
			"round_id", sub.RoundID,
			"user_id", sub.UserID,
			"submitted", sub.Moves,
			"current_best", res.CurrentBest,
		)
		return res, nil
	}

	s.logger.Info("personal best stored",
		"round_id", sub.RoundID,
		"user_id", sub.UserID,
		"moves", res.Score.Moves,
		"attempt_count", res.Score.AttemptCount,
	)
	s.afterImprovement(ctx, res.Score)
	return res, nil
}

// SubmitScoreBatch submits each score in order. Rejected submissions are
// logged and skipped; any other failure stops the batch and is returned so
// the caller can retry it. improved counts new personal bests either way.
func (s *ScoreService) SubmitScoreBatch(ctx context.Context, subs []domain.ScoreSubmission) (int, error) {
	improved := 0
	for _, sub := range subs {
		res, err := s.SubmitScore(ctx, sub)
		if errors.Is(err, domain.ErrInvalidRequest) {
			s.logger.Warn("skipping rejected score in batch",
				"round_id", sub.RoundID,
				"user_id", sub.UserID,
				"error", err,
			)
			continue
		}
		if err != nil {
			return improved, err
		}
		if res.Improved {
			improved++
		}
	}
	return improved, nil
}

// RoundLeaderboard returns every score for the round, fewest moves first.
func (s *ScoreService) RoundLeaderboard(ctx context.Context, roundID string) ([]domain.Score, error) {
	fill := false
	var version int64
	if s.cache != nil {
		scores, ok, err := s.cache.GetRoundScores(ctx, roundID)
		if err != nil {
			s.logger.Warn("leaderboard cache read failed", "round_id", roundID, "error", err)
		} else if ok {
			return scores, nil
		}
		if version, err = s.cache.RoundVersion(ctx, roundID); err != nil {
			s.logger.Warn("leaderboard cache version read failed", "round_id", roundID, "error", err)
		} else {
			fill = true
		}
	}

	scores, err := s.repo.ListRoundScores(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("listing round scores: %w", err)
	}
	domain.SortLeaderboard(scores)

	if fill {
		if _, err := s.cache.SetRoundScores(ctx, roundID, version, scores); err != nil {
			s.logger.Warn("leaderboard cache write failed", "round_id", roundID, "error", err)
		}
	}
	return scores, nil
}

// UserScores returns every personal best of the user.
func (s *ScoreService) UserScores(ctx context.Context, userID string) ([]domain.Score, error) {
	scores, err := s.repo.ListUserScores(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user scores: %w", err)
	}
	return scores, nil
}

func (s *ScoreService) afterImprovement(ctx context.Context, score domain.Score) {
	if s.cache != nil {
		if err := s.cache.InvalidateRound(ctx, score.RoundID); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache", "round_id", score.RoundID, "error", err)
		}
	}

	if s.hub == nil || s.hub.SubscriberCount(score.RoundID) == 0 {
		return
	}
	s.hub.BroadcastScoreUpdate(score.RoundID, score)

	scores, err := s.RoundLeaderboard(ctx, score.RoundID)
	if err != nil {
		s.logger.Warn("failed to load leaderboard for broadcast", "round_id", score.RoundID, "error", err)
		return
	}
	s.hub.BroadcastLeaderboardUpdate(score.RoundID, scores)
}
