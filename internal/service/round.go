package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

const maxRoundIDAttempts = 50

var configIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RoundService manages puzzle rounds.
type RoundService struct {
	repo   domain.RoundRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewRoundService creates a new round service
func NewRoundService(repo domain.RoundRepository, logger *slog.Logger) *RoundService {
	return &RoundService{
		repo:   repo,
		logger: logger,
		now:    utcNow,
	}
}

// Create normalizes the request into puzzle states and stores it under a
// fresh round_<millis> id. pathConfigID, when set, wins over the body.
func (s *RoundService) Create(ctx context.Context, author domain.Identity, req domain.RoundRequest, pathConfigID string) (*domain.Round, error) {
	round, err := normalizeRound(req, pathConfigID)
	if err != nil {
		return nil, err
	}
	round.AuthorID = author.UserID
	round.AuthorEmail = author.Email
	round.CreatedAt = s.now()

	ms := round.CreatedAt.UnixMilli()
	for i := 0; i < maxRoundIDAttempts; i++ {
		round.RoundID = fmt.Sprintf("round_%d", ms+int64(i))
		err := s.repo.CreateRound(ctx, round)
		if err == nil {
			s.logger.Info("round created", "round_id", round.RoundID, "config_id", round.ConfigID, "user_id", author.UserID)
			return round, nil
		}
		if !errors.Is(err, domain.ErrRoundExists) {
			return nil, fmt.Errorf("creating round: %w", err)
		}
	}
	return nil, fmt.Errorf("creating round: no free id after %d attempts: %w", maxRoundIDAttempts, domain.ErrRoundExists)
}

func (s *RoundService) Get(ctx context.Context, roundID string) (*domain.Round, error) {
	r, err := s.repo.GetRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("getting round: %w", err)
	}
	return r, nil
}

func (s *RoundService) List(ctx context.Context) ([]domain.Round, error) {
	rounds, err := s.repo.ListRounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	return rounds, nil
}

// ListView returns a named listing. Every view currently lists all rounds.
func (s *RoundService) ListView(ctx context.Context, view domain.RoundView) ([]domain.Round, error) {
	s.logger.Debug("listing rounds", "view", view)
	return s.List(ctx)
}

// Delete removes a round if the caller authored it.
func (s *RoundService) Delete(ctx context.Context, caller domain.Identity, roundID string) error {
	r, err := s.repo.GetRound(ctx, roundID)
	if err != nil {
		return fmt.Errorf("getting round: %w", err)
	}
	if !r.AuthoredBy(caller) {
		return domain.ErrNotRoundAuthor
	}
	if err := s.repo.DeleteRound(ctx, roundID); err != nil {
		return fmt.Errorf("deleting round: %w", err)
	}
	s.logger.Info("round deleted", "round_id", roundID, "user_id", caller.UserID)
	return nil
}

func normalizeRound(req domain.RoundRequest, pathConfigID string) (*domain.Round, error) {
	configID, err := resolveConfigID(req.ConfigID, pathConfigID)
	if err != nil {
		return nil, err
	}

	var states []domain.PuzzleState
	if domain.Present(req.PuzzleStates) {
		if err := json.Unmarshal(req.PuzzleStates, &states); err != nil || len(states) == 0 {
			return nil, domain.Invalid("puzzleStates must be a non-empty list of puzzle states")
		}
		for _, st := range states {
			if st == nil {
				return nil, domain.Invalid("puzzleStates must be a non-empty list of puzzle states")
			}
		}
	} else {
		state, err := legacyPuzzleState(req)
		if err != nil {
			return nil, err
		}
		states = []domain.PuzzleState{state}
	}

	name, err := roundName(req.RoundName, configID)
	if err != nil {
		return nil, err
	}

	return &domain.Round{
		RoundName:    name,
		PuzzleStates: states,
		ConfigID:     configID,
	}, nil
}

// legacyPuzzleState validates the flat request fields and folds them into one puzzle state.
func legacyPuzzleState(req domain.RoundRequest) (domain.PuzzleState, error) {
	var missing []string
	if !domain.Present(req.InitialRobotPositions) {
		missing = append(missing, "initialRobotPositions")
	}
	if !domain.Present(req.TargetPositions) {
		missing = append(missing, "targetPositions")
	}
	if len(missing) > 0 {
		return nil, domain.Invalid("Missing required fields: " + strings.Join(missing, ", "))
	}
	return domain.LegacyPuzzleState(req.InitialRobotPositions, req.TargetPositions, req.Walls, req.Targets), nil
}

func resolveConfigID(body json.RawMessage, path string) (string, error) {
	id := strings.TrimSpace(path)
	if id == "" && domain.Present(body) {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			var n json.Number
			if err := json.Unmarshal(body, &n); err != nil {
				return "", domain.Invalid("configId must be a string")
			}
			s = n.String()
		}
		id = strings.TrimSpace(s)
	}
	if id != "" && !configIDPattern.MatchString(id) {
		return "", domain.Invalid("configId may only contain letters, numbers, hyphens, and underscores")
	}
	return id, nil
}

func roundName(raw json.RawMessage, configID string) (string, error) {
	var name string
	if domain.Present(raw) {
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", domain.Invalid("roundName must be a string")
		}
		name = strings.TrimSpace(name)
	}
	if name != "" {
		return name, nil
	}
	if configID != "" {
		return "Round from config " + configID, nil
	}
	return "Untitled round", nil
}
