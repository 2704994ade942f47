// Package memory is an in-process storage backend for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

type configKey struct {
	userID   string
	configID string
}

type scoreKey struct {
	roundID string
	userID  string
}

// Store keeps every resource in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	configs  map[configKey]domain.Configuration
	rounds   map[string]domain.Round
	scores   map[scoreKey]domain.Score
	profiles map[string]domain.Profile
}

var _ domain.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		configs:  make(map[configKey]domain.Configuration),
		rounds:   make(map[string]domain.Round),
		scores:   make(map[scoreKey]domain.Score),
		profiles: make(map[string]domain.Profile),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() {}

// ListConfigurations returns the owner's configurations ordered by id.
func (s *Store) ListConfigurations(ctx context.Context, userID string) ([]domain.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Configuration, 0)
	for k, c := range s.configs {
		if k.userID == userID {
			out = append(out, c)
		}
	}
	domain.SortConfigurations(out)
	return out, nil
}

func (s *Store) GetConfiguration(ctx context.Context, userID, configID string) (*domain.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.configs[configKey{userID, configID}]
	if !ok {
		return nil, domain.ErrConfigurationNotFound
	}
	return &c, nil
}

// CreateConfiguration assigns max numeric id + 1 while holding the write lock.
func (s *Store) CreateConfiguration(ctx context.Context, userID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for k := range s.configs {
		if k.userID == userID {
			ids = append(ids, k.configID)
		}
	}

	c := domain.Configuration{
		UserID:    userID,
		ConfigID:  domain.NextConfigID(ids),
		Walls:     in.Walls,
		Targets:   in.Targets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.configs[configKey{userID, c.ConfigID}] = c
	return &c, nil
}

func (s *Store) UpdateConfiguration(ctx context.Context, userID, configID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey{userID, configID}
	c, ok := s.configs[key]
	if !ok {
		return nil, domain.ErrConfigurationNotFound
	}
	c.Walls = in.Walls
	c.Targets = in.Targets
	c.UpdatedAt = now
	s.configs[key] = c
	return &c, nil
}

func (s *Store) DeleteConfiguration(ctx context.Context, userID, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey{userID, configID}
	if _, ok := s.configs[key]; !ok {
		return domain.ErrConfigurationNotFound
	}
	delete(s.configs, key)
	return nil
}

func (s *Store) CreateRound(ctx context.Context, round *domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[round.RoundID]; ok {
		return domain.ErrRoundExists
	}
	s.rounds[round.RoundID] = *round
	return nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (*domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	return &r, nil
}

// ListRounds returns rounds newest first.
func (s *Store) ListRounds(ctx context.Context) ([]domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, r)
	}
	domain.SortRounds(out)
	return out, nil
}

func (s *Store) DeleteRound(ctx context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[roundID]; !ok {
		return domain.ErrRoundNotFound
	}
	delete(s.rounds, roundID)
	return nil
}

// SubmitBest compares and writes under the write lock.
func (s *Store) SubmitBest(ctx context.Context, sub domain.ScoreSubmission, completedAt time.Time) (*domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scoreKey{sub.RoundID, sub.UserID}
	existing, ok := s.scores[key]
	if ok && sub.Moves >= existing.Moves {
		return &domain.SubmitResult{Improved: false, Score: existing, CurrentBest: existing.Moves}, nil
	}

	score := domain.Score{
		RoundID:      sub.RoundID,
		UserID:       sub.UserID,
		Moves:        sub.Moves,
		MoveSequence: append(json.RawMessage(nil), sub.MoveSequence...),
		AttemptCount: existing.AttemptCount + 1,
		CompletedAt:  completedAt,
		UserEmail:    sub.UserEmail,
	}
	s.scores[key] = score
	return &domain.SubmitResult{Improved: true, Score: score, CurrentBest: score.Moves}, nil
}

func (s *Store) ListRoundScores(ctx context.Context, roundID string) ([]domain.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Score, 0)
	for k, sc := range s.scores {
		if k.roundID == roundID {
			out = append(out, sc)
		}
	}
	domain.SortLeaderboard(out)
	return out, nil
}

func (s *Store) ListUserScores(ctx context.Context, userID string) ([]domain.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Score, 0)
	for k, sc := range s.scores {
		if k.userID == userID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundID < out[j].RoundID })
	return out, nil
}

func (s *Store) ListScoredRounds(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]string, 0)
	for k := range s.scores {
		if !seen[k.roundID] {
			seen[k.roundID] = true
			out = append(out, k.roundID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	p.Attributes = copyAttributes(p.Attributes)
	return &p, nil
}

// UpsertProfile creates the profile on first write and merges afterwards.
func (s *Store) UpsertProfile(ctx context.Context, id domain.Identity, upd domain.ProfileUpdate, now time.Time) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id.UserID]
	if !ok {
		p = domain.Profile{
			UserID:    id.UserID,
			Email:     id.Email,
			CreatedAt: now,
		}
	}
	p.Attributes = copyAttributes(p.Attributes)
	for k, v := range upd.Attributes {
		p.Attributes[k] = v
	}
	if upd.Username != nil {
		name := *upd.Username
		p.Username = &name
	}
	p.UpdatedAt = now
	s.profiles[id.UserID] = p

	out := p
	out.Attributes = copyAttributes(p.Attributes)
	return &out, nil
}

func copyAttributes(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
