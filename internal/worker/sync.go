package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

// ScoreSource is the store of record for leaderboards
type ScoreSource interface {
	ListScoredRounds(ctx context.Context) ([]string, error)
	ListRoundScores(ctx context.Context, roundID string) ([]domain.Score, error)
}

// LeaderboardCache receives rebuilt leaderboards. A rebuild is dropped when
// the round was invalidated while it was being loaded.
type LeaderboardCache interface {
	RoundVersion(ctx context.Context, roundID string) (int64, error)
	SetRoundScores(ctx context.Context, roundID string, version int64, scores []domain.Score) (bool, error)
	CachedRounds(ctx context.Context) (int, error)
}

// SyncWorker periodically rebuilds cached leaderboards from the repository
type SyncWorker struct {
	source  ScoreSource
	cache   LeaderboardCache
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(source ScoreSource, cache LeaderboardCache, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.SyncAll(ctx); err != nil {
				w.logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// SyncAll rebuilds the cache for every round with scores, BatchSize rounds
// at a time. A failing round is logged and skipped.
func (w *SyncWorker) SyncAll(ctx context.Context) error {
	startTime := time.Now()

	rounds, err := w.source.ListScoredRounds(ctx)
	if err != nil {
		return fmt.Errorf("listing scored rounds: %w", err)
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	syncedCount := 0
	errorCount := 0
	for start := 0; start < len(rounds); start += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + batchSize
		if end > len(rounds) {
			end = len(rounds)
		}
		for _, roundID := range rounds[start:end] {
			if err := w.SyncRound(ctx, roundID); err != nil {
				w.logger.Error("failed to sync round", "round_id", roundID, "error", err)
				errorCount++
				continue
			}
			syncedCount++
		}
		w.logger.Debug("synced batch", "from", start, "to", end)
	}

	cached, err := w.cache.CachedRounds(ctx)
	if err != nil {
		w.logger.Warn("failed to count cached rounds", "error", err)
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
		"cached_rounds", cached,
	)
	return nil
}

// SyncRound copies one round's leaderboard from the repository into the cache
func (w *SyncWorker) SyncRound(ctx context.Context, roundID string) error {
	version, err := w.cache.RoundVersion(ctx, roundID)
	if err != nil {
		return fmt.Errorf("reading cache version: %w", err)
	}
	scores, err := w.source.ListRoundScores(ctx, roundID)
	if err != nil {
		return fmt.Errorf("listing scores: %w", err)
	}
	domain.SortLeaderboard(scores)

	stored, err := w.cache.SetRoundScores(ctx, roundID, version, scores)
	if err != nil {
		return fmt.Errorf("caching scores: %w", err)
	}
	if !stored {
		w.logger.Debug("round changed during sync, left for the next read", "round_id", roundID)
		return nil
	}

	w.logger.Debug("synced round", "round_id", roundID, "player_count", len(scores))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
