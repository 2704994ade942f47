package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

// batch collects decoded submissions until it is full or old enough to flush.
type batch struct {
	handler ScoreHandler
	logger  *slog.Logger
	size    int
	timeout time.Duration

	subs    []domain.ScoreSubmission
	started time.Time
}

func newBatch(handler ScoreHandler, size int, timeout time.Duration, logger *slog.Logger) *batch {
	if size <= 0 {
		size = 1
	}
	return &batch{
		handler: handler,
		logger:  logger,
		size:    size,
		timeout: timeout,
		subs:    make([]domain.ScoreSubmission, 0, size),
	}
}

// add appends sub and reports whether the batch is full
func (b *batch) add(sub domain.ScoreSubmission, now time.Time) bool {
	if len(b.subs) == 0 {
		b.started = now
	}
	b.subs = append(b.subs, sub)
	return len(b.subs) >= b.size
}

// due reports whether a non-empty batch has waited at least the timeout
func (b *batch) due(now time.Time) bool {
	return len(b.subs) > 0 && now.Sub(b.started) >= b.timeout
}

func (b *batch) len() int {
	return len(b.subs)
}

// flush hands the pending submissions to the handler and empties the batch.
// On error the submissions are dropped too; the caller arranges redelivery.
func (b *batch) flush(ctx context.Context) (int, error) {
	if len(b.subs) == 0 {
		return 0, nil
	}
	improved, err := b.handler.SubmitScoreBatch(ctx, b.subs)
	size := len(b.subs)
	b.subs = b.subs[:0]
	if err != nil {
		return improved, err
	}
	b.logger.Debug("processed batch", "batch_size", size, "improved", improved)
	return improved, nil
}
