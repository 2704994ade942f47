package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.ScoreSubmission
	err     error
}

func (r *recordingHandler) SubmitScoreBatch(ctx context.Context, subs []domain.ScoreSubmission) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.ScoreSubmission(nil), subs...))
	if r.err != nil {
		return 0, r.err
	}
	return len(subs), nil
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func testBatch(size int, timeout time.Duration) (*batch, *recordingHandler) {
	h := &recordingHandler{}
	return newBatch(h, size, timeout, slog.New(slog.NewTextHandler(io.Discard, nil))), h
}

func TestBatchFlushesWhenFull(t *testing.T) {
	b, h := testBatch(2, time.Second)
	now := time.Now()

	if b.add(domain.ScoreSubmission{RoundID: "r1", UserID: "u1", Moves: 3}, now) {
		t.Fatalf("batch full after one submission")
	}
	if !b.add(domain.ScoreSubmission{RoundID: "r1", UserID: "u2", Moves: 5}, now) {
		t.Fatalf("batch not full after two submissions")
	}

	if got, err := b.flush(context.Background()); err != nil || got != 2 {
		t.Fatalf("flush = (%d, %v), want (2, nil)", got, err)
	}
	if len(h.batches) != 1 || len(h.batches[0]) != 2 {
		t.Fatalf("batches = %v", h.batches)
	}
	if b.len() != 0 {
		t.Fatalf("len after flush = %d, want 0", b.len())
	}
}

func TestBatchDue(t *testing.T) {
	b, h := testBatch(10, time.Second)
	start := time.Now()

	if b.due(start.Add(time.Hour)) {
		t.Fatalf("empty batch reported due")
	}
	b.add(domain.ScoreSubmission{RoundID: "r1", UserID: "u1", Moves: 3}, start)
	if b.due(start.Add(500 * time.Millisecond)) {
		t.Fatalf("batch due before timeout")
	}
	if !b.due(start.Add(time.Second)) {
		t.Fatalf("batch not due at timeout")
	}

	b.flush(context.Background())
	if n, _ := b.flush(context.Background()); n != 0 || len(h.batches) != 1 {
		t.Fatalf("empty flush reached handler: %v", h.batches)
	}
}

func TestTickInterval(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{time.Second, 250 * time.Millisecond},
		{20 * time.Millisecond, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := tickInterval(tt.timeout); got != tt.want {
			t.Fatalf("tickInterval(%v) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}
