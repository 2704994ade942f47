package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

// newTestCache connects to the Redis named by ROBOTS_TEST_REDIS_ADDR.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("ROBOTS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROBOTS_TEST_REDIS_ADDR not set")
	}
	cfg := config.DefaultConfig().Redis
	cfg.Addr = addr
	cfg.CacheTTL = time.Minute

	c, err := NewCache(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundScoresRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	roundID := "test_" + uuid.NewString()
	t.Cleanup(func() { c.InvalidateRound(ctx, roundID) })

	if _, ok, err := c.GetRoundScores(ctx, roundID); err != nil || ok {
		t.Fatalf("GetRoundScores before set = (%t, %v), want miss", ok, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	scores := []domain.Score{
		{RoundID: roundID, UserID: "slow", Moves: 12, MoveSequence: json.RawMessage(`[]`), AttemptCount: 1, CompletedAt: now},
		{RoundID: roundID, UserID: "fast", Moves: 4, MoveSequence: json.RawMessage(`["r:up"]`), AttemptCount: 3, CompletedAt: now},
	}
	if stored, err := c.SetRoundScores(ctx, roundID, 0, scores); err != nil || !stored {
		t.Fatalf("SetRoundScores = (%t, %v), want stored", stored, err)
	}

	got, ok, err := c.GetRoundScores(ctx, roundID)
	if err != nil || !ok {
		t.Fatalf("GetRoundScores = (%t, %v), want hit", ok, err)
	}
	if len(got) != 2 || got[0].UserID != "fast" || got[0].AttemptCount != 3 {
		t.Fatalf("cached leaderboard = %+v", got)
	}

	if err := c.InvalidateRound(ctx, roundID); err != nil {
		t.Fatalf("InvalidateRound: %v", err)
	}
	if _, ok, _ := c.GetRoundScores(ctx, roundID); ok {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestEmptyLeaderboardIsCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	roundID := "test_" + uuid.NewString()
	t.Cleanup(func() { c.InvalidateRound(ctx, roundID) })

	if stored, err := c.SetRoundScores(ctx, roundID, 0, nil); err != nil || !stored {
		t.Fatalf("SetRoundScores = (%t, %v), want stored", stored, err)
	}
	got, ok, err := c.GetRoundScores(ctx, roundID)
	if err != nil || !ok || len(got) != 0 {
		t.Fatalf("GetRoundScores = (%v, %t, %v), want empty hit", got, ok, err)
	}
}

func TestStaleFillIsRefused(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	roundID := "test_" + uuid.NewString()
	t.Cleanup(func() { c.client.Del(ctx, versionKey(roundID)) })
	t.Cleanup(func() { c.InvalidateRound(ctx, roundID) })

	before, err := c.RoundVersion(ctx, roundID)
	if err != nil {
		t.Fatalf("RoundVersion: %v", err)
	}
	if err := c.InvalidateRound(ctx, roundID); err != nil {
		t.Fatalf("InvalidateRound: %v", err)
	}

	old := []domain.Score{{RoundID: roundID, UserID: "u1", Moves: 20}}
	stored, err := c.SetRoundScores(ctx, roundID, before, old)
	if err != nil || stored {
		t.Fatalf("SetRoundScores with old version = (%t, %v), want refused", stored, err)
	}
	if _, ok, _ := c.GetRoundScores(ctx, roundID); ok {
		t.Fatal("stale leaderboard was cached")
	}

	after, err := c.RoundVersion(ctx, roundID)
	if err != nil || after != before+1 {
		t.Fatalf("RoundVersion after invalidate = (%d, %v), want %d", after, err, before+1)
	}
	if stored, err := c.SetRoundScores(ctx, roundID, after, old); err != nil || !stored {
		t.Fatalf("SetRoundScores with current version = (%t, %v), want stored", stored, err)
	}
}

func TestPublicProfileCache(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	userID := "test_" + uuid.NewString()
	t.Cleanup(func() { c.client.Del(ctx, playerInfoKey(userID)) })

	name := "robo"
	if err := c.SetPublicProfile(ctx, domain.PublicProfile{UserID: userID, Username: &name}); err != nil {
		t.Fatalf("SetPublicProfile: %v", err)
	}
	pub, ok, err := c.GetPublicProfile(ctx, userID)
	if err != nil || !ok {
		t.Fatalf("GetPublicProfile = (%t, %v), want hit", ok, err)
	}
	if pub.Username == nil || *pub.Username != "robo" || pub.Email != nil {
		t.Fatalf("public profile = %+v", pub)
	}
}
