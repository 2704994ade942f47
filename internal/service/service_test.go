package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
	"github.com/robot-puzzle-api/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakeScoreCache struct {
	mu          sync.Mutex
	rounds      map[string][]domain.Score
	versions    map[string]int64
	gets        int
	invalidated []string
}

func newFakeScoreCache() *fakeScoreCache {
	return &fakeScoreCache{rounds: make(map[string][]domain.Score), versions: make(map[string]int64)}
}

func (c *fakeScoreCache) RoundVersion(ctx context.Context, roundID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[roundID], nil
}

func (c *fakeScoreCache) GetRoundScores(ctx context.Context, roundID string) ([]domain.Score, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	scores, ok := c.rounds[roundID]
	return scores, ok, nil
}

func (c *fakeScoreCache) SetRoundScores(ctx context.Context, roundID string, version int64, scores []domain.Score) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[roundID] != version {
		return false, nil
	}
	c.rounds[roundID] = scores
	return true, nil
}

func (c *fakeScoreCache) InvalidateRound(ctx context.Context, roundID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rounds, roundID)
	c.versions[roundID]++
	c.invalidated = append(c.invalidated, roundID)
	return nil
}

type fakeHub struct {
	subscribers  int
	scoreUpdates []domain.Score
	boards       [][]domain.Score
}

func (h *fakeHub) SubscriberCount(roundID string) int { return h.subscribers }

func (h *fakeHub) BroadcastScoreUpdate(roundID string, score domain.Score) {
	h.scoreUpdates = append(h.scoreUpdates, score)
}

func (h *fakeHub) BroadcastLeaderboardUpdate(roundID string, scores []domain.Score) {
	h.boards = append(h.boards, scores)
}

type conflictingConfigRepo struct {
	*memory.Store
	conflicts int
}

func (r *conflictingConfigRepo) CreateConfiguration(ctx context.Context, userID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return nil, domain.ErrConfigurationConflict
	}
	return r.Store.CreateConfiguration(ctx, userID, in, now)
}

func configInput() domain.ConfigurationInput {
	return domain.ConfigurationInput{
		Walls:   json.RawMessage(`["1,1,top"]`),
		Targets: json.RawMessage(`["2,2"]`),
	}
}

func submission(roundID, userID string, moves int) domain.ScoreSubmission {
	return domain.ScoreSubmission{
		RoundID:      roundID,
		UserID:       userID,
		UserEmail:    userID + "@example.com",
		Moves:        moves,
		MoveSequence: json.RawMessage(`["red:up"]`),
	}
}

func TestConfigurationCreateAssignsSequentialIDs(t *testing.T) {
	svc := NewConfigurationService(memory.NewStore(), testLogger())
	ctx := context.Background()

	for _, want := range []string{"1", "2"} {
		c, err := svc.Create(ctx, "user-a", configInput())
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if c.ConfigID != want {
			t.Fatalf("configId = %q, want %q", c.ConfigID, want)
		}
	}

	c, err := svc.Create(ctx, "user-b", configInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if c.ConfigID != "1" {
		t.Fatalf("configId for second owner = %q, want 1", c.ConfigID)
	}
}

func TestConfigurationCreateRequiresWallsAndTargets(t *testing.T) {
	svc := NewConfigurationService(memory.NewStore(), testLogger())

	cases := []domain.ConfigurationInput{
		{Targets: json.RawMessage(`[]`)},
		{Walls: json.RawMessage(`[]`)},
		{Walls: json.RawMessage(`null`), Targets: json.RawMessage(`[]`)},
	}
	for _, in := range cases {
		_, err := svc.Create(context.Background(), "user-a", in)
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("Create(%+v) error = %v, want ErrInvalidRequest", in, err)
		}
	}

	// Empty lists are present values.
	if _, err := svc.Create(context.Background(), "user-a", domain.ConfigurationInput{Walls: json.RawMessage(`[]`), Targets: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("Create with empty lists returned error: %v", err)
	}
}

func TestConfigurationCreateRetriesOnConflict(t *testing.T) {
	repo := &conflictingConfigRepo{Store: memory.NewStore(), conflicts: 2}
	svc := NewConfigurationService(repo, testLogger())

	c, err := svc.Create(context.Background(), "user-a", configInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if c.ConfigID != "1" {
		t.Fatalf("configId = %q, want 1", c.ConfigID)
	}

	repo.conflicts = maxConfigCreateAttempts
	if _, err := svc.Create(context.Background(), "user-a", configInput()); !errors.Is(err, domain.ErrConfigurationConflict) {
		t.Fatalf("exhausted Create error = %v, want ErrConfigurationConflict", err)
	}
}

func TestConfigurationUpdatePreservesCreatedAt(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	svc := NewConfigurationService(memory.NewStore(), testLogger())
	svc.now = fixedClock(created)
	ctx := context.Background()

	c, err := svc.Create(ctx, "user-a", configInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	svc.now = fixedClock(updated)
	in := domain.ConfigurationInput{Walls: json.RawMessage(`["3,3,left"]`), Targets: json.RawMessage(`["4,4"]`)}
	if err := svc.Update(ctx, "user-a", c.ConfigID, in); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	got, err := svc.Get(ctx, "user-a", c.ConfigID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("timestamps = (%v, %v), want (%v, %v)", got.CreatedAt, got.UpdatedAt, created, updated)
	}
	if string(got.Walls) != `["3,3,left"]` {
		t.Fatalf("walls = %s, want updated value", got.Walls)
	}
}

func TestConfigurationUpdateChecksExistenceFirst(t *testing.T) {
	svc := NewConfigurationService(memory.NewStore(), testLogger())

	err := svc.Update(context.Background(), "user-a", "99", domain.ConfigurationInput{})
	if !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("Update error = %v, want ErrConfigurationNotFound", err)
	}
}

func TestConfigurationIsScopedToOwner(t *testing.T) {
	svc := NewConfigurationService(memory.NewStore(), testLogger())
	ctx := context.Background()

	c, err := svc.Create(ctx, "user-a", configInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Get(ctx, "user-b", c.ConfigID); !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("Get by other owner error = %v, want not found", err)
	}
	if err := svc.Delete(ctx, "user-b", c.ConfigID); !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("Delete by other owner error = %v, want not found", err)
	}
	if err := svc.Delete(ctx, "user-a", c.ConfigID); err != nil {
		t.Fatalf("Delete by owner returned error: %v", err)
	}

	list, err := svc.List(ctx, "user-a")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list after delete, got %d", len(list))
	}
}

func TestRoundCreateFoldsLegacyShape(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())
	author := domain.Identity{UserID: "author", Email: "author@example.com"}

	req := domain.RoundRequest{
		InitialRobotPositions: json.RawMessage(`{"red":{"x":1,"y":2}}`),
		TargetPositions:       json.RawMessage(`{"x":5,"y":5,"color":"red"}`),
		Walls:                 json.RawMessage(`["1,1,top"]`),
	}
	r, err := svc.Create(context.Background(), author, req, "7")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(r.PuzzleStates) != 1 {
		t.Fatalf("puzzle states = %d, want 1", len(r.PuzzleStates))
	}
	st := r.PuzzleStates[0]
	if string(st["targetPosition"]) != `{"x":5,"y":5,"color":"red"}` {
		t.Fatalf("targetPosition = %s", st["targetPosition"])
	}
	if _, ok := st["targets"]; ok {
		t.Fatalf("absent targets should not be folded in")
	}
	if r.RoundName != "Round from config 7" || r.ConfigID != "7" {
		t.Fatalf("round = (%q, %q), want default name for config 7", r.RoundName, r.ConfigID)
	}
	if r.AuthorID != author.UserID || r.AuthorEmail != author.Email {
		t.Fatalf("author = (%q, %q)", r.AuthorID, r.AuthorEmail)
	}
}

func TestRoundCreatePrefersPuzzleStates(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())

	req := domain.RoundRequest{
		RoundName:             json.RawMessage(`"Morning puzzle"`),
		ConfigID:              json.RawMessage(`"body-config"`),
		PuzzleStates:          json.RawMessage(`[{"walls":[]},{"walls":["1,1,top"]}]`),
		InitialRobotPositions: json.RawMessage(`{"red":{"x":1,"y":2}}`),
	}
	r, err := svc.Create(context.Background(), domain.Identity{UserID: "u1"}, req, "path-config")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(r.PuzzleStates) != 2 {
		t.Fatalf("puzzle states = %d, want 2", len(r.PuzzleStates))
	}
	if r.ConfigID != "path-config" {
		t.Fatalf("configId = %q, want path value", r.ConfigID)
	}
	if r.RoundName != "Morning puzzle" {
		t.Fatalf("roundName = %q", r.RoundName)
	}
}

func TestRoundCreateValidation(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())
	id := domain.Identity{UserID: "u1"}

	cases := []struct {
		name   string
		req    domain.RoundRequest
		path   string
		errMsg string
	}{
		{"missing legacy fields", domain.RoundRequest{}, "", "Missing required fields: initialRobotPositions, targetPositions"},
		{"missing target", domain.RoundRequest{InitialRobotPositions: json.RawMessage(`{}`)}, "", "Missing required fields: targetPositions"},
		{"empty puzzle states", domain.RoundRequest{PuzzleStates: json.RawMessage(`[]`)}, "", "puzzleStates must be a non-empty list of puzzle states"},
		{"scalar puzzle state", domain.RoundRequest{PuzzleStates: json.RawMessage(`[1]`)}, "", "puzzleStates must be a non-empty list of puzzle states"},
		{"bad path config id", domain.RoundRequest{PuzzleStates: json.RawMessage(`[{}]`)}, "a/b", "configId may only contain letters, numbers, hyphens, and underscores"},
	}
	for _, tc := range cases {
		_, err := svc.Create(context.Background(), id, tc.req, tc.path)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Message != tc.errMsg {
			t.Fatalf("%s: error = %v, want %q", tc.name, err, tc.errMsg)
		}
	}
}

func TestRoundCreateSameMillisecondGetsDistinctIDs(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())
	now := time.UnixMilli(1700000000000).UTC()
	svc.now = fixedClock(now)

	req := domain.RoundRequest{PuzzleStates: json.RawMessage(`[{}]`)}
	first, err := svc.Create(context.Background(), domain.Identity{UserID: "u1"}, req, "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	second, err := svc.Create(context.Background(), domain.Identity{UserID: "u1"}, req, "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if first.RoundID != "round_1700000000000" || second.RoundID != "round_1700000000001" {
		t.Fatalf("round ids = (%q, %q)", first.RoundID, second.RoundID)
	}
}

func TestRoundDeleteRequiresAuthor(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())
	ctx := context.Background()
	author := domain.Identity{UserID: "author", Email: "author@example.com"}

	r, err := svc.Create(ctx, author, domain.RoundRequest{PuzzleStates: json.RawMessage(`[{}]`)}, "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := svc.Delete(ctx, domain.Identity{UserID: "intruder", Email: "author@example.com"}, r.RoundID); !errors.Is(err, domain.ErrNotRoundAuthor) {
		t.Fatalf("Delete by non-author error = %v, want ErrNotRoundAuthor", err)
	}
	if err := svc.Delete(ctx, author, r.RoundID); err != nil {
		t.Fatalf("Delete by author returned error: %v", err)
	}
	if _, err := svc.Get(ctx, r.RoundID); !errors.Is(err, domain.ErrRoundNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrRoundNotFound", err)
	}
	if err := svc.Delete(ctx, author, r.RoundID); !errors.Is(err, domain.ErrRoundNotFound) {
		t.Fatalf("second Delete error = %v, want ErrRoundNotFound", err)
	}
}

func TestRoundDeleteLegacyRecordMatchesEmail(t *testing.T) {
	store := memory.NewStore()
	svc := NewRoundService(store, testLogger())
	ctx := context.Background()

	legacy := &domain.Round{RoundID: "round_1", AuthorEmail: "old@example.com", PuzzleStates: []domain.PuzzleState{{}}}
	if err := store.CreateRound(ctx, legacy); err != nil {
		t.Fatalf("CreateRound returned error: %v", err)
	}
	if err := svc.Delete(ctx, domain.Identity{UserID: "someone", Email: "other@example.com"}, "round_1"); !errors.Is(err, domain.ErrNotRoundAuthor) {
		t.Fatalf("Delete with other email error = %v, want ErrNotRoundAuthor", err)
	}
	if err := svc.Delete(ctx, domain.Identity{UserID: "someone", Email: "old@example.com"}, "round_1"); err != nil {
		t.Fatalf("Delete with matching email returned error: %v", err)
	}
}

func TestRoundViewsListEverything(t *testing.T) {
	svc := NewRoundService(memory.NewStore(), testLogger())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, domain.Identity{UserID: "u1"}, domain.RoundRequest{PuzzleStates: json.RawMessage(`[{}]`)}, ""); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	for _, view := range []domain.RoundView{domain.RoundViewSolved, domain.RoundViewBaseline, domain.RoundViewUserSubmitted, domain.RoundViewUserCompleted} {
		rounds, err := svc.ListView(ctx, view)
		if err != nil {
			t.Fatalf("ListView(%s) returned error: %v", view, err)
		}
		if len(rounds) != 3 {
			t.Fatalf("ListView(%s) = %d rounds, want 3", view, len(rounds))
		}
	}
}

func TestSubmitScoreKeepsPersonalBest(t *testing.T) {
	svc := NewScoreService(memory.NewStore(), nil, testLogger())
	ctx := context.Background()

	res, err := svc.SubmitScore(ctx, submission("round_1", "u1", 20))
	if err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if !res.Improved || res.Score.AttemptCount != 1 {
		t.Fatalf("first submission = %+v, want improved with attemptCount 1", res)
	}

	res, err = svc.SubmitScore(ctx, submission("round_1", "u1", 15))
	if err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if !res.Improved || res.Score.Moves != 15 || res.Score.AttemptCount != 2 {
		t.Fatalf("second submission = %+v, want moves 15 attemptCount 2", res)
	}

	res, err = svc.SubmitScore(ctx, submission("round_1", "u1", 25))
	if err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if res.Improved || res.CurrentBest != 15 {
		t.Fatalf("worse submission = %+v, want not improved with best 15", res)
	}

	res, err = svc.SubmitScore(ctx, submission("round_1", "u1", 15))
	if err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if res.Improved {
		t.Fatalf("equal submission should not improve")
	}

	scores, err := svc.UserScores(ctx, "u1")
	if err != nil {
		t.Fatalf("UserScores returned error: %v", err)
	}
	if len(scores) != 1 || scores[0].Moves != 15 || scores[0].AttemptCount != 2 {
		t.Fatalf("stored scores = %+v, want one record at 15 moves, attemptCount 2", scores)
	}
}

func TestSubmitScoreConcurrentKeepsLowest(t *testing.T) {
	svc := NewScoreService(memory.NewStore(), nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for moves := 50; moves >= 1; moves-- {
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			if _, err := svc.SubmitScore(ctx, submission("round_1", "u1", m)); err != nil {
				t.Errorf("SubmitScore(%d) returned error: %v", m, err)
			}
		}(moves)
	}
	wg.Wait()

	board, err := svc.RoundLeaderboard(ctx, "round_1")
	if err != nil {
		t.Fatalf("RoundLeaderboard returned error: %v", err)
	}
	if len(board) != 1 || board[0].Moves != 1 {
		t.Fatalf("leaderboard = %+v, want single entry with 1 move", board)
	}
}

func TestRoundLeaderboardOrderedAndCached(t *testing.T) {
	cache := newFakeScoreCache()
	svc := NewScoreService(memory.NewStore(), cache, testLogger())
	ctx := context.Background()

	for user, moves := range map[string]int{"u1": 30, "u2": 10, "u3": 20} {
		if _, err := svc.SubmitScore(ctx, submission("round_1", user, moves)); err != nil {
			t.Fatalf("SubmitScore returned error: %v", err)
		}
	}

	board, err := svc.RoundLeaderboard(ctx, "round_1")
	if err != nil {
		t.Fatalf("RoundLeaderboard returned error: %v", err)
	}
	if len(board) != 3 || board[0].Moves != 10 || board[1].Moves != 20 || board[2].Moves != 30 {
		t.Fatalf("leaderboard order = %+v", board)
	}
	if _, ok := cache.rounds["round_1"]; !ok {
		t.Fatalf("expected leaderboard to be cached after read")
	}

	if _, err := svc.SubmitScore(ctx, submission("round_1", "u1", 5)); err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if _, ok := cache.rounds["round_1"]; ok {
		t.Fatalf("expected personal best to invalidate the cached leaderboard")
	}
}

// pausingRepo calls during once, after the round listing was read and
// before it is returned.
type pausingRepo struct {
	*memory.Store
	during func()
}

func (r *pausingRepo) ListRoundScores(ctx context.Context, roundID string) ([]domain.Score, error) {
	scores, err := r.Store.ListRoundScores(ctx, roundID)
	if r.during != nil {
		during := r.during
		r.during = nil
		during()
	}
	return scores, err
}

func TestRoundLeaderboardDoesNotCacheSupersededSnapshot(t *testing.T) {
	cache := newFakeScoreCache()
	repo := &pausingRepo{Store: memory.NewStore()}
	svc := NewScoreService(repo, cache, testLogger())
	ctx := context.Background()

	if _, err := svc.SubmitScore(ctx, submission("round_1", "u1", 20)); err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}

	repo.during = func() {
		res, err := svc.SubmitScore(ctx, submission("round_1", "u1", 15))
		if err != nil || !res.Improved {
			t.Errorf("improving submission = (%+v, %v)", res, err)
		}
	}
	board, err := svc.RoundLeaderboard(ctx, "round_1")
	if err != nil {
		t.Fatalf("RoundLeaderboard returned error: %v", err)
	}
	if len(board) != 1 || board[0].Moves != 20 {
		t.Fatalf("in-flight read = %+v, want the snapshot with 20 moves", board)
	}
	if _, ok := cache.rounds["round_1"]; ok {
		t.Fatalf("superseded snapshot was cached")
	}

	board, err = svc.RoundLeaderboard(ctx, "round_1")
	if err != nil {
		t.Fatalf("RoundLeaderboard returned error: %v", err)
	}
	if len(board) != 1 || board[0].Moves != 15 {
		t.Fatalf("leaderboard after improvement = %+v, want 15 moves", board)
	}
}

func TestSubmitScoreBroadcastsToSubscribers(t *testing.T) {
	hub := &fakeHub{}
	svc := NewScoreService(memory.NewStore(), nil, testLogger())
	svc.SetHub(hub)
	ctx := context.Background()

	if _, err := svc.SubmitScore(ctx, submission("round_1", "u1", 9)); err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if len(hub.scoreUpdates) != 0 {
		t.Fatalf("expected no broadcast without subscribers")
	}

	hub.subscribers = 1
	if _, err := svc.SubmitScore(ctx, submission("round_1", "u2", 7)); err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if _, err := svc.SubmitScore(ctx, submission("round_1", "u2", 8)); err != nil {
		t.Fatalf("SubmitScore returned error: %v", err)
	}
	if len(hub.scoreUpdates) != 1 || len(hub.boards) != 1 {
		t.Fatalf("broadcasts = (%d, %d), want (1, 1)", len(hub.scoreUpdates), len(hub.boards))
	}
	if len(hub.boards[0]) != 2 || hub.boards[0][0].UserID != "u2" {
		t.Fatalf("broadcast leaderboard = %+v", hub.boards[0])
	}
}

func TestSubmitScoreBatchCountsImprovements(t *testing.T) {
	svc := NewScoreService(memory.NewStore(), nil, testLogger())

	improved, err := svc.SubmitScoreBatch(context.Background(), []domain.ScoreSubmission{
		submission("round_1", "u1", 10),
		submission("round_1", "u1", 12),
		submission("round_1", "u1", 8),
		submission("round_2", "u1", 3),
	})
	if err != nil {
		t.Fatalf("SubmitScoreBatch returned error: %v", err)
	}
	if improved != 3 {
		t.Fatalf("improved = %d, want 3", improved)
	}
}

type failingScoreRepo struct {
	*memory.Store
	err error
}

func (r *failingScoreRepo) SubmitBest(ctx context.Context, sub domain.ScoreSubmission, completedAt time.Time) (*domain.SubmitResult, error) {
	if sub.UserID == "bad" {
		return nil, r.err
	}
	return r.Store.SubmitBest(ctx, sub, completedAt)
}

func TestSubmitScoreBatchStopsOnStoreFailure(t *testing.T) {
	repo := &failingScoreRepo{Store: memory.NewStore(), err: errors.New("connection refused")}
	svc := NewScoreService(repo, nil, testLogger())

	improved, err := svc.SubmitScoreBatch(context.Background(), []domain.ScoreSubmission{
		submission("round_1", "u1", 10),
		submission("round_1", "bad", 4),
		submission("round_1", "u2", 6),
	})
	if err == nil {
		t.Fatal("expected the store failure to be returned")
	}
	if improved != 1 {
		t.Fatalf("improved = %d, want 1", improved)
	}
	scores, _ := repo.ListRoundScores(context.Background(), "round_1")
	if len(scores) != 1 {
		t.Fatalf("scores after failure = %+v, want only the first", scores)
	}
}

func TestSubmitScoreBatchSkipsRejected(t *testing.T) {
	repo := &failingScoreRepo{Store: memory.NewStore(), err: domain.Invalid("moves must be a non-negative integer")}
	svc := NewScoreService(repo, nil, testLogger())

	improved, err := svc.SubmitScoreBatch(context.Background(), []domain.ScoreSubmission{
		submission("round_1", "bad", 4),
		submission("round_1", "u2", 6),
	})
	if err != nil || improved != 1 {
		t.Fatalf("SubmitScoreBatch = (%d, %v), want (1, nil)", improved, err)
	}
}

func TestProfileGetReturnsTransientDefault(t *testing.T) {
	store := memory.NewStore()
	svc := NewProfileService(store, nil, testLogger())
	id := domain.Identity{UserID: "u1", Email: "u1@example.com"}

	p, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.UserID != "u1" || p.Email != "u1@example.com" || p.Username != nil {
		t.Fatalf("default profile = %+v", p)
	}
	if _, err := store.GetProfile(context.Background(), "u1"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("default profile should not be persisted, got %v", err)
	}
}

func TestProfileUpdateMergesFields(t *testing.T) {
	svc := NewProfileService(memory.NewStore(), nil, testLogger())
	ctx := context.Background()
	id := domain.Identity{UserID: "u1", Email: "u1@example.com"}

	upd, err := domain.ParseProfileUpdate(json.RawMessage(`{"username":"  robo_fan ","theme":"dark","email":"hijack@example.com"}`))
	if err != nil {
		t.Fatalf("ParseProfileUpdate returned error: %v", err)
	}
	if _, err := svc.Update(ctx, id, upd); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	upd, err = domain.ParseProfileUpdate(json.RawMessage(`{"bio":"hi","theme":null}`))
	if err != nil {
		t.Fatalf("ParseProfileUpdate returned error: %v", err)
	}
	p, err := svc.Update(ctx, id, upd)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if p.Username == nil || *p.Username != "robo_fan" {
		t.Fatalf("username = %v, want robo_fan", p.Username)
	}
	if p.Email != "u1@example.com" {
		t.Fatalf("email = %q, protected field was overwritten", p.Email)
	}
	if string(p.Attributes["theme"]) != `"dark"` || string(p.Attributes["bio"]) != `"hi"` {
		t.Fatalf("attributes = %v", p.Attributes)
	}
}

func TestPublicProfileForUnknownUser(t *testing.T) {
	svc := NewProfileService(memory.NewStore(), nil, testLogger())

	pub, err := svc.PublicProfile(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("PublicProfile returned error: %v", err)
	}
	if pub.UserID != "ghost" || pub.Username != nil || pub.Email != nil {
		t.Fatalf("public profile = %+v, want nulls", pub)
	}
}
