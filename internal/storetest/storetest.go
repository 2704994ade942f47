// Package storetest holds the behaviour every domain.Store backend must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/robot-puzzle-api/internal/domain"
)

// Run exercises store against every repository contract. Ids are random so
// the suite can share a database with earlier runs.
func Run(t *testing.T, store domain.Store) {
	t.Run("Configurations", func(t *testing.T) { testConfigurations(t, store) })
	t.Run("Rounds", func(t *testing.T) { testRounds(t, store) })
	t.Run("Scores", func(t *testing.T) { testScores(t, store) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, store) })
	t.Run("LongIdentifiers", func(t *testing.T) { testLongIdentifiers(t, store) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func testConfigurations(t *testing.T, store domain.Store) {
	ctx := context.Background()
	owner := "user-" + uuid.NewString()
	stranger := "user-" + uuid.NewString()
	created := now()

	first, err := store.CreateConfiguration(ctx, owner, domain.ConfigurationInput{
		Walls:   json.RawMessage(`[{"x":1,"y":2,"side":"north"}]`),
		Targets: json.RawMessage(`[{"x":3,"y":4,"color":"red"}]`),
	}, created)
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	if first.ConfigID != "1" {
		t.Fatalf("first config id = %q, want 1", first.ConfigID)
	}
	second, err := store.CreateConfiguration(ctx, owner, domain.ConfigurationInput{
		Walls:   json.RawMessage(`[]`),
		Targets: json.RawMessage(`[]`),
	}, created)
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	if second.ConfigID != "2" {
		t.Fatalf("second config id = %q, want 2", second.ConfigID)
	}

	list, err := store.ListConfigurations(ctx, owner)
	if err != nil {
		t.Fatalf("ListConfigurations: %v", err)
	}
	if len(list) != 2 || list[0].ConfigID != "1" || list[1].ConfigID != "2" {
		t.Fatalf("ListConfigurations = %+v, want ids 1 and 2", list)
	}
	if !JSONEqual(list[0].Walls, first.Walls) {
		t.Fatalf("listed walls = %s, want %s", list[0].Walls, first.Walls)
	}

	others, err := store.ListConfigurations(ctx, stranger)
	if err != nil {
		t.Fatalf("ListConfigurations(stranger): %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("stranger sees %d configurations, want 0", len(others))
	}
	if _, err := store.GetConfiguration(ctx, stranger, "1"); !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("GetConfiguration(stranger) error = %v, want ErrConfigurationNotFound", err)
	}

	updated := created.Add(time.Minute)
	if _, err := store.UpdateConfiguration(ctx, owner, "1", domain.ConfigurationInput{
		Walls:   json.RawMessage(`[]`),
		Targets: json.RawMessage(`[{"x":0,"y":0}]`),
	}, updated); err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	got, err := store.GetConfiguration(ctx, owner, "1")
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("timestamps = (%v, %v), want (%v, %v)", got.CreatedAt, got.UpdatedAt, created, updated)
	}
	if !JSONEqual(got.Targets, json.RawMessage(`[{"x":0,"y":0}]`)) {
		t.Fatalf("targets after update = %s", got.Targets)
	}

	if _, err := store.UpdateConfiguration(ctx, owner, "99", domain.ConfigurationInput{
		Walls: json.RawMessage(`[]`), Targets: json.RawMessage(`[]`),
	}, updated); !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("UpdateConfiguration(missing) error = %v, want ErrConfigurationNotFound", err)
	}

	if err := store.DeleteConfiguration(ctx, owner, "1"); err != nil {
		t.Fatalf("DeleteConfiguration: %v", err)
	}
	if err := store.DeleteConfiguration(ctx, owner, "1"); !errors.Is(err, domain.ErrConfigurationNotFound) {
		t.Fatalf("second DeleteConfiguration error = %v, want ErrConfigurationNotFound", err)
	}

	// ids keep growing from the highest remaining one
	third, err := store.CreateConfiguration(ctx, owner, domain.ConfigurationInput{
		Walls: json.RawMessage(`[]`), Targets: json.RawMessage(`[]`),
	}, created)
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	if third.ConfigID != "3" {
		t.Fatalf("config id after delete = %q, want 3", third.ConfigID)
	}
}

func testRounds(t *testing.T, store domain.Store) {
	ctx := context.Background()
	roundID := "round_" + uuid.NewString()
	round := &domain.Round{
		RoundID:   roundID,
		RoundName: "Test round",
		PuzzleStates: []domain.PuzzleState{{
			"initialRobotPositions": json.RawMessage(`{"red":{"x":1,"y":1}}`),
			"targetPosition":        json.RawMessage(`{"x":5,"y":5,"color":"red"}`),
			"walls":                 json.RawMessage(`[]`),
		}},
		ConfigID:    "7",
		AuthorID:    "author-1",
		AuthorEmail: "author@example.com",
		CreatedAt:   now(),
	}

	if err := store.CreateRound(ctx, round); err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	if err := store.CreateRound(ctx, round); !errors.Is(err, domain.ErrRoundExists) {
		t.Fatalf("duplicate CreateRound error = %v, want ErrRoundExists", err)
	}

	got, err := store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if got.RoundName != round.RoundName || got.AuthorID != "author-1" || got.ConfigID != "7" {
		t.Fatalf("GetRound = %+v", got)
	}
	if len(got.PuzzleStates) != 1 || !JSONEqual(got.PuzzleStates[0]["targetPosition"], round.PuzzleStates[0]["targetPosition"]) {
		t.Fatalf("puzzle states = %+v", got.PuzzleStates)
	}
	if !got.CreatedAt.Equal(round.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, round.CreatedAt)
	}

	list, err := store.ListRounds(ctx)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	found := false
	for _, r := range list {
		if r.RoundID == roundID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListRounds does not contain %s", roundID)
	}

	if err := store.DeleteRound(ctx, roundID); err != nil {
		t.Fatalf("DeleteRound: %v", err)
	}
	if _, err := store.GetRound(ctx, roundID); !errors.Is(err, domain.ErrRoundNotFound) {
		t.Fatalf("GetRound after delete error = %v, want ErrRoundNotFound", err)
	}
	if err := store.DeleteRound(ctx, roundID); !errors.Is(err, domain.ErrRoundNotFound) {
		t.Fatalf("second DeleteRound error = %v, want ErrRoundNotFound", err)
	}
}

func testScores(t *testing.T, store domain.Store) {
	ctx := context.Background()
	roundID := "round_" + uuid.NewString()
	alice := "alice-" + uuid.NewString()
	bob := "bob-" + uuid.NewString()
	at := now()

	submit := func(userID string, moves int, completedAt time.Time) *domain.SubmitResult {
		t.Helper()
		res, err := store.SubmitBest(ctx, domain.ScoreSubmission{
			RoundID:      roundID,
			UserID:       userID,
			UserEmail:    userID + "@example.com",
			Moves:        moves,
			MoveSequence: json.RawMessage(`["red:up","red:left"]`),
		}, completedAt)
		if err != nil {
			t.Fatalf("SubmitBest(%s, %d): %v", userID, moves, err)
		}
		return res
	}

	if res := submit(alice, 10, at); !res.Improved || res.Score.AttemptCount != 1 {
		t.Fatalf("first submission = %+v, want improved with attemptCount 1", res)
	}
	if res := submit(alice, 12, at.Add(time.Second)); res.Improved || res.CurrentBest != 10 {
		t.Fatalf("worse submission = %+v, want not improved with best 10", res)
	}
	if res := submit(alice, 10, at.Add(2*time.Second)); res.Improved {
		t.Fatalf("equal submission = %+v, want not improved", res)
	}
	res := submit(alice, 7, at.Add(3*time.Second))
	if !res.Improved || res.Score.AttemptCount != 2 || res.CurrentBest != 7 {
		t.Fatalf("better submission = %+v, want improved with attemptCount 2", res)
	}
	submit(bob, 7, at.Add(time.Second))

	board, err := store.ListRoundScores(ctx, roundID)
	if err != nil {
		t.Fatalf("ListRoundScores: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("leaderboard has %d entries, want 2", len(board))
	}
	// equal moves rank by completion time
	if board[0].UserID != bob || board[1].UserID != alice {
		t.Fatalf("leaderboard order = [%s %s], want [bob alice]", board[0].UserID, board[1].UserID)
	}
	if board[1].Moves != 7 || board[1].AttemptCount != 2 {
		t.Fatalf("alice entry = %+v", board[1])
	}
	if !JSONEqual(board[1].MoveSequence, json.RawMessage(`["red:up","red:left"]`)) {
		t.Fatalf("move sequence = %s", board[1].MoveSequence)
	}

	mine, err := store.ListUserScores(ctx, alice)
	if err != nil {
		t.Fatalf("ListUserScores: %v", err)
	}
	if len(mine) != 1 || mine[0].RoundID != roundID {
		t.Fatalf("ListUserScores = %+v", mine)
	}

	rounds, err := store.ListScoredRounds(ctx)
	if err != nil {
		t.Fatalf("ListScoredRounds: %v", err)
	}
	found := false
	for _, id := range rounds {
		if id == roundID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListScoredRounds does not contain %s", roundID)
	}
}

func testProfiles(t *testing.T, store domain.Store) {
	ctx := context.Background()
	id := domain.Identity{UserID: "user-" + uuid.NewString(), Email: "first@example.com"}
	at := now()

	if _, err := store.GetProfile(ctx, id.UserID); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("GetProfile(missing) error = %v, want ErrProfileNotFound", err)
	}

	name := "robot_fan"
	if _, err := store.UpsertProfile(ctx, id, domain.ProfileUpdate{
		Username:   &name,
		Attributes: map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
	}, at); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	later := at.Add(time.Minute)
	changed := domain.Identity{UserID: id.UserID, Email: "second@example.com"}
	p, err := store.UpsertProfile(ctx, changed, domain.ProfileUpdate{
		Attributes: map[string]json.RawMessage{"sound": json.RawMessage(`false`)},
	}, later)
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if p.Username == nil || *p.Username != name {
		t.Fatalf("username after attribute-only update = %v, want %s", p.Username, name)
	}
	if p.Email != "first@example.com" {
		t.Fatalf("email = %q, want the email stored on first write", p.Email)
	}
	if !JSONEqual(p.Attributes["theme"], json.RawMessage(`"dark"`)) || !JSONEqual(p.Attributes["sound"], json.RawMessage(`false`)) {
		t.Fatalf("attributes = %v, want theme and sound merged", p.Attributes)
	}
	if !p.CreatedAt.Equal(at) || !p.UpdatedAt.Equal(later) {
		t.Fatalf("timestamps = (%v, %v), want (%v, %v)", p.CreatedAt, p.UpdatedAt, at, later)
	}

	got, err := store.GetProfile(ctx, id.UserID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Username == nil || *got.Username != name || len(got.Attributes) != 2 {
		t.Fatalf("GetProfile = %+v", got)
	}
}

// Ids come from the path and the identity provider unbounded, so no backend
// may truncate or reject a long one.
func testLongIdentifiers(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := "user-" + strings.Repeat("u", 300) + uuid.NewString()
	roundID := "round_" + strings.Repeat("r", 200) + uuid.NewString()
	at := now()

	cfg, err := store.CreateConfiguration(ctx, userID, domain.ConfigurationInput{
		Walls:   json.RawMessage(`[]`),
		Targets: json.RawMessage(`[]`),
	}, at)
	if err != nil {
		t.Fatalf("CreateConfiguration(long user): %v", err)
	}
	got, err := store.GetConfiguration(ctx, userID, cfg.ConfigID)
	if err != nil || got.UserID != userID {
		t.Fatalf("GetConfiguration(long user) = %+v, %v", got, err)
	}

	if _, err := store.SubmitBest(ctx, domain.ScoreSubmission{
		RoundID:      roundID,
		UserID:       userID,
		UserEmail:    "long@example.com",
		Moves:        3,
		MoveSequence: json.RawMessage(`[]`),
	}, at); err != nil {
		t.Fatalf("SubmitBest(long ids): %v", err)
	}
	board, err := store.ListRoundScores(ctx, roundID)
	if err != nil {
		t.Fatalf("ListRoundScores(long round): %v", err)
	}
	if len(board) != 1 || board[0].UserID != userID || board[0].RoundID != roundID {
		t.Fatalf("leaderboard = %+v, want the long ids back unchanged", board)
	}

	if _, err := store.UpsertProfile(ctx, domain.Identity{UserID: userID, Email: "long@example.com"}, domain.ProfileUpdate{}, at); err != nil {
		t.Fatalf("UpsertProfile(long user): %v", err)
	}
	if _, err := store.GetProfile(ctx, userID); err != nil {
		t.Fatalf("GetProfile(long user): %v", err)
	}
}

// JSONEqual compares two documents by value, ignoring formatting.
func JSONEqual(a, b json.RawMessage) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
