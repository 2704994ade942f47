package apitest

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type scoreAccepted struct {
	Message      string `json:"message"`
	Moves        int    `json:"moves"`
	PersonalBest bool   `json:"personalBest"`
	AttemptCount int    `json:"attemptCount"`
}

type scoreNotImproved struct {
	Message      string `json:"message"`
	CurrentBest  int    `json:"currentBest"`
	Submitted    int    `json:"submitted"`
	PersonalBest *bool  `json:"personalBest"`
}

type scoreRecord struct {
	RoundID      string `json:"roundId"`
	UserID       string `json:"userId"`
	Moves        int    `json:"moves"`
	AttemptCount int    `json:"attemptCount"`
}

func scoreSuite() Suite {
	return Suite{
		Name:        "scores",
		Description: "personal-best submission and leaderboards",
		Cases: []Case{
			{Name: "personal best only improves", Run: testScoreProgression},
			{Name: "roundId from body when path omits it", Run: testScoreBodyRoundID},
			{Name: "path roundId wins over body", Run: testScorePathRoundID},
			{Name: "leaderboard is ordered by moves", Run: testScoreLeaderboardOrder},
			{Name: "caller scores list own bests", Run: testScoreUserList},
			{Name: "submission validation", Run: testScoreValidation},
		},
	}
}

// freshRoundID returns a round id no earlier run has scored
func freshRoundID() string {
	return "round_apitest_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func moveSequence(n int) []string {
	seq := make([]string, n)
	for i := range seq {
		seq[i] = "red:up"
	}
	return seq
}

func submitScore(ctx context.Context, c *Client, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

func expectAccepted(resp *Response, moves, attempts int) error {
	if err := expectStatus(resp, http.StatusCreated); err != nil {
		return err
	}
	var got scoreAccepted
	if err := resp.JSON(&got); err != nil {
		return err
	}
	if got.Message != "Score submitted successfully" {
		return fail("message = %q", got.Message)
	}
	if got.Moves != moves || !got.PersonalBest || got.AttemptCount != attempts {
		return fail("accepted = %+v, want moves %d, personalBest true, attemptCount %d", got, moves, attempts)
	}
	return nil
}

func expectNotImproved(resp *Response, best, submitted int) error {
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var got scoreNotImproved
	if err := resp.JSON(&got); err != nil {
		return err
	}
	if got.Message != "Score not improved" {
		return fail("message = %q", got.Message)
	}
	if got.PersonalBest == nil || *got.PersonalBest {
		return fail("personalBest must be false: %s", truncate(resp.Body))
	}
	if got.CurrentBest != best || got.Submitted != submitted {
		return fail("currentBest/submitted = %d/%d, want %d/%d", got.CurrentBest, got.Submitted, best, submitted)
	}
	return nil
}

func leaderboard(ctx context.Context, c *Client, roundID string) ([]scoreRecord, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/scores/"+roundID, nil)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var scores []scoreRecord
	if err := resp.JSON(&scores); err != nil {
		return nil, err
	}
	return scores, nil
}

func testScoreProgression(ctx context.Context, env *Env) error {
	roundID := freshRoundID()
	path := "/scores/" + roundID

	steps := []struct {
		moves    int
		improved bool
		best     int
		attempts int
	}{
		{10, true, 10, 1},
		{12, false, 10, 0},
		{10, false, 10, 0},
		{7, true, 7, 2},
		{0, true, 0, 3},
	}
	for _, st := range steps {
		resp, err := submitScore(ctx, env.Client, path, map[string]interface{}{
			"moves":        st.moves,
			"moveSequence": moveSequence(st.moves),
		})
		if err != nil {
			return err
		}
		if st.improved {
			err = expectAccepted(resp, st.moves, st.attempts)
		} else {
			err = expectNotImproved(resp, st.best, st.moves)
		}
		if err != nil {
			return fail("submit %d moves: %v", st.moves, err)
		}
	}

	scores, err := leaderboard(ctx, env.Client, roundID)
	if err != nil {
		return err
	}
	if len(scores) != 1 || scores[0].Moves != 0 || scores[0].UserID != env.Client.UserID() {
		return fail("leaderboard = %+v, want one entry at 0 moves", scores)
	}
	return nil
}

func testScoreBodyRoundID(ctx context.Context, env *Env) error {
	roundID := freshRoundID()
	resp, err := submitScore(ctx, env.Client, "/scores", map[string]interface{}{
		"roundId":      roundID,
		"moves":        5,
		"moveSequence": moveSequence(5),
	})
	if err != nil {
		return err
	}
	if err := expectAccepted(resp, 5, 1); err != nil {
		return err
	}

	scores, err := leaderboard(ctx, env.Client, roundID)
	if err != nil {
		return err
	}
	if len(scores) != 1 || scores[0].RoundID != roundID {
		return fail("leaderboard = %+v, want the submitted score", scores)
	}
	return nil
}

func testScorePathRoundID(ctx context.Context, env *Env) error {
	pathRound, bodyRound := freshRoundID(), freshRoundID()
	resp, err := submitScore(ctx, env.Client, "/scores/"+pathRound, map[string]interface{}{
		"roundId":      bodyRound,
		"moves":        4,
		"moveSequence": moveSequence(4),
	})
	if err != nil {
		return err
	}
	if err := expectAccepted(resp, 4, 1); err != nil {
		return err
	}

	scores, err := leaderboard(ctx, env.Client, pathRound)
	if err != nil {
		return err
	}
	if len(scores) != 1 {
		return fail("path round has %d scores, want 1", len(scores))
	}
	scores, err = leaderboard(ctx, env.Client, bodyRound)
	if err != nil {
		return err
	}
	if len(scores) != 0 {
		return fail("body round has %d scores, want 0", len(scores))
	}
	return nil
}

func testScoreLeaderboardOrder(ctx context.Context, env *Env) error {
	roundID := freshRoundID()
	path := "/scores/" + roundID

	for _, sub := range []struct {
		c     *Client
		moves int
	}{
		{env.Client, 9},
		{env.Other, 4},
	} {
		resp, err := submitScore(ctx, sub.c, path, map[string]interface{}{
			"moves":        sub.moves,
			"moveSequence": moveSequence(sub.moves),
		})
		if err != nil {
			return err
		}
		if err := expectAccepted(resp, sub.moves, 1); err != nil {
			return err
		}
	}

	scores, err := leaderboard(ctx, env.Client, roundID)
	if err != nil {
		return err
	}
	if len(scores) != 2 {
		return fail("len(leaderboard) = %d, want 2", len(scores))
	}
	if scores[0].UserID != env.Other.UserID() || scores[0].Moves != 4 {
		return fail("leader = %s/%d, want %s/4", scores[0].UserID, scores[0].Moves, env.Other.UserID())
	}
	if scores[1].Moves < scores[0].Moves {
		return fail("leaderboard is not ascending: %+v", scores)
	}
	return nil
}

func testScoreUserList(ctx context.Context, env *Env) error {
	roundID := freshRoundID()
	resp, err := submitScore(ctx, env.Client, "/scores/"+roundID, map[string]interface{}{
		"moves":        6,
		"moveSequence": moveSequence(6),
	})
	if err != nil {
		return err
	}
	if err := expectAccepted(resp, 6, 1); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/scores", nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var mine []scoreRecord
	if err := resp.JSON(&mine); err != nil {
		return err
	}
	found := false
	for _, s := range mine {
		if s.UserID != env.Client.UserID() {
			return fail("caller scores include %s's score", s.UserID)
		}
		if s.RoundID == roundID && s.Moves == 6 {
			found = true
		}
	}
	if !found {
		return fail("caller scores do not include round %s", roundID)
	}

	// the other user sees none of it
	resp, err = env.Other.Do(ctx, http.MethodGet, "/scores", nil)
	if err != nil {
		return err
	}
	var theirs []scoreRecord
	if err := resp.JSON(&theirs); err != nil {
		return err
	}
	for _, s := range theirs {
		if s.RoundID == roundID {
			return fail("other user's scores include round %s", roundID)
		}
	}
	return nil
}

func testScoreValidation(ctx context.Context, env *Env) error {
	roundID := freshRoundID()
	cases := []struct {
		path    string
		body    interface{}
		message string
	}{
		{"/scores", map[string]interface{}{"moves": 3, "moveSequence": moveSequence(3)}, "roundId is required for score submission (in path or body)"},
		{"/scores/" + roundID, map[string]interface{}{"moveSequence": moveSequence(3)}, "moves field is required"},
		{"/scores/" + roundID, map[string]interface{}{"moves": nil, "moveSequence": moveSequence(3)}, "moves field is required"},
		{"/scores/" + roundID, map[string]interface{}{"moves": -1, "moveSequence": moveSequence(1)}, "moves must be a non-negative integer"},
		{"/scores/" + roundID, map[string]interface{}{"moves": 2.5, "moveSequence": moveSequence(2)}, "moves must be a non-negative integer"},
		{"/scores/" + roundID, map[string]interface{}{"moves": "five", "moveSequence": moveSequence(5)}, "moves must be a non-negative integer"},
		{"/scores/" + roundID, map[string]interface{}{"moves": 2000000, "moveSequence": moveSequence(1)}, "moves must be at most 1000000"},
		{"/scores/" + roundID, map[string]interface{}{"moves": 3}, "moveSequence field is required"},
	}
	for _, tc := range cases {
		resp, err := submitScore(ctx, env.Client, tc.path, tc.body)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusBadRequest, tc.message); err != nil {
			return fail("POST %s %v: %v", tc.path, tc.body, err)
		}
	}

	// nothing was stored by the rejected submissions
	scores, err := leaderboard(ctx, env.Client, roundID)
	if err != nil {
		return err
	}
	if len(scores) != 0 {
		return fail("rejected submissions stored %d scores", len(scores))
	}
	return nil
}
