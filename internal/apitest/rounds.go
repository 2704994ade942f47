package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type roundBody struct {
	RoundID      string                       `json:"roundId"`
	RoundName    string                       `json:"roundName"`
	PuzzleStates []map[string]json.RawMessage `json:"puzzleStates"`
	ConfigID     string                       `json:"configId"`
	AuthorID     string                       `json:"authorId"`
	AuthorEmail  string                       `json:"authorEmail"`
}

var roundViews = []string{"solved", "baseline", "user-submitted", "user-completed"}

func roundSuite() Suite {
	return Suite{
		Name:        "rounds",
		Description: "round creation, listing and author-only deletion",
		Cases: []Case{
			{Name: "create with puzzleStates", Run: testRoundCreate},
			{Name: "legacy fields fold into one puzzle state", Run: testRoundLegacyShape},
			{Name: "path configId wins over body", Run: testRoundPathConfigID},
			{Name: "round name defaults", Run: testRoundDefaultName},
			{Name: "listings and views include new rounds", Run: testRoundListings},
			{Name: "only the author can delete", Run: testRoundAuthorDelete},
			{Name: "create validation", Run: testRoundValidation},
			{Name: "unknown round is 404", Run: testRoundUnknown},
		},
	}
}

func puzzleState() map[string]interface{} {
	return map[string]interface{}{
		"initialRobotPositions": map[string]interface{}{
			"red":  map[string]int{"x": 0, "y": 0},
			"blue": map[string]int{"x": 15, "y": 15},
		},
		"targetPosition": map[string]interface{}{"x": 7, "y": 8, "color": "red"},
		"walls":          []interface{}{},
	}
}

func createRound(ctx context.Context, c *Client, path string, body interface{}) (*roundBody, error) {
	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	var r roundBody
	if err := resp.JSON(&r); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(r.RoundID, "round_") {
		return nil, fail("roundId = %q, want round_<millis>", r.RoundID)
	}
	return &r, nil
}

func deleteRound(ctx context.Context, c *Client, id string) {
	_, _ = c.Do(ctx, http.MethodDelete, "/rounds/"+id, nil)
}

func testRoundCreate(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"roundName":    "apitest round",
		"puzzleStates": []interface{}{puzzleState(), puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)

	if r.RoundName != "apitest round" {
		return fail("roundName = %q", r.RoundName)
	}
	if len(r.PuzzleStates) != 2 {
		return fail("len(puzzleStates) = %d, want 2", len(r.PuzzleStates))
	}
	if r.AuthorID != env.Client.UserID() {
		return fail("authorId = %q, want %q", r.AuthorID, env.Client.UserID())
	}

	resp, err := env.Client.Do(ctx, http.MethodGet, "/rounds/"+r.RoundID, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var got roundBody
	if err := resp.JSON(&got); err != nil {
		return err
	}
	if got.RoundID != r.RoundID || len(got.PuzzleStates) != 2 {
		return fail("get returned %s with %d states", got.RoundID, len(got.PuzzleStates))
	}
	return nil
}

func testRoundLegacyShape(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"initialRobotPositions": map[string]interface{}{"red": map[string]int{"x": 1, "y": 2}},
		"targetPositions":       map[string]interface{}{"x": 3, "y": 4},
		"walls":                 []interface{}{map[string]int{"x": 0, "y": 1}},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)

	if len(r.PuzzleStates) != 1 {
		return fail("len(puzzleStates) = %d, want 1", len(r.PuzzleStates))
	}
	state := r.PuzzleStates[0]
	for _, key := range []string{"initialRobotPositions", "targetPosition", "walls"} {
		if _, ok := state[key]; !ok {
			return fail("puzzle state has no %s: %v", key, keys(state))
		}
	}
	if _, ok := state["targetPositions"]; ok {
		return fail("puzzle state kept the legacy targetPositions key")
	}
	if !sameJSON(state["targetPosition"], []byte(`{"x":3,"y":4}`)) {
		return fail("targetPosition = %s", state["targetPosition"])
	}
	return nil
}

func testRoundPathConfigID(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds/config/cfg-path", map[string]interface{}{
		"configId":     "cfg-body",
		"puzzleStates": []interface{}{puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)

	if r.ConfigID != "cfg-path" {
		return fail("configId = %q, want cfg-path", r.ConfigID)
	}
	if r.RoundName != "Round from config cfg-path" {
		return fail("roundName = %q, want %q", r.RoundName, "Round from config cfg-path")
	}
	return nil
}

func testRoundDefaultName(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"puzzleStates": []interface{}{puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)
	if r.RoundName != "Untitled round" {
		return fail("roundName = %q, want %q", r.RoundName, "Untitled round")
	}

	withConfig, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"configId":     "7",
		"roundName":    "   ",
		"puzzleStates": []interface{}{puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, withConfig.RoundID)
	if withConfig.RoundName != "Round from config 7" {
		return fail("roundName = %q, want %q", withConfig.RoundName, "Round from config 7")
	}
	return nil
}

func listContains(ctx context.Context, c *Client, path, roundID string) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return fail("GET %s: %v", path, err)
	}
	var rounds []roundBody
	if err := resp.JSON(&rounds); err != nil {
		return err
	}
	for _, r := range rounds {
		if r.RoundID == roundID {
			return nil
		}
	}
	return fail("GET %s does not list %s", path, roundID)
}

func testRoundListings(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"puzzleStates": []interface{}{puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)

	if err := listContains(ctx, env.Client, "/rounds", r.RoundID); err != nil {
		return err
	}
	// rounds are public
	if err := listContains(ctx, env.Other, "/rounds", r.RoundID); err != nil {
		return err
	}
	for _, view := range roundViews {
		if err := listContains(ctx, env.Client, "/rounds/"+view, r.RoundID); err != nil {
			return err
		}
	}

	resp, err := env.Other.Do(ctx, http.MethodGet, "/rounds/config/"+r.RoundID, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return fail("legacy lookup: %v", err)
	}
	var got roundBody
	if err := resp.JSON(&got); err != nil {
		return err
	}
	if got.RoundID != r.RoundID {
		return fail("legacy lookup returned %q", got.RoundID)
	}
	return nil
}

func testRoundAuthorDelete(ctx context.Context, env *Env) error {
	r, err := createRound(ctx, env.Client, "/rounds", map[string]interface{}{
		"puzzleStates": []interface{}{puzzleState()},
	})
	if err != nil {
		return err
	}
	defer deleteRound(ctx, env.Client, r.RoundID)

	resp, err := env.Other.Do(ctx, http.MethodDelete, "/rounds/"+r.RoundID, nil)
	if err != nil {
		return err
	}
	if err := expectError(resp, http.StatusForbidden, "You can only delete your own rounds"); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodDelete, "/rounds/"+r.RoundID, nil)
	if err != nil {
		return err
	}
	if err := expectMessage(resp, http.StatusOK, "Round deleted successfully"); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/rounds/"+r.RoundID, nil)
	if err != nil {
		return err
	}
	return expectError(resp, http.StatusNotFound, "Round not found")
}

func testRoundValidation(ctx context.Context, env *Env) error {
	cases := []struct {
		body    interface{}
		message string
	}{
		{
			map[string]interface{}{"initialRobotPositions": map[string]int{"x": 1}},
			"Missing required fields: targetPositions",
		},
		{
			map[string]interface{}{"targetPositions": map[string]int{"x": 1}},
			"Missing required fields: initialRobotPositions",
		},
		{
			map[string]interface{}{"roundName": "nothing"},
			"Missing required fields: initialRobotPositions, targetPositions",
		},
		{
			map[string]interface{}{"puzzleStates": []interface{}{}},
			"puzzleStates must be a non-empty list of puzzle states",
		},
		{
			map[string]interface{}{"puzzleStates": "not a list"},
			"puzzleStates must be a non-empty list of puzzle states",
		},
		{
			map[string]interface{}{"configId": "bad id!", "puzzleStates": []interface{}{puzzleState()}},
			"configId may only contain letters, numbers, hyphens, and underscores",
		},
		{
			map[string]interface{}{"roundName": 12, "puzzleStates": []interface{}{puzzleState()}},
			"roundName must be a string",
		},
	}
	for _, tc := range cases {
		resp, err := env.Client.Do(ctx, http.MethodPost, "/rounds", tc.body)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusBadRequest, tc.message); err != nil {
			return fail("POST /rounds %v: %v", tc.body, err)
		}
	}
	return nil
}

func testRoundUnknown(ctx context.Context, env *Env) error {
	id := "round_missing_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		resp, err := env.Client.Do(ctx, method, "/rounds/"+id, nil)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusNotFound, "Round not found"); err != nil {
			return fail("%s: %v", method, err)
		}
	}
	return nil
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
