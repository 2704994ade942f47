package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// PuzzleState is one self-contained board snapshot of a round.
// Keys are kept verbatim so clients can extend the snapshot.
type PuzzleState map[string]json.RawMessage

// Round is a playable puzzle instance. PuzzleStates is the only persisted shape.
type Round struct {
	RoundID      string        `json:"roundId"`
	RoundName    string        `json:"roundName"`
	PuzzleStates []PuzzleState `json:"puzzleStates"`
	ConfigID     string        `json:"configId,omitempty"`
	AuthorID     string        `json:"authorId"`
	AuthorEmail  string        `json:"authorEmail"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuthoredBy reports whether the caller may delete the round.
// Records without an author id fall back to the author email.
func (r *Round) AuthoredBy(id Identity) bool {
	if r.AuthorID != "" {
		return r.AuthorID == id.UserID
	}
	return r.AuthorEmail != "" && r.AuthorEmail == id.Email
}

// RoundRequest carries both accepted create shapes: the modern puzzleStates
// list and the legacy flat fields.
type RoundRequest struct {
	RoundName             json.RawMessage `json:"roundName"`
	ConfigID              json.RawMessage `json:"configId"`
	PuzzleStates          json.RawMessage `json:"puzzleStates"`
	InitialRobotPositions json.RawMessage `json:"initialRobotPositions"`
	TargetPositions       json.RawMessage `json:"targetPositions"`
	Walls                 json.RawMessage `json:"walls"`
	Targets               json.RawMessage `json:"targets"`
}

// RoundView names a listing variant of the rounds collection.
type RoundView string

const (
	RoundViewAll           RoundView = "all"
	RoundViewSolved        RoundView = "solved"
	RoundViewBaseline      RoundView = "baseline"
	RoundViewUserSubmitted RoundView = "user-submitted"
	RoundViewUserCompleted RoundView = "user-completed"
)

// LegacyPuzzleState folds the flat round fields of the older shape into one
// puzzle state. It returns nil when neither robots nor target are present.
func LegacyPuzzleState(robots, target, walls, targets json.RawMessage) PuzzleState {
	if !Present(robots) && !Present(target) {
		return nil
	}
	state := PuzzleState{}
	if Present(robots) {
		state["initialRobotPositions"] = robots
	}
	if Present(target) {
		state["targetPosition"] = target
	}
	if Present(walls) {
		state["walls"] = walls
	}
	if Present(targets) {
		state["targets"] = targets
	}
	return state
}

// ParseRoundView maps a path segment to a view.
func ParseRoundView(s string) (RoundView, bool) {
	switch v := RoundView(s); v {
	case RoundViewSolved, RoundViewBaseline, RoundViewUserSubmitted, RoundViewUserCompleted:
		return v, true
	}
	return "", false
}

// SortRounds orders rounds newest first.
func SortRounds(rounds []Round) {
	sort.Slice(rounds, func(i, j int) bool {
		if !rounds[i].CreatedAt.Equal(rounds[j].CreatedAt) {
			return rounds[i].CreatedAt.After(rounds[j].CreatedAt)
		}
		return rounds[i].RoundID > rounds[j].RoundID
	})
}
