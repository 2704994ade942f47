package main

import (
	"encoding/json"
	"testing"

	"github.com/robot-puzzle-api/internal/kafka"
)

func TestScoreEventIsAccepted(t *testing.T) {
	event := scoreEvent("round_demo", 3, 12)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	sub, err := kafka.DecodeScoreEvent(data)
	if err != nil {
		t.Fatalf("DecodeScoreEvent: %v", err)
	}
	if sub.Moves != 12 {
		t.Fatalf("moves = %d, want 12", sub.Moves)
	}
	if sub.UserID != playerID(3) {
		t.Fatalf("userId = %q, want %q", sub.UserID, playerID(3))
	}

	var seq []string
	if err := json.Unmarshal(sub.MoveSequence, &seq); err != nil {
		t.Fatalf("moveSequence: %v", err)
	}
	if len(seq) != 12 {
		t.Fatalf("len(moveSequence) = %d, want 12", len(seq))
	}
}
