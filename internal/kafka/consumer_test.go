package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

func TestDecodeScoreEvent(t *testing.T) {
	sub, err := DecodeScoreEvent([]byte(`{"roundId":"round_1","userId":"u1","userEmail":"u1@example.com","moves":6,"moveSequence":["red:up"]}`))
	if err != nil {
		t.Fatalf("DecodeScoreEvent: %v", err)
	}
	if sub.RoundID != "round_1" || sub.UserID != "u1" || sub.Moves != 6 || sub.UserEmail != "u1@example.com" {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestDecodeScoreEventRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `moves=6`},
		{"no user", `{"roundId":"round_1","moves":6,"moveSequence":[]}`},
		{"no round", `{"userId":"u1","moves":6,"moveSequence":[]}`},
		{"negative moves", `{"roundId":"round_1","userId":"u1","moves":-2,"moveSequence":[]}`},
		{"no sequence", `{"roundId":"round_1","userId":"u1","moves":2}`},
		{"nul in sequence", `{"roundId":"round_1","userId":"u1","moves":2,"moveSequence":["red\u0000"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeScoreEvent([]byte(tt.value)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	_, err := DecodeScoreEvent([]byte(`{"roundId":"round_1","moves":6,"moveSequence":[]}`))
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("error = %v, want a validation error", err)
	}
}

func TestSaramaConfigUsesRetrySettings(t *testing.T) {
	sc := saramaConfig(&config.KafkaConfig{RetryAttempts: 5, RetryDelay: 250 * time.Millisecond})

	if sc.Metadata.Retry.Max != 5 {
		t.Fatalf("metadata retry max = %d, want 5", sc.Metadata.Retry.Max)
	}
	if sc.Consumer.Retry.Backoff != 250*time.Millisecond {
		t.Fatalf("consumer retry backoff = %v, want 250ms", sc.Consumer.Retry.Backoff)
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Fatalf("initial offset = %d, want newest", sc.Consumer.Offsets.Initial)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}
