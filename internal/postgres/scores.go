package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robot-puzzle-api/internal/domain"
)

// SubmitBest upserts the personal best only when the new move count is lower.
// The comparison lives in the ON CONFLICT WHERE clause, so concurrent
// submissions for the same key are serialized by the row lock.
func (r *Repository) SubmitBest(ctx context.Context, sub domain.ScoreSubmission, completedAt time.Time) (*domain.SubmitResult, error) {
	query := `
		INSERT INTO scores (round_id, user_id, moves, move_sequence, attempt_count, completed_at, user_email)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (round_id, user_id)
		DO UPDATE SET
			moves = EXCLUDED.moves,
			move_sequence = EXCLUDED.move_sequence,
			attempt_count = scores.attempt_count + 1,
			completed_at = EXCLUDED.completed_at,
			user_email = EXCLUDED.user_email
		WHERE EXCLUDED.moves < scores.moves
		RETURNING attempt_count
	`
	score := domain.Score{
		RoundID:      sub.RoundID,
		UserID:       sub.UserID,
		Moves:        sub.Moves,
		MoveSequence: sub.MoveSequence,
		CompletedAt:  completedAt,
		UserEmail:    sub.UserEmail,
	}
	err := r.pool.QueryRow(ctx, query,
		sub.RoundID,
		sub.UserID,
		sub.Moves,
		[]byte(sub.MoveSequence),
		completedAt,
		sub.UserEmail,
	).Scan(&score.AttemptCount)
	if err == nil {
		return &domain.SubmitResult{Improved: true, Score: score, CurrentBest: score.Moves}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, writeErr("submitting score", err)
	}

	// the conditional update matched nothing: the stored best stands
	existing, err := r.getScore(ctx, sub.RoundID, sub.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.SubmitResult{Improved: false, Score: *existing, CurrentBest: existing.Moves}, nil
}

func (r *Repository) getScore(ctx context.Context, roundID, userID string) (*domain.Score, error) {
	query := `
		SELECT round_id, user_id, moves, move_sequence, attempt_count, completed_at, user_email
		FROM scores
		WHERE round_id = $1 AND user_id = $2
	`
	score, err := scanScore(r.pool.QueryRow(ctx, query, roundID, userID))
	if err != nil {
		return nil, fmt.Errorf("getting score: %w", err)
	}
	return score, nil
}

// ListRoundScores returns the leaderboard of a round, best first
func (r *Repository) ListRoundScores(ctx context.Context, roundID string) ([]domain.Score, error) {
	query := `
		SELECT round_id, user_id, moves, move_sequence, attempt_count, completed_at, user_email
		FROM scores
		WHERE round_id = $1
		ORDER BY moves ASC, completed_at ASC, user_id ASC
	`
	return r.queryScores(ctx, query, roundID)
}

// ListUserScores returns every personal best of a user
func (r *Repository) ListUserScores(ctx context.Context, userID string) ([]domain.Score, error) {
	query := `
		SELECT round_id, user_id, moves, move_sequence, attempt_count, completed_at, user_email
		FROM scores
		WHERE user_id = $1
		ORDER BY round_id
	`
	return r.queryScores(ctx, query, userID)
}

// ListScoredRounds returns the ids of rounds with at least one score
func (r *Repository) ListScoredRounds(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT round_id FROM scores ORDER BY round_id`)
	if err != nil {
		return nil, fmt.Errorf("listing scored rounds: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning round id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) queryScores(ctx context.Context, query string, arg string) ([]domain.Score, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	defer rows.Close()

	scores := make([]domain.Score, 0)
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, *score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	return scores, nil
}

func scanScore(row pgx.Row) (*domain.Score, error) {
	var (
		score    domain.Score
		sequence []byte
	)
	err := row.Scan(
		&score.RoundID,
		&score.UserID,
		&score.Moves,
		&sequence,
		&score.AttemptCount,
		&score.CompletedAt,
		&score.UserEmail,
	)
	if err != nil {
		return nil, err
	}
	score.MoveSequence = sequence
	score.CompletedAt = score.CompletedAt.UTC()
	return &score, nil
}
