package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/robot-puzzle-api/internal/domain"
)

// CreateRound inserts a round unless the id is taken
func (r *Repository) CreateRound(ctx context.Context, round *domain.Round) error {
	states, err := json.Marshal(round.PuzzleStates)
	if err != nil {
		return fmt.Errorf("encoding puzzle states: %w", err)
	}

	query := `
		INSERT INTO rounds (round_id, round_name, puzzle_states, config_id, author_id, author_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (round_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		round.RoundID,
		round.RoundName,
		states,
		round.ConfigID,
		round.AuthorID,
		round.AuthorEmail,
		round.CreatedAt,
	)
	if err != nil {
		return writeErr("creating round", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoundExists
	}
	return nil
}

// GetRound retrieves a round by id
func (r *Repository) GetRound(ctx context.Context, roundID string) (*domain.Round, error) {
	query := `
		SELECT round_id, round_name, puzzle_states, config_id, author_id, author_email, created_at
		FROM rounds
		WHERE round_id = $1
	`
	round, err := scanRound(r.pool.QueryRow(ctx, query, roundID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting round: %w", err)
	}
	return round, nil
}

// ListRounds returns every round, newest first
func (r *Repository) ListRounds(ctx context.Context) ([]domain.Round, error) {
	query := `
		SELECT round_id, round_name, puzzle_states, config_id, author_id, author_email, created_at
		FROM rounds
		ORDER BY created_at DESC, round_id DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	defer rows.Close()

	rounds := make([]domain.Round, 0)
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		rounds = append(rounds, *round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	return rounds, nil
}

// DeleteRound removes a round. Scores recorded against it are kept.
func (r *Repository) DeleteRound(ctx context.Context, roundID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM rounds WHERE round_id = $1`, roundID)
	if err != nil {
		return fmt.Errorf("deleting round: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoundNotFound
	}
	return nil
}

func scanRound(row pgx.Row) (*domain.Round, error) {
	var (
		round  domain.Round
		states []byte
	)
	err := row.Scan(
		&round.RoundID,
		&round.RoundName,
		&states,
		&round.ConfigID,
		&round.AuthorID,
		&round.AuthorEmail,
		&round.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(states, &round.PuzzleStates); err != nil {
		return nil, fmt.Errorf("decoding puzzle states: %w", err)
	}
	round.CreatedAt = round.CreatedAt.UTC()
	return &round, nil
}
