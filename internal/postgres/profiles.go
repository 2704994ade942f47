package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robot-puzzle-api/internal/domain"
)

// GetProfile retrieves a stored profile
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT user_id, email, username, attributes, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// UpsertProfile creates the profile or merges the update into it.
// Attributes merge key by key; a nil username keeps the stored one.
func (r *Repository) UpsertProfile(ctx context.Context, id domain.Identity, upd domain.ProfileUpdate, now time.Time) (*domain.Profile, error) {
	attrs := upd.Attributes
	if attrs == nil {
		attrs = map[string]json.RawMessage{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding profile attributes: %w", err)
	}

	query := `
		INSERT INTO user_profiles (user_id, email, username, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET
			username = COALESCE(EXCLUDED.username, user_profiles.username),
			attributes = user_profiles.attributes || EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, email, username, attributes, created_at, updated_at
	`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, id.UserID, id.Email, upd.Username, data, now))
	if err != nil {
		return nil, writeErr("saving profile", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p     domain.Profile
		attrs []byte
	)
	if err := row.Scan(&p.UserID, &p.Email, &p.Username, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Attributes = make(map[string]json.RawMessage)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("decoding profile attributes: %w", err)
		}
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}
