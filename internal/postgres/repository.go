package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

const (
	// uniqueViolation is the SQLSTATE raised by a duplicate primary key
	uniqueViolation = "23505"
	// dataExceptionClass prefixes SQLSTATEs for values a column cannot hold
	dataExceptionClass = "22"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database answers
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS board_configurations (
			user_id TEXT NOT NULL,
			config_id TEXT NOT NULL,
			walls JSONB NOT NULL,
			targets JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, config_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			round_id TEXT PRIMARY KEY,
			round_name TEXT NOT NULL,
			puzzle_states JSONB NOT NULL,
			config_id TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			author_email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			round_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			moves INT NOT NULL,
			move_sequence JSONB NOT NULL,
			attempt_count INT NOT NULL DEFAULT 1,
			completed_at TIMESTAMPTZ NOT NULL,
			user_email TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (round_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			username VARCHAR(64),
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		// tables created with bounded id columns
		`ALTER TABLE board_configurations ALTER COLUMN user_id TYPE TEXT, ALTER COLUMN config_id TYPE TEXT`,
		`ALTER TABLE rounds ALTER COLUMN round_id TYPE TEXT, ALTER COLUMN config_id TYPE TEXT, ALTER COLUMN author_id TYPE TEXT`,
		`ALTER TABLE scores ALTER COLUMN round_id TYPE TEXT, ALTER COLUMN user_id TYPE TEXT`,
		`ALTER TABLE user_profiles ALTER COLUMN user_id TYPE TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_created ON rounds(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_leaderboard ON scores(round_id, moves ASC, completed_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_user ON scores(user_id, round_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// ListConfigurations returns the owner's configurations, numeric ids in numeric order
func (r *Repository) ListConfigurations(ctx context.Context, userID string) ([]domain.Configuration, error) {
	query := `
		SELECT config_id, walls, targets, created_at, updated_at
		FROM board_configurations
		WHERE user_id = $1
		ORDER BY (config_id !~ '^[0-9]{1,18}$'),
			CASE WHEN config_id ~ '^[0-9]{1,18}$' THEN config_id::bigint END,
			config_id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing configurations: %w", err)
	}
	defer rows.Close()

	configs := make([]domain.Configuration, 0)
	for rows.Next() {
		c := domain.Configuration{UserID: userID}
		var walls, targets []byte
		if err := rows.Scan(&c.ConfigID, &walls, &targets, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning configuration: %w", err)
		}
		c.Walls, c.Targets = walls, targets
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing configurations: %w", err)
	}
	return configs, nil
}

// GetConfiguration retrieves one configuration of an owner
func (r *Repository) GetConfiguration(ctx context.Context, userID, configID string) (*domain.Configuration, error) {
	query := `
		SELECT walls, targets, created_at, updated_at
		FROM board_configurations
		WHERE user_id = $1 AND config_id = $2
	`
	c := domain.Configuration{UserID: userID, ConfigID: configID}
	var walls, targets []byte
	err := r.pool.QueryRow(ctx, query, userID, configID).Scan(&walls, &targets, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting configuration: %w", err)
	}
	c.Walls, c.Targets = walls, targets
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

// CreateConfiguration computes the next id and inserts in one statement.
// Two racing creates compute the same id; the loser hits the primary key.
func (r *Repository) CreateConfiguration(ctx context.Context, userID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	query := `
		INSERT INTO board_configurations (user_id, config_id, walls, targets, created_at, updated_at)
		SELECT $1::text, (COALESCE(MAX(config_id::bigint), 0) + 1)::text, $2::jsonb, $3::jsonb, $4::timestamptz, $4::timestamptz
		FROM board_configurations
		WHERE user_id = $1::text AND config_id ~ '^[0-9]{1,18}$'
		RETURNING config_id
	`
	c := domain.Configuration{
		UserID:    userID,
		Walls:     in.Walls,
		Targets:   in.Targets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.pool.QueryRow(ctx, query, userID, []byte(in.Walls), []byte(in.Targets), now).Scan(&c.ConfigID)
	if isUniqueViolation(err) {
		return nil, domain.ErrConfigurationConflict
	}
	if err != nil {
		return nil, writeErr("creating configuration", err)
	}
	return &c, nil
}

// UpdateConfiguration replaces walls and targets of an existing configuration
func (r *Repository) UpdateConfiguration(ctx context.Context, userID, configID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	query := `
		UPDATE board_configurations
		SET walls = $3, targets = $4, updated_at = $5
		WHERE user_id = $1 AND config_id = $2
		RETURNING created_at
	`
	c := domain.Configuration{
		UserID:    userID,
		ConfigID:  configID,
		Walls:     in.Walls,
		Targets:   in.Targets,
		UpdatedAt: now,
	}
	err := r.pool.QueryRow(ctx, query, userID, configID, []byte(in.Walls), []byte(in.Targets), now).Scan(&c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConfigurationNotFound
	}
	if err != nil {
		return nil, writeErr("updating configuration", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// DeleteConfiguration removes a configuration
func (r *Repository) DeleteConfiguration(ctx context.Context, userID, configID string) error {
	query := `DELETE FROM board_configurations WHERE user_id = $1 AND config_id = $2`
	result, err := r.pool.Exec(ctx, query, userID, configID)
	if err != nil {
		return fmt.Errorf("deleting configuration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConfigurationNotFound
	}
	return nil
}

// writeErr wraps a failed write. Values the schema rejects become a
// validation error so callers answer 400 and batch consumers skip them.
func writeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, dataExceptionClass) {
		return fmt.Errorf("%s: %w", op, errors.Join(domain.Invalid("Request contains a value that cannot be stored"), err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
