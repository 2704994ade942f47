package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

// Cache keeps round leaderboards and public profiles in Redis.
// The repository stays the source of truth; every key carries a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache connects to Redis and verifies the connection
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    cfg.CacheTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// leaderboardKey is a sorted set of userId scored by moves
func leaderboardKey(roundID string) string {
	return fmt.Sprintf("round:%s:leaderboard", roundID)
}

// scoresKey is a hash of userId to the score record as JSON
func scoresKey(roundID string) string {
	return fmt.Sprintf("round:%s:scores", roundID)
}

// metaKey marks a round as cached, including rounds with no scores
func metaKey(roundID string) string {
	return fmt.Sprintf("round:%s:meta", roundID)
}

// versionKey counts invalidations so a fill computed before one can be refused
func versionKey(roundID string) string {
	return fmt.Sprintf("round:%s:version", roundID)
}

// versionTTL outlives any fill in flight; an expired version reads as zero
const versionTTL = 7 * 24 * time.Hour

// playerInfoKey returns the Redis key for the public profile cache
func playerInfoKey(userID string) string {
	return fmt.Sprintf("player:%s:info", userID)
}

// GetRoundScores returns the cached leaderboard. ok is false on a miss.
func (c *Cache) GetRoundScores(ctx context.Context, roundID string) ([]domain.Score, bool, error) {
	n, err := c.client.Exists(ctx, metaKey(roundID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("checking leaderboard cache: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	members, err := c.client.ZRange(ctx, leaderboardKey(roundID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reading leaderboard ranking: %w", err)
	}
	scores := make([]domain.Score, 0, len(members))
	if len(members) == 0 {
		return scores, true, nil
	}

	values, err := c.client.HMGet(ctx, scoresKey(roundID), members...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reading leaderboard records: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// a key expired between reads
			c.logger.Debug("leaderboard cache incomplete", "round_id", roundID, "user_id", members[i])
			return nil, false, nil
		}
		var s domain.Score
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, false, fmt.Errorf("decoding cached score: %w", err)
		}
		scores = append(scores, s)
	}

	domain.SortLeaderboard(scores)
	return scores, true, nil
}

// RoundVersion returns the round's invalidation counter. Read it before
// loading the scores that are passed to SetRoundScores.
func (c *Cache) RoundVersion(ctx context.Context, roundID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(roundID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading leaderboard version: %w", err)
	}
	return v, nil
}

// SetRoundScores replaces the cached leaderboard of a round, unless the round
// was invalidated after version was read. stored reports whether it was written.
func (c *Cache) SetRoundScores(ctx context.Context, roundID string, version int64, scores []domain.Score) (bool, error) {
	lbKey, recKey, mKey, vKey := leaderboardKey(roundID), scoresKey(roundID), metaKey(roundID), versionKey(roundID)

	records := make(map[string][]byte, len(scores))
	for _, s := range scores {
		data, err := json.Marshal(s)
		if err != nil {
			return false, fmt.Errorf("encoding score: %w", err)
		}
		records[s.UserID] = data
	}

	stored := false
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, lbKey, recKey, mKey)
			pipe.HSet(ctx, mKey,
				"count", len(scores),
				"cached_at", strconv.FormatInt(time.Now().Unix(), 10),
			)
			for _, s := range scores {
				pipe.ZAdd(ctx, lbKey, redis.Z{Score: float64(s.Moves), Member: s.UserID})
				pipe.HSet(ctx, recKey, s.UserID, records[s.UserID])
			}
			pipe.Expire(ctx, mKey, c.ttl)
			pipe.Expire(ctx, lbKey, c.ttl)
			pipe.Expire(ctx, recKey, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, vKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("caching leaderboard: %w", err)
	}
	if !stored {
		c.logger.Debug("stale leaderboard fill skipped", "round_id", roundID, "version", version)
	}
	return stored, nil
}

// InvalidateRound drops every cached key of a round and bumps its version
func (c *Cache) InvalidateRound(ctx context.Context, roundID string) error {
	vKey := versionKey(roundID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vKey)
		pipe.Expire(ctx, vKey, versionTTL)
		pipe.Del(ctx, metaKey(roundID), leaderboardKey(roundID), scoresKey(roundID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidating leaderboard: %w", err)
	}
	return nil
}

// GetPublicProfile retrieves a cached public profile
func (c *Cache) GetPublicProfile(ctx context.Context, userID string) (*domain.PublicProfile, bool, error) {
	result, err := c.client.HGetAll(ctx, playerInfoKey(userID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("getting player info: %w", err)
	}
	if len(result) == 0 {
		return nil, false, nil
	}

	pub := &domain.PublicProfile{UserID: userID}
	if v, ok := result["username"]; ok {
		pub.Username = &v
	}
	if v, ok := result["email"]; ok {
		pub.Email = &v
	}
	return pub, true, nil
}

// SetPublicProfile caches a public profile. Missing fields are simply not stored.
func (c *Cache) SetPublicProfile(ctx context.Context, p domain.PublicProfile) error {
	key := playerInfoKey(p.UserID)
	values := []interface{}{"user_id", p.UserID}
	if p.Username != nil {
		values = append(values, "username", *p.Username)
	}
	if p.Email != nil {
		values = append(values, "email", *p.Email)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting player info: %w", err)
	}
	return nil
}

// CachedRounds counts rounds with a live cached leaderboard
func (c *Cache) CachedRounds(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "round:*:meta", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("scanning cached rounds: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
