// Package store is the typed operational-store wrapper: a thin,
// fully-blocking layer over Redis exposing hashes, sorted sets, lists,
// a monotonic counter, and server-side scripted atomic blocks. It owns
// all hot-path reads/writes for the matching core.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config mirrors the shape internal/config.Config.Store unmarshals from
// viper: address, credentials, pool sizing.
type Config struct {
	Addresses    []string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store wraps a redis.UniversalClient (works against a single node, a
// sentinel-managed primary, or a cluster without call-site changes).
type Store struct {
	rdb    redis.UniversalClient
	logger *zap.Logger

	freezeScript        *redis.Script
	executeTradeScript  *redis.Script
	reverseFreezeScript *redis.Script
}

// New dials the configured backend and registers the scripted blocks
// used by the settlement primitive.
func New(cfg Config, logger *zap.Logger) *Store {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Store{
		rdb:                 rdb,
		logger:              logger,
		freezeScript:        redis.NewScript(freezeLua),
		executeTradeScript:  redis.NewScript(executeTradeLua),
		reverseFreezeScript: redis.NewScript(reverseFreezeLua),
	}
}

// Ping is the liveness probe used by the health monitor: it reports the
// round-trip latency so the caller can classify
// healthy/degraded/unhealthy.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("matchcore: store ping: %w", err)
	}
	return time.Since(start), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// --- Hash ---

func (s *Store) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return s.rdb.HSet(ctx, key, fields).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.rdb.HIncrBy(ctx, key, field, delta).Result()
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// --- Sorted set ---

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64, ascending bool) ([]string, error) {
	if ascending {
		return s.rdb.ZRange(ctx, key, start, stop).Result()
	}
	return s.rdb.ZRevRange(ctx, key, start, stop).Result()
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// --- List ---

func (s *Store) LPush(ctx context.Context, key string, value interface{}) error {
	return s.rdb.LPush(ctx, key, value).Err()
}

func (s *Store) RPop(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

// LRange returns a non-destructive view of a list range, used to
// recover a processing queue's contents after a crash without consuming
// it.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *Store) RPopLPush(ctx context.Context, src, dst string) (string, error) {
	v, err := s.rdb.RPopLPush(ctx, src, dst).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// --- Counter ---

// Incr returns a monotonically increasing 64-bit integer for the named
// counter (global:order_id, global:trade_id).
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// --- Scripted blocks are defined in scripts.go and exposed through the
// Settlement type in internal/settlement, which is the only caller that
// needs to know their argument shapes.

// runScript evaluates an arbitrary registered script against a key set,
// used by the Eval* script methods that internal/settlement calls.
func (s *Store) runScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	v, err := script.Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("matchcore: unexpected script result type %T", v)
	}
	return n, nil
}

// EvalFreeze, EvalReverseFreeze, and EvalExecuteTrade expose the three
// settlement scripts to internal/settlement, which owns their
// key/argument shapes.

func (s *Store) EvalFreeze(ctx context.Context, assetKey string, amount, nowMillis int64) (int64, error) {
	return s.runScript(ctx, s.freezeScript, []string{assetKey}, amount, nowMillis)
}

func (s *Store) EvalReverseFreeze(ctx context.Context, assetKey string, amount, nowMillis int64) (int64, error) {
	return s.runScript(ctx, s.reverseFreezeScript, []string{assetKey}, amount, nowMillis)
}

func (s *Store) EvalExecuteTrade(ctx context.Context, keys []string, notional, qty, nowMillis int64) (int64, error) {
	return s.runScript(ctx, s.executeTradeScript, keys, notional, qty, nowMillis)
}
