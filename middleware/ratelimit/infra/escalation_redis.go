package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guardian-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisViolationLedger conta violações por cliente em
// ratelimit:violations:<cliente>, com TTL rolante: cada escrita renova a
// expiração, então um cliente que passa o período sem violar é esquecido.
type RedisViolationLedger struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type LedgerOption func(*RedisViolationLedger)

func WithLedgerPrefix(prefix string) LedgerOption {
	return func(l *RedisViolationLedger) { l.prefix = strings.Trim(prefix, ":") }
}

func WithLedgerTTL(d time.Duration) LedgerOption {
	return func(l *RedisViolationLedger) { l.ttl = d }
}

func NewRedisViolationLedger(rdb *redis.Client, opts ...LedgerOption) (*RedisViolationLedger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	l := &RedisViolationLedger{
		rdb:    rdb,
		prefix: "ratelimit:violations",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		return nil, fmt.Errorf("ledger ttl must be > 0: %w", domain.ErrInvalidConfig)
	}
	return l, nil
}

func (l *RedisViolationLedger) RecordViolation(ctx context.Context, key domain.Key) (int, error) {
	redisKey := l.prefix + ":" + string(key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis violation incr: %w", err)
	}
	return int(incr.Val()), nil
}

// RedisBlockRegistry guarda bloqueios ativos em ratelimit:blocked:<cliente>.
// SET NX garante que um novo Block durante um bloqueio ativo não estende nem
// recria a entrada.
type RedisBlockRegistry struct {
	rdb    *redis.Client
	prefix string
}

type RegistryOption func(*RedisBlockRegistry)

func WithRegistryPrefix(prefix string) RegistryOption {
	return func(r *RedisBlockRegistry) { r.prefix = strings.Trim(prefix, ":") }
}

func NewRedisBlockRegistry(rdb *redis.Client, opts ...RegistryOption) (*RedisBlockRegistry, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	r := &RedisBlockRegistry{
		rdb:    rdb,
		prefix: "ratelimit:blocked",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RedisBlockRegistry) IsBlocked(ctx context.Context, key domain.Key) (bool, time.Duration, error) {
	ttl, err := r.rdb.TTL(ctx, r.prefix+":"+string(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis block ttl: %w", err)
	}
	// -2 = chave não existe; -1 = sem expiração (não deveria acontecer)
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

func (r *RedisBlockRegistry) Block(ctx context.Context, key domain.Key, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("block duration must be > 0: %w", domain.ErrInvalidConfig)
	}
	value := "blocked_at_" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := r.rdb.SetNX(ctx, r.prefix+":"+string(key), value, duration).Err(); err != nil {
		return fmt.Errorf("redis block setnx: %w", err)
	}
	return nil
}
