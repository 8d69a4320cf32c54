package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"guardian-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisAlertSink publica eventos de escalada em uma lista Redis
// (security:alerts), com LTRIM para manter só os N mais recentes.
//
// O limiter (token bucket) protege o próprio sink: uma enxurrada de bloqueios
// não vira uma enxurrada de alertas — o excesso é descartado em silêncio,
// já que o alerta é best-effort.
type RedisAlertSink struct {
	rdb     *redis.Client
	key     string
	maxLen  int64
	limiter *rate.Limiter
}

type AlertOption func(*RedisAlertSink)

func WithAlertKey(key string) AlertOption {
	return func(s *RedisAlertSink) { s.key = strings.TrimSpace(key) }
}

func WithAlertMaxLen(n int64) AlertOption {
	return func(s *RedisAlertSink) { s.maxLen = n }
}

// WithAlertRate limita a taxa de publicação (alertas por segundo + rajada).
func WithAlertRate(perSecond float64, burst int) AlertOption {
	return func(s *RedisAlertSink) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewRedisAlertSink(rdb *redis.Client, opts ...AlertOption) (*RedisAlertSink, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	s := &RedisAlertSink{
		rdb:     rdb,
		key:     "security:alerts",
		maxLen:  1000,
		limiter: rate.NewLimiter(rate.Limit(1), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.key == "" || s.maxLen <= 0 {
		return nil, fmt.Errorf("alert sink key/maxlen invalid: %w", domain.ErrInvalidConfig)
	}
	return s, nil
}

func (s *RedisAlertSink) Notify(ctx context.Context, a domain.Alert) error {
	if !s.limiter.Allow() {
		return nil
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis alert push: %w", err)
	}
	return nil
}
