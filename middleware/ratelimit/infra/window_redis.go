package infra

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Script executado inteiro de forma atômica no Redis: expira entradas fora da
// janela (estritamente menores que o início), conta, e só insere se ainda há
// vaga. Sem isso, dois callers concorrentes poderiam ocupar a mesma última
// vaga entre o ZCARD e o ZADD.
var slideScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= cap then
  return {0, 0}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return {1, cap - count - 1}
`)

// RedisWindowStore implementa domain.WindowStore sobre um ZSET por chave:
// score = timestamp em segundos (fração preservada), member único por
// requisição. O TTL da chave (>= 2x janela) é só rede de segurança contra
// crescimento sem fim; a correção vem da expiração por score na leitura.
type RedisWindowStore struct {
	rdb *redis.Client

	// memberSeq desempata requisições que chegam no mesmo nanossegundo.
	memberSeq atomic.Uint64
}

func NewRedisWindowStore(rdb *redis.Client) (*RedisWindowStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisWindowStore{rdb: rdb}, nil
}

func (s *RedisWindowStore) Slide(ctx context.Context, key string, now time.Time, window time.Duration, cap int) (bool, int, error) {
	score := float64(now.UnixNano()) / float64(time.Second)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.memberSeq.Add(1), 10)
	ttl := keyTTL(window)

	res, err := slideScript.Run(ctx, s.rdb,
		[]string{key},
		strconv.FormatFloat(score, 'f', 6, 64),
		window.Seconds(),
		cap,
		member,
		int64(ttl.Seconds()),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis slide script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected slide script result: %v", res)
	}
	allowed, err := asInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	remaining, err := asInt64(values[1])
	if err != nil {
		return false, 0, err
	}
	return allowed == 1, int(remaining), nil
}

// keyTTL retorna 2x a janela, com piso de 1 minuto (janelas curtas como a de
// burst ficariam com TTL agressivo demais para depuração).
func keyTTL(window time.Duration) time.Duration {
	ttl := 2 * window
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
