package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ephemeral-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore exporta contadores de decisão para o Redis.
//
// É só escrita: nenhuma decisão de admissão consulta o Redis, o estado do
// limiter continua local ao processo.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total e class são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ephemeral:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) totalKey() string { return s.prefix + ":total" }
func (s *RedisStatsStore) classKey() string { return s.prefix + ":class" }

func (s *RedisStatsStore) minuteKey(at time.Time) string {
	return s.prefix + ":minute:" + at.UTC().Format("200601021504")
}

func decisionField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Record incrementa total, classe e (opcionalmente) o bucket do minuto e a
// chave do cliente num único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := decisionField(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)

	if class := strings.TrimSpace(ev.Class); class != "" {
		pipe.HIncrBy(ctx, s.classKey(), class+":"+field, 1)
	}

	if s.bucket == "minute" {
		k := s.minuteKey(at)
		pipe.HIncrBy(ctx, k, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	if s.trackKeys {
		if key := strings.TrimSpace(string(ev.Key)); key != "" {
			k := s.prefix + ":key:" + key
			pipe.HIncrBy(ctx, k, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, k, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats record: %w", err)
	}
	return nil
}

// Totals lê os contadores cumulativos (total e por classe). Serve para
// observação; o limiter nunca consulta o Redis.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, map[string]Counters, error) {
	if s == nil || s.rdb == nil {
		return Counters{}, nil, nil
	}

	pipe := s.rdb.Pipeline()
	totalCmd := pipe.HGetAll(ctx, s.totalKey())
	classCmd := pipe.HGetAll(ctx, s.classKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counters{}, nil, fmt.Errorf("redis stats totals: %w", err)
	}

	var total Counters
	for f, v := range totalCmd.Val() {
		total.set(f, v)
	}

	byClass := make(map[string]Counters)
	for f, v := range classCmd.Val() {
		class, field, ok := cutLast(f, ":")
		if !ok {
			continue
		}
		c := byClass[class]
		c.set(field, v)
		byClass[class] = c
	}
	return total, byClass, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func (c *Counters) set(field, raw string) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	switch field {
	case "allowed":
		c.Allowed = n
	case "denied":
		c.Denied = n
	}
}
