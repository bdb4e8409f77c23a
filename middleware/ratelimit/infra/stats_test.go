package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"ephemeral-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStats_CountsByClassAndKey(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "ip:1", Class: "auth", Allowed: true})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip:1", Class: "auth", Allowed: false})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip:2", Class: "general", Allowed: true})

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected total %+v", got)
	}
	if got := s.ByClass()["auth"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected auth counters %+v", got)
	}
	if got := s.ByKey()["ip:2"]; got.Allowed != 1 {
		t.Fatalf("unexpected ip:2 counters %+v", got)
	}
}

func TestMemoryStats_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "ip:1", Allowed: true})
	if len(s.ByKey()) != 0 {
		t.Fatalf("expected no per-key counters")
	}
}

type errStats struct{ err error }

func (e errStats) Record(context.Context, domain.StatsEvent) error { return e.err }

func TestMultiStats_RecordsAllAndReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := errors.New("boom")
	m := MultiStats{errStats{err: boom}, nil, mem}

	err := m.Record(context.Background(), domain.StatsEvent{Allowed: true})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if mem.Total().Allowed != 1 {
		t.Fatalf("expected memory store to still record")
	}
}

func TestRedisStats_NilClientIsNoop(t *testing.T) {
	s := NewRedisStatsStore(nil)
	if err := s.Record(context.Background(), domain.StatsEvent{Allowed: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRedisStats_UnreachableServerReturnsError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = rdb.Close() }()

	s := NewRedisStatsStore(rdb, WithStatsPrefix(":test:"), WithStatsBucket(" MINUTE "), WithStatsTrackKeys(true))
	if s.prefix != "test" || s.bucket != "minute" {
		t.Fatalf("unexpected options applied: prefix=%q bucket=%q", s.prefix, s.bucket)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Record(ctx, domain.StatsEvent{Key: "ip:1", Class: "auth"}); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
}

func TestRedisStats_KeyLayout(t *testing.T) {
	s := NewRedisStatsStore(nil, WithStatsPrefix("gw"))
	at := time.Date(2026, 3, 1, 9, 7, 30, 0, time.FixedZone("BRT", -3*3600))

	if got := s.minuteKey(at); got != "gw:minute:202603011207" {
		t.Fatalf("unexpected minute key %q", got)
	}
	if s.totalKey() != "gw:total" || s.classKey() != "gw:class" {
		t.Fatalf("unexpected keys %q %q", s.totalKey(), s.classKey())
	}
}

func TestRedisStats_TotalsNilClient(t *testing.T) {
	total, byClass, err := NewRedisStatsStore(nil).Totals(context.Background())
	if err != nil || total != (Counters{}) || byClass != nil {
		t.Fatalf("expected empty result, got %+v %v %v", total, byClass, err)
	}
}

func TestRedisStats_TotalsUnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := NewRedisStatsStore(rdb).Totals(ctx); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
}

func TestCounters_Set(t *testing.T) {
	var c Counters
	c.set("allowed", "7")
	c.set("denied", "2")
	c.set("denied", "x")
	c.set("other", "9")
	if c.Allowed != 7 || c.Denied != 2 {
		t.Fatalf("unexpected counters %+v", c)
	}

	class, field, ok := cutLast("api:v1:denied", ":")
	if !ok || class != "api:v1" || field != "denied" {
		t.Fatalf("unexpected split %q %q %v", class, field, ok)
	}
}
