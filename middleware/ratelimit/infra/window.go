package infra

import (
	"sync"
	"time"

	"ephemeral-gateway/middleware/ratelimit/domain"
)

// approxRecordOverhead é uma estimativa grosseira (bytes) do custo de um
// registro no map, fora a própria chave.
const approxRecordOverhead = 64

// FixedWindowStore implementa domain.Limiter com contagem em janela fixa por chave.
//
// Uma instância por classe de rota. O registro de uma chave é recriado
// (count=1) assim que a janela vence; resetAt <= now já pertence à janela nova.
type FixedWindowStore struct {
	mu           sync.Mutex
	records      map[string]*windowRecord
	rule         domain.WindowRule
	cleanupEvery time.Duration
	now          func() time.Time
}

type windowRecord struct {
	count   int
	resetAt time.Time
}

type WindowOption func(*FixedWindowStore)

// WithCleanupEvery define o intervalo do janitor (<= 0 desliga).
func WithCleanupEvery(d time.Duration) WindowOption {
	return func(s *FixedWindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio (usado nos testes).
func WithClock(now func() time.Time) WindowOption {
	return func(s *FixedWindowStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewFixedWindowStore(rule domain.WindowRule, opts ...WindowOption) *FixedWindowStore {
	if rule.Window <= 0 {
		rule.Window = time.Minute
	}
	if rule.MaxRequests <= 0 {
		rule.MaxRequests = 1
	}
	s := &FixedWindowStore{
		records:      make(map[string]*windowRecord),
		rule:         rule,
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FixedWindowStore) Rule() domain.WindowRule      { return s.rule }
func (s *FixedWindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Admit implementa domain.Limiter.
func (s *FixedWindowStore) Admit(key domain.Key) domain.Decision {
	now := s.now()
	k := string(key)

	s.mu.Lock()
	rec, ok := s.records[k]
	if !ok || !now.Before(rec.resetAt) {
		rec = &windowRecord{count: 1, resetAt: now.Add(s.rule.Window)}
		s.records[k] = rec
	} else {
		rec.count++
	}
	count, resetAt := rec.count, rec.resetAt
	s.mu.Unlock()

	dec := domain.Decision{
		Allowed:   count <= s.rule.MaxRequests,
		Limit:     s.rule.MaxRequests,
		Remaining: s.rule.MaxRequests - count,
		ResetAt:   resetAt,
	}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if !dec.Allowed {
		dec.RetryAfter = resetAt.Sub(now)
	}
	return dec
}

// Cleanup remove todo registro cuja janela já venceu.
func (s *FixedWindowStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.records {
		if !now.Before(rec.resetAt) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

// WindowStats é um retrato do store: chaves rastreadas e uso aproximado de memória.
type WindowStats struct {
	Tracked     int   `json:"tracked"`
	ApproxBytes int64 `json:"approxBytes"`
}

func (s *FixedWindowStore) Stats() WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bytes int64
	for k := range s.records {
		bytes += int64(len(k)) + approxRecordOverhead
	}
	return WindowStats{Tracked: len(s.records), ApproxBytes: bytes}
}

// StartJanitor inicia uma goroutine que remove janelas vencidas periodicamente.
// Pare cancelando o contexto.
func (s *FixedWindowStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Cleanup() })
}
