// Package ephemeral reúne o estado efêmero do processo: cache com expiração,
// um rate limiter de janela fixa por classe de rota e o deduplicador de eventos.
//
// Um Layer é criado uma vez no start do processo e injetado em quem precisa.
// Start liga os janitors; cancelar o ctx passado a Start libera todos os timers.
// Nada aqui persiste entre restarts nem é compartilhado entre processos.
package ephemeral

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ephemeral-gateway/config"
	"ephemeral-gateway/ephemeral/cache"
	"ephemeral-gateway/ephemeral/dedup"
	"ephemeral-gateway/middleware/ratelimit/domain"
	"ephemeral-gateway/middleware/ratelimit/infra"

	"github.com/dustin/go-humanize"
)

// Class é uma classe de rota com o seu limiter.
type Class struct {
	Name       string
	PathPrefix string
	Rule       domain.WindowRule
	Limiter    *infra.FixedWindowStore
}

type Layer[V any] struct {
	Cache *cache.Cache[V]
	Dedup *dedup.Deduplicator

	classes []Class
	byName  map[string]*infra.FixedWindowStore
	logger  *slog.Logger
}

// New monta o layer a partir da configuração. Não inicia goroutines.
func New[V any](cfg *config.Config, logger *slog.Logger) (*Layer[V], error) {
	if cfg == nil {
		return nil, fmt.Errorf("ephemeral: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Layer[V]{
		Cache: cache.New[V](
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Duration),
			cache.WithHardCeiling(cfg.Cache.HardCeiling.Duration),
			cache.WithSweepInterval(cfg.Cache.SweepInterval.Duration),
		),
		Dedup: dedup.New(
			dedup.WithWindow(cfg.Dedup.Window.Duration),
			dedup.WithRetention(cfg.Dedup.Retention.Duration),
			dedup.WithMaxTracked(cfg.Dedup.MaxTracked),
		),
		byName: make(map[string]*infra.FixedWindowStore, len(cfg.RateLimit.Classes)),
		logger: logger,
	}

	for _, rc := range cfg.RateLimit.Classes {
		if _, dup := l.byName[rc.Name]; dup {
			return nil, fmt.Errorf("ephemeral: duplicate route class %q", rc.Name)
		}
		rule := domain.WindowRule{
			Window:      rc.Window.Duration,
			MaxRequests: rc.MaxRequests,
			Message:     rc.Message,
			Status:      rc.RejectStatus(),
		}
		store := infra.NewFixedWindowStore(rule, infra.WithCleanupEvery(cfg.RateLimit.CleanupInterval.Duration))
		l.classes = append(l.classes, Class{Name: rc.Name, PathPrefix: rc.PathPrefix, Rule: store.Rule(), Limiter: store})
		l.byName[rc.Name] = store
	}

	return l, nil
}

// Classes devolve as classes na ordem da configuração.
func (l *Layer[V]) Classes() []Class {
	out := make([]Class, len(l.classes))
	copy(out, l.classes)
	return out
}

// Limiter devolve o limiter da classe.
func (l *Layer[V]) Limiter(class string) (*infra.FixedWindowStore, bool) {
	s, ok := l.byName[class]
	return s, ok
}

// Start liga o janitor do cache e dos limiters. Retorna na hora.
func (l *Layer[V]) Start(ctx context.Context) {
	l.Cache.StartJanitor(ctx)
	for _, c := range l.classes {
		c.Limiter.StartJanitor(ctx)
	}
	l.logger.Info("ephemeral layer started",
		"classes", len(l.classes),
		"cache_ceiling", l.Cache.HardCeiling(),
		"cache_sweep", l.Cache.SweepInterval(),
	)
}

// Snapshot é o retrato agregado dos três componentes.
type Snapshot struct {
	At      time.Time                    `json:"at"`
	Cache   cache.Stats                  `json:"cache"`
	Limiter map[string]infra.WindowStats `json:"limiter"`
	Dedup   dedup.Stats                  `json:"dedup"`
}

func (l *Layer[V]) Stats() Snapshot {
	s := Snapshot{
		At:      time.Now(),
		Cache:   l.Cache.Stats(),
		Limiter: make(map[string]infra.WindowStats, len(l.classes)),
		Dedup:   l.Dedup.Stats(),
	}
	for _, c := range l.classes {
		s.Limiter[c.Name] = c.Limiter.Stats()
	}
	return s
}

// LogStats escreve uma linha de log com o retrato atual.
func (l *Layer[V]) LogStats() {
	s := l.Stats()

	names := make([]string, 0, len(s.Limiter))
	for n := range s.Limiter {
		names = append(names, n)
	}
	sort.Strings(names)

	attrs := []any{
		"cache_entries", s.Cache.Entries,
		"cache_hit_rate", fmt.Sprintf("%.2f", s.Cache.HitRate),
		"heap", humanize.Bytes(s.Cache.HeapAlloc),
		"dedup_tracked", s.Dedup.Tracked,
	}
	for _, n := range names {
		ws := s.Limiter[n]
		attrs = append(attrs, "limiter_"+n, fmt.Sprintf("%d keys/%s", ws.Tracked, humanize.Bytes(uint64(ws.ApproxBytes))))
	}
	l.logger.Info("ephemeral stats", attrs...)
}

// StartStatsLogger chama LogStats a cada every até o ctx encerrar.
func (l *Layer[V]) StartStatsLogger(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.LogStats()
			}
		}
	}()
}
