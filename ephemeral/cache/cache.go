package cache

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultTTL = 5 * time.Minute
	// DefaultHardCeiling limita a vida efetiva de qualquer entrada,
	// independente do TTL pedido. Ajustável via WithHardCeiling.
	DefaultHardCeiling   = 5 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// Cache é um key/value em memória com TTL por entrada e invalidação por tag.
//
// A expiração efetiva é now + min(ttl, HardCeiling). Get nunca devolve uma
// entrada vencida. Valores são devolvidos como estão: quem guarda ponteiros
// ou slices não deve mutá-los depois do Set.
type Cache[V any] struct {
	// mu serializa toda escrita (Set, Delete, Flush, InvalidateByTag e a
	// remoção no miss do Get); hits não passam por ele.
	mu    sync.Mutex
	items *ttlcache.Cache[string, V]

	defaultTTL    time.Duration
	hardCeiling   time.Duration
	sweepInterval time.Duration
}

type Option func(*config)

type config struct {
	defaultTTL    time.Duration
	hardCeiling   time.Duration
	sweepInterval time.Duration
}

// WithDefaultTTL define o TTL usado quando Set recebe ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithHardCeiling define o teto de vida de qualquer entrada.
func WithHardCeiling(d time.Duration) Option {
	return func(c *config) { c.hardCeiling = d }
}

// WithSweepInterval define o intervalo do janitor (<= 0 desliga).
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

func New[V any](opts ...Option) *Cache[V] {
	cfg := config{
		defaultTTL:    DefaultTTL,
		hardCeiling:   DefaultHardCeiling,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultTTL
	}

	return &Cache[V]{
		items: ttlcache.New[string, V](
			ttlcache.WithTTL[string, V](cfg.defaultTTL),
			ttlcache.WithDisableTouchOnHit[string, V](),
		),
		defaultTTL:    cfg.defaultTTL,
		hardCeiling:   cfg.hardCeiling,
		sweepInterval: cfg.sweepInterval,
	}
}

func (c *Cache[V]) HardCeiling() time.Duration   { return c.hardCeiling }
func (c *Cache[V]) SweepInterval() time.Duration { return c.sweepInterval }

func (c *Cache[V]) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if c.hardCeiling > 0 && ttl > c.hardCeiling {
		ttl = c.hardCeiling
	}
	return ttl
}

// Get devolve o valor se presente e não vencido. Uma entrada vencida é
// removida na hora. Toda chamada conta como hit ou miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), true
	}

	// Has é falso para ausente ou vencido; com mu nenhum Set entra no meio
	c.mu.Lock()
	if !c.items.Has(key) {
		c.items.Delete(key)
	}
	c.mu.Unlock()

	var zero V
	return zero, false
}

// Set grava o valor; ttl <= 0 usa o TTL padrão. Nunca falha.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key, value, c.effectiveTTL(ttl))
}

// Delete remove a chave e informa se havia uma entrada válida.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.items.Has(key)
	c.items.Delete(key)
	return live
}

// Flush apaga todas as entradas. Os contadores de hit/miss continuam.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.DeleteAll()
}

// InvalidateByTag remove toda chave que contém tag e devolve quantas saíram.
// Tag vazia não remove nada.
func (c *Cache[V]) InvalidateByTag(tag string) int {
	if tag == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.items.Keys() {
		if strings.Contains(key, tag) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Sweep remove as entradas vencidas e devolve quantas ainda restam.
func (c *Cache[V]) Sweep() int {
	return c.liveLen()
}

// liveLen conta só entradas válidas: Len do ttlcache inclui vencidas ainda não varridas.
func (c *Cache[V]) liveLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.DeleteExpired()
	return c.items.Len()
}

// StartJanitor roda Sweep a cada SweepInterval até o ctx encerrar.
func (c *Cache[V]) StartJanitor(ctx interface{ Done() <-chan struct{} }) {
	if c.sweepInterval <= 0 {
		return
	}

	t := time.NewTicker(c.sweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

// Stats é um retrato do cache no momento da chamada.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Requests  uint64  `json:"requests"`
	HitRate   float64 `json:"hitRate"`
	HeapAlloc uint64  `json:"heapAlloc"`
}

func (c *Cache[V]) Stats() Stats {
	m := c.items.Metrics()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := Stats{
		Entries:   c.liveLen(),
		Hits:      m.Hits,
		Misses:    m.Misses,
		Requests:  m.Hits + m.Misses,
		HeapAlloc: mem.HeapAlloc,
	}
	if st.Requests > 0 {
		st.HitRate = float64(st.Hits) / float64(st.Requests)
	}
	return st
}
