package dedup

import (
	"sync"
	"time"
)

const (
	DefaultWindow     = 30 * time.Second
	DefaultRetention  = time.Hour
	DefaultMaxTracked = 1000

	keySep = "\x1f"
)

// Deduplicator garante no máximo um veredito "novo" por evento (assunto + ator)
// enquanto o registro estiver rastreado.
//
// Um registro nunca é alterado depois de criado; só sai pela varredura, que
// roda quando o conjunto passa de MaxTracked e remove o que for mais velho que
// max(Retention, Window). O limite é suave: entre duas varreduras o conjunto
// pode passar de MaxTracked.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time

	window     time.Duration
	retention  time.Duration
	maxTracked int
	now        func() time.Time
}

type Option func(*Deduplicator)

// WithWindow define a janela curta de supressão.
func WithWindow(d time.Duration) Option {
	return func(dd *Deduplicator) { dd.window = d }
}

// WithRetention define a idade a partir da qual um registro pode ser varrido.
func WithRetention(d time.Duration) Option {
	return func(dd *Deduplicator) { dd.retention = d }
}

// WithMaxTracked define o tamanho que dispara a varredura.
func WithMaxTracked(n int) Option {
	return func(dd *Deduplicator) { dd.maxTracked = n }
}

// WithClock troca o relógio (usado nos testes).
func WithClock(now func() time.Time) Option {
	return func(dd *Deduplicator) {
		if now != nil {
			dd.now = now
		}
	}
}

func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		seen:       make(map[string]time.Time),
		window:     DefaultWindow,
		retention:  DefaultRetention,
		maxTracked: DefaultMaxTracked,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxTracked <= 0 {
		d.maxTracked = DefaultMaxTracked
	}
	return d
}

// Key monta a chave composta do evento.
func Key(subject, actor string) string {
	return subject + keySep + actor
}

// IsAlreadyProcessed devolve true se o evento já foi visto (o chamador deve
// pular o efeito colateral). Caso contrário registra o evento e devolve false.
//
// Verificação e registro são atômicos: duas chamadas concorrentes para o
// mesmo evento nunca recebem false as duas.
func (d *Deduplicator) IsAlreadyProcessed(subject, actor string) bool {
	key := Key(subject, actor)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}

	d.seen[key] = now
	if len(d.seen) > d.maxTracked {
		d.sweepLocked(now)
	}
	return false
}

// Seen informa se o evento está rastreado, sem registrar nada.
func (d *Deduplicator) Seen(subject, actor string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[Key(subject, actor)]
	return ok
}

func (d *Deduplicator) sweepLocked(now time.Time) int {
	maxAge := d.retention
	if maxAge < d.window {
		maxAge = d.window
	}
	cutoff := now.Add(-maxAge)

	removed := 0
	for k, firstSeen := range d.seen {
		if firstSeen.Before(cutoff) {
			delete(d.seen, k)
			removed++
		}
	}
	return removed
}

// Reset apaga todo o estado. Só para isolamento de testes.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
}

// Stats é um retrato do conjunto rastreado. Oldest/Newest são zero se vazio.
type Stats struct {
	Tracked int       `json:"tracked"`
	Oldest  time.Time `json:"oldest"`
	Newest  time.Time `json:"newest"`
}

func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{Tracked: len(d.seen)}
	for _, ts := range d.seen {
		if st.Oldest.IsZero() || ts.Before(st.Oldest) {
			st.Oldest = ts
		}
		if ts.After(st.Newest) {
			st.Newest = ts
		}
	}
	return st
}
