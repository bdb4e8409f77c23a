package ratelimit

import (
	"net/http"
	"time"

	"ephemeral-gateway/middleware/ratelimit/application"
	"ephemeral-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
}

// Concurrency limita requisições em voo. Rejected() expõe o total de rejeições.
type Concurrency struct {
	opts ConcurrencyOptions
	svc  *application.ConcurrencyService
}

func NewConcurrency(opts ConcurrencyOptions) *Concurrency {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	c := &Concurrency{opts: opts, svc: &application.ConcurrencyService{AcquireTimeout: opts.AcquireTimeout}}
	if opts.Max > 0 {
		c.svc.Pool = infra.NewChanPool(opts.Max)
	}
	return c
}

func (c *Concurrency) Rejected() int64 { return c.svc.Rejected() }
func (c *Concurrency) InFlight() int    { return c.svc.InFlight() }
func (c *Concurrency) Cap() int         { return c.svc.Cap() }

func (c *Concurrency) Middleware(next http.Handler) http.Handler {
	if c.opts.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := c.svc.Acquire(r.Context())
		if !ok {
			http.Error(w, http.StatusText(c.opts.RejectStatus), c.opts.RejectStatus)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

// ConcurrencyMiddleware é o atalho para quem não precisa do contador.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrency(opts).Middleware
}
