package application

import (
	"context"
	"sync/atomic"
	"time"

	"ephemeral-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. Conta quantas aquisições falharam.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration

	rejected atomic.Int64
}

// Acquire tenta adquirir uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx da requisição cancelar.
//   - AcquireTimeout > 0: espera no máximo AcquireTimeout.
//
// Se ok=false, nenhuma vaga foi adquirida e release é nil.
func (s *ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok = s.Pool.Acquire(ctx)
	if !ok {
		s.rejected.Add(1)
	}
	return release, ok
}

// InFlight e Cap devolvem 0 quando não há pool (sem limite).
func (s *ConcurrencyService) InFlight() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InFlight()
}

func (s *ConcurrencyService) Cap() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.Cap()
}

// Rejected devolve o total de aquisições que falharam desde o start.
func (s *ConcurrencyService) Rejected() int64 { return s.rejected.Load() }
