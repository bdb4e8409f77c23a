package infra

import (
	"context"
	"sync"

	"ephemeral-gateway/middleware/ratelimit/domain"
)

// chanPool é um semáforo em channel: cada vaga ocupada é um item no buffer.
type chanPool struct {
	sem chan struct{}
}

func NewChanPool(max int) domain.SlotPool {
	if max < 1 {
		max = 1
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre ganha de ctx já cancelado
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
	}

	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}

func (p *chanPool) InFlight() int { return len(p.sem) }
func (p *chanPool) Cap() int      { return cap(p.sem) }
