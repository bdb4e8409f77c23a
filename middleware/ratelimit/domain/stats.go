package domain

import (
	"context"
	"time"
)

// StatsEvent é uma decisão de admissão já tomada, pronta para contagem.
// Class identifica o limiter que decidiu ("global" ou o nome da classe de rota).
//
// Key e Path têm cardinalidade aberta; stores que gravam por chave devem
// expirar o que escrevem.
type StatsEvent struct {
	Key     Key
	Class   string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsStore recebe eventos de decisão. Erros são só reportados: uma falha
// de stats nunca muda o veredito.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
