package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Key string

// UnknownKey é o bucket compartilhado quando não há identidade nem origem.
const UnknownKey Key = "unknown"

// Limiter decide se a requisição de uma chave pode seguir agora.
//
// A implementação pode ser janela fixa, token-bucket, etc. O contrato é que
// a leitura-incremento-escrita de uma chave seja atômica.
type Limiter interface {
	Admit(Key) Decision
}

// WindowRule é a configuração de uma classe de rota protegida por janela fixa.
type WindowRule struct {
	Window      time.Duration
	MaxRequests int
	// Message e Status são usados pela camada HTTP ao rejeitar.
	Message string
	Status  int
}

type Decision struct {
	Allowed bool
	// Limit é o máximo de requisições da janela (0 = desconhecido).
	Limit     int
	Remaining int
	// ResetAt é quando a janela atual termina. Zero se a implementação não souber.
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
