// Package application aplica os limiters do domain sem conhecer net/http:
// Service transforma a Decision do limiter no que a borda precisa responder
// e ConcurrencyService controla as vagas em voo com timeout e contagem de recusas.
package application
