// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Decision carrega o veredito (allow/deny) junto com limit/remaining/reset,
// que a camada HTTP traduz em headers.
package domain
