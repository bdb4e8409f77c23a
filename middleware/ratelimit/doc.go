// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa, token bucket, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a chave do cliente (identidade > XFF > RemoteAddr > "unknown")
//   2) Escolhe a classe de rota pelo maior prefixo de path (ByRouteClass)
//   3) Chama a camada application para obter a decisão da janela
//   4) Escreve X-RateLimit-Limit/Remaining/Reset; se bloqueado, Retry-After + status da classe
//   5) Se permitido, chama o próximo handler com a chave no contexto (ClientKeyFrom)
package ratelimit
