package ratelimit

import (
	"net/http"
	"sort"
	"strings"

	"ephemeral-gateway/middleware/ratelimit/domain"
)

// RouteClass é uma classe de rota protegida: um limiter próprio, escolhido pelo
// prefixo do path.
type RouteClass struct {
	Name       string
	PathPrefix string
	Limiter    domain.Limiter
	Message    string
	Status     int
}

// ByRouteClass aplica, para cada requisição, o limiter da classe com o maior
// prefixo que casa com o path. Sem classe correspondente, a requisição passa.
//
// Os campos comuns (KeyFn, Stats, headers, logger) vêm de base.
func ByRouteClass(classes []RouteClass, base Options) func(next http.Handler) http.Handler {
	sorted := make([]RouteClass, len(classes))
	copy(sorted, classes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})

	return func(next http.Handler) http.Handler {
		type route struct {
			prefix string
			h      http.Handler
		}
		routes := make([]route, 0, len(sorted))
		for _, c := range sorted {
			opts := base
			opts.Class = c.Name
			opts.Limiter = c.Limiter
			if c.Message != "" {
				opts.RejectMessage = c.Message
			}
			if c.Status != 0 {
				opts.RejectStatus = c.Status
			}
			routes = append(routes, route{prefix: c.PathPrefix, h: Middleware(opts)(next)})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, rt := range routes {
				if strings.HasPrefix(r.URL.Path, rt.prefix) {
					rt.h.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
