// Package dedup barra a reentrega de eventos mutantes (POST/PUT/PATCH/DELETE)
// que trazem um identificador no header configurado.
//
// O evento é marcado antes de chegar ao upstream; se o upstream falhar, o
// cliente precisa reenviar com outro identificador.
package dedup

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"ephemeral-gateway/middleware/ratelimit"
)

const DefaultHeader = "X-Event-Id"

// Checker é o que o middleware precisa do deduplicador.
type Checker interface {
	IsAlreadyProcessed(subject, actor string) bool
}

type Options struct {
	Checker Checker
	Header  string
	KeyFn   ratelimit.KeyFunc
	Logger  *slog.Logger
}

type duplicate struct {
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"eventId"`
}

// Subject identifica o evento: o mesmo id em recursos diferentes não colide.
func Subject(r *http.Request, eventID string) string {
	return r.URL.Path + "#" + eventID
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ratelimit.DefaultKeyFunc("", false)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if opts.Checker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			id := strings.TrimSpace(r.Header.Get(opts.Header))
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			actor := opts.KeyFn(r)
			if opts.Checker.IsAlreadyProcessed(Subject(r, id), actor) {
				opts.Logger.Info("duplicate event suppressed", "event_id", id, "actor", actor, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Duplicate", "true")
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(duplicate{Duplicate: true, EventID: id})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
