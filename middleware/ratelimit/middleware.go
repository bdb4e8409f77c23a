package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"ephemeral-gateway/middleware/ratelimit/application"
	"ephemeral-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

const DefaultRejectMessage = "Too many requests, please try again later."

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter domain.Limiter
	Stats   domain.StatsStore
	// Class é o nome da classe de rota (vai para stats e logs).
	Class               string
	KeyFn               KeyFunc
	IdentityHeader      string
	TrustXForwardedFor  bool
	RejectStatus        int
	RejectMessage       string
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Logger              *slog.Logger
}

type clientKeyCtx struct{}

// WithClientKey guarda a chave do cliente no contexto para os próximos middlewares.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyCtx{}, key)
}

// ClientKeyFrom devolve a chave gravada por WithClientKey ("" se não houver).
func ClientKeyFrom(ctx context.Context) string {
	k, _ := ctx.Value(clientKeyCtx{}).(string)
	return k
}

// DefaultKeyFunc escolhe a chave do cliente:
// identidade autenticada (header) > primeiro IP do X-Forwarded-For (se confiável) >
// host do RemoteAddr > "unknown".
//
// Tráfego anônimo atrás do mesmo IP divide um contador só.
func DefaultKeyFunc(identityHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if k := ClientKeyFrom(r.Context()); k != "" {
			return k
		}

		if identityHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(identityHeader)); v != "" {
				return "user:" + v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return "ip:" + ip
				}
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(addr)
		if err == nil && host != "" {
			return "ip:" + host
		}
		if addr != "" {
			return "ip:" + addr
		}
		return string(domain.UnknownKey)
	}
}

func withDefaults(opts Options) Options {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RejectMessage == "" {
		opts.RejectMessage = DefaultRejectMessage
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.IdentityHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	opts = withDefaults(opts)

	svc := application.Service{
		Limiter:    opts.Limiter,
		RetryAfter: opts.RetryAfter,
	}
	denyLog := &rate.Sometimes{Interval: time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			r = r.WithContext(WithClientKey(r.Context(), key))

			dec := svc.Decide(domain.Key(key))
			if opts.Stats != nil {
				err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Class:   opts.Class,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
				if err != nil {
					opts.Logger.Debug("rate limit stats record failed", "error", err)
				}
			}

			if opts.AddRateLimitHeaders {
				writeHeaders(w.Header(), dec)
			}

			if !dec.Allowed {
				secs := application.RetryAfterSeconds(dec.RetryAfter)
				denyLog.Do(func() {
					opts.Logger.Warn("rate limit exceeded", "class", opts.Class, "key", key, "path", r.URL.Path, "retry_after", secs)
				})
				w.Header().Set("Retry-After", formatInt(secs))
				writeRejection(w, opts.RejectStatus, opts.RejectMessage, secs)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeHeaders(h http.Header, dec domain.Decision) {
	if dec.Limit > 0 {
		h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
		h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	}
	if !dec.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", formatInt64(dec.ResetAt.Unix()))
	}
}

type rejection struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func writeRejection(w http.ResponseWriter, status int, msg string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Error: msg, RetryAfter: retryAfter})
}
