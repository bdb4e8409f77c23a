// Package httpcache guarda respostas GET do upstream no cache efêmero e
// invalida por tag (o path) quando chega uma mutação no mesmo recurso.
package httpcache

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ephemeral-gateway/middleware/ratelimit"
)

// Response é o que fica guardado. Header e Body não devem ser alterados
// depois de entrar no cache.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store é o subconjunto do cache usado aqui.
type Store interface {
	Get(key string) (Response, bool)
	Set(key string, value Response, ttl time.Duration)
	InvalidateByTag(tag string) int
}

type Options struct {
	Store Store
	// TTL pedido para cada resposta; o cache aplica o próprio teto.
	TTL time.Duration
	// MaxBodyBytes limita o tamanho do corpo guardado (0 = 1 MiB).
	MaxBodyBytes int
	KeyFn        ratelimit.KeyFunc
	Logger       *slog.Logger
}

// Key monta a chave do cache: método, cliente e path com query.
// O path aparece literal para que InvalidateByTag(path) encontre a entrada.
func Key(client string, r *http.Request) string {
	return r.Method + " " + client + " " + r.URL.RequestURI()
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ratelimit.DefaultKeyFunc("", false)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if opts.Store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				serveCached(opts, next, w, r)
			case http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
				if n := opts.Store.InvalidateByTag(r.URL.Path); n > 0 {
					opts.Logger.Debug("cache invalidated", "tag", r.URL.Path, "removed", n)
				}
			}
		})
	}
}

func serveCached(opts Options, next http.Handler, w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
		w.Header().Set("X-Cache", "BYPASS")
		next.ServeHTTP(w, r)
		return
	}

	key := Key(opts.KeyFn(r), r)
	if res, ok := opts.Store.Get(key); ok {
		h := w.Header()
		// o que as camadas de fora já escreveram para esta requisição vale mais
		for k, vs := range res.Header {
			if _, set := h[k]; set {
				continue
			}
			h[k] = append([]string(nil), vs...)
		}
		h.Set("X-Cache", "HIT")
		w.WriteHeader(res.Status)
		_, _ = w.Write(res.Body)
		return
	}

	w.Header().Set("X-Cache", "MISS")
	rec := &recorder{ResponseWriter: w, header: make(http.Header), status: http.StatusOK, limit: opts.MaxBodyBytes}
	next.ServeHTTP(rec, r)
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	rec.copyTrailers()

	if cacheable(rec) {
		h := rec.header.Clone()
		for _, k := range perRequestHeaders {
			h.Del(k)
		}
		opts.Store.Set(key, Response{
			Status: rec.status,
			Header: h,
			Body:   rec.buf.Bytes(),
		}, opts.TTL)
	}
}

// perRequestHeaders nunca entram no cache: descrevem a requisição, não o recurso.
var perRequestHeaders = []string{
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
	"X-Request-Id",
	"X-Cache",
	"Date",
}

func cacheable(rec *recorder) bool {
	if rec.status != http.StatusOK || rec.overflow {
		return false
	}
	h := rec.header
	if h.Get("Set-Cookie") != "" {
		return false
	}
	cc := h.Get("Cache-Control")
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// recorder repassa a resposta ao cliente e guarda uma cópia do corpo.
// header recebe só o que o handler de dentro escreve; no WriteHeader ele é
// copiado por cima do header real.
type recorder struct {
	http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	limit       int
	overflow    bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	dst := r.ResponseWriter.Header()
	for k, vs := range r.header {
		dst[k] = vs
	}
	r.ResponseWriter.WriteHeader(code)
}

// copyTrailers repassa valores escritos depois do WriteHeader; o net/http
// só os envia quando declarados em Trailer.
func (r *recorder) copyTrailers() {
	dst := r.ResponseWriter.Header()
	for k, vs := range r.header {
		if _, ok := dst[k]; !ok {
			dst[k] = vs
		}
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if !r.overflow {
		if r.buf.Len()+len(p) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(p)
		}
	}
	return r.ResponseWriter.Write(p)
}

func (r *recorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
