package httpcache

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ephemeral-gateway/ephemeral/cache"
	"ephemeral-gateway/middleware/ratelimit"
	"ephemeral-gateway/middleware/ratelimit/domain"
	"ephemeral-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upstream(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		switch r.URL.Path {
		case "/private":
			w.Header().Set("Cache-Control", "private")
		case "/missing":
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "body:"+r.URL.RequestURI())
	})
}

func do(h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+target, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func newHandler(calls *int) (http.Handler, *cache.Cache[Response]) {
	c := cache.New[Response](cache.WithHardCeiling(time.Minute), cache.WithSweepInterval(0))
	h := Middleware(Options{Store: c, TTL: time.Minute})(upstream(calls))
	return h, c
}

func TestMiddleware_SecondGetIsHit(t *testing.T) {
	calls := 0
	h, _ := newHandler(&calls)

	w1 := do(h, http.MethodGet, "/api/quiz/1?page=2", "10.0.0.1:1")
	assert.Equal(t, "MISS", w1.Header().Get("X-Cache"))

	w2 := do(h, http.MethodGet, "/api/quiz/1?page=2", "10.0.0.1:1")
	assert.Equal(t, "HIT", w2.Header().Get("X-Cache"))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "body:/api/quiz/1?page=2", w2.Body.String())
	assert.Equal(t, "text/plain", w2.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)
}

func TestMiddleware_ClientsDoNotShareEntries(t *testing.T) {
	calls := 0
	h, _ := newHandler(&calls)

	do(h, http.MethodGet, "/api/me", "10.0.0.1:1")
	w := do(h, http.MethodGet, "/api/me", "10.0.0.2:1")
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestMiddleware_MutationInvalidatesPath(t *testing.T) {
	calls := 0
	h, c := newHandler(&calls)

	do(h, http.MethodGet, "/api/quiz/1", "10.0.0.1:1")
	do(h, http.MethodGet, "/api/quiz/1/leaderboard", "10.0.0.2:1")
	do(h, http.MethodGet, "/api/quiz/2", "10.0.0.1:1")
	require.Equal(t, 3, c.Stats().Entries)

	do(h, http.MethodPost, "/api/quiz/1", "10.0.0.9:1")

	assert.Equal(t, 1, c.Stats().Entries)
	w := do(h, http.MethodGet, "/api/quiz/2", "10.0.0.1:1")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestMiddleware_SkipsUncacheableResponses(t *testing.T) {
	calls := 0
	h, c := newHandler(&calls)

	do(h, http.MethodGet, "/private", "10.0.0.1:1")
	do(h, http.MethodGet, "/missing", "10.0.0.1:1")
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestMiddleware_NoCacheBypasses(t *testing.T) {
	calls := 0
	h, _ := newHandler(&calls)

	do(h, http.MethodGet, "/a", "10.0.0.1:1")

	r := httptest.NewRequest(http.MethodGet, "http://example/a", nil)
	r.RemoteAddr = "10.0.0.1:1"
	r.Header.Set("Cache-Control", "no-cache")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "BYPASS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestMiddleware_OversizedBodyNotStored(t *testing.T) {
	c := cache.New[Response]()
	calls := 0
	h := Middleware(Options{Store: c, MaxBodyBytes: 4})(upstream(&calls))

	w := do(h, http.MethodGet, "/large", "10.0.0.1:1")
	assert.Equal(t, "body:/large", w.Body.String(), "client still gets the full body")
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestMiddleware_NilStorePassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{})(upstream(&calls))

	w := do(h, http.MethodGet, "/a", "10.0.0.1:1")
	assert.Empty(t, w.Header().Get("X-Cache"))
	assert.Equal(t, 1, calls)
}

func TestMiddleware_HitKeepsLiveRateLimitHeaders(t *testing.T) {
	calls := 0
	c := cache.New[Response](cache.WithHardCeiling(time.Minute), cache.WithSweepInterval(0))
	limiter := infra.NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 10})

	h := ratelimit.Middleware(ratelimit.Options{
		Limiter:             limiter,
		AddRateLimitHeaders: true,
	})(Middleware(Options{Store: c, TTL: time.Minute})(upstream(&calls)))

	wantCache := []string{"MISS", "HIT", "HIT"}
	wantRemaining := []string{"9", "8", "7"}
	for i := range wantCache {
		w := do(h, http.MethodGet, "/api/quiz/1", "10.0.0.1:1")
		assert.Equal(t, wantCache[i], w.Header().Get("X-Cache"), "request %d", i+1)
		assert.Equal(t, wantRemaining[i], w.Header().Get("X-RateLimit-Remaining"), "request %d", i+1)
	}
	assert.Equal(t, 1, calls)

	res, ok := c.Get(Key("ip:10.0.0.1", httptest.NewRequest(http.MethodGet, "http://example/api/quiz/1", nil)))
	require.True(t, ok)
	assert.Empty(t, res.Header.Get("X-RateLimit-Remaining"))
	assert.Empty(t, res.Header.Get("X-Cache"))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
}

func TestMiddleware_HitKeepsCurrentRequestID(t *testing.T) {
	calls := 0
	c := cache.New[Response](cache.WithHardCeiling(time.Minute), cache.WithSweepInterval(0))
	inner := Middleware(Options{Store: c})(upstream(&calls))

	n := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		w.Header().Set("X-Request-Id", fmt.Sprintf("req-%d", n))
		inner.ServeHTTP(w, r)
	})

	do(h, http.MethodGet, "/a", "10.0.0.1:1")
	w := do(h, http.MethodGet, "/a", "10.0.0.1:1")

	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "req-2", w.Header().Get("X-Request-Id"))
}

func TestMiddleware_MissForwardsUpstreamHeaders(t *testing.T) {
	c := cache.New[Response]()
	h := Middleware(Options{Store: c})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
	}))

	w := do(h, http.MethodGet, "/empty", "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"v1"`, w.Header().Get("ETag"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}
