package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ephemeral-gateway/ephemeral"
	"ephemeral-gateway/middleware/httpcache"
	"ephemeral-gateway/middleware/ratelimit"
	"ephemeral-gateway/middleware/ratelimit/infra"
)

type decisions struct {
	Total   infra.Counters            `json:"total"`
	ByClass map[string]infra.Counters `json:"byClass"`
}

type concurrencyStats struct {
	InFlight int   `json:"inFlight"`
	Cap      int   `json:"cap"`
	Rejected int64 `json:"rejected"`
}

type statsResponse struct {
	ephemeral.Snapshot
	Decisions   decisions        `json:"decisions"`
	Redis       *decisions       `json:"redis,omitempty"`
	Concurrency concurrencyStats `json:"concurrency"`
}

// totalsReader é o lado de leitura do RedisStatsStore.
type totalsReader interface {
	Totals(ctx context.Context) (infra.Counters, map[string]infra.Counters, error)
}

type statsDeps struct {
	layer       *ephemeral.Layer[httpcache.Response]
	mem         *infra.MemoryStatsStore
	redis       totalsReader // nil sem Redis
	concurrency *ratelimit.Concurrency
	logger      *slog.Logger
}

// statsHandler expõe o retrato do estado efêmero em JSON. Só GET.
func statsHandler(d statsDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := statsResponse{
			Snapshot: d.layer.Stats(),
			Decisions: decisions{
				Total:   d.mem.Total(),
				ByClass: d.mem.ByClass(),
			},
			Concurrency: concurrencyStats{
				InFlight: d.concurrency.InFlight(),
				Cap:      d.concurrency.Cap(),
				Rejected: d.concurrency.Rejected(),
			},
		}

		if d.redis != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			total, byClass, err := d.redis.Totals(ctx)
			cancel()
			if err != nil {
				d.logger.Warn("redis stats unavailable", "error", err)
			} else {
				resp.Redis = &decisions{Total: total, ByClass: byClass}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
