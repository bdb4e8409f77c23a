package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"ephemeral-gateway/logging"
)

// Upstream de validação manual: responde com o que recebeu e conta as
// requisições, para conferir cache, dedup e rate limit atrás do gateway.
func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text", os.Stderr)
	var hits atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição #%d recebida com sucesso!</p>", n)
		logger.Info("showTela", "hit", n, "request_id", r.Header.Get("X-Request-Id"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hit":       n,
			"method":    r.Method,
			"path":      r.URL.RequestURI(),
			"requestId": r.Header.Get("X-Request-Id"),
			"eventId":   r.Header.Get("X-Event-Id"),
			"at":        time.Now().Format(time.RFC3339Nano),
		})
		logger.Info("request", "hit", n, "method", r.Method, "path", r.URL.Path)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("upstream rodando", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("erro ao subir o servidor", "error", err)
		os.Exit(1)
	}
}
