package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ephemeral-gateway/ephemeral"

	"golang.org/x/sync/singleflight"
)

type Score struct {
	User   string `json:"user"`
	Points int    `json:"points"`
}

// quizApp guarda pontuações em memória. O cache segura o ranking calculado e a
// deduplicação impede que a mesma conclusão conte duas vezes.
type quizApp struct {
	layer  *ephemeral.Layer[[]Score]
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.Mutex
	scores map[string]map[string]int // quiz -> user -> pontos
}

func newQuizApp(layer *ephemeral.Layer[[]Score], logger *slog.Logger) *quizApp {
	return &quizApp{layer: layer, logger: logger, scores: make(map[string]map[string]int)}
}

func (a *quizApp) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /quiz/{id}/complete", a.complete)
	mux.HandleFunc("GET /quiz/{id}/leaderboard", a.leaderboard)
	return mux
}

func leaderboardKey(quiz string) string { return "leaderboard:" + quiz }

func (a *quizApp) complete(w http.ResponseWriter, r *http.Request) {
	quiz := r.PathValue("id")
	user := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-User-Id"})
		return
	}

	var body struct {
		Points int `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Points < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if a.layer.Dedup.IsAlreadyProcessed(quiz, user) {
		a.logger.Info("quiz completion already recorded", "quiz", quiz, "user", user)
		writeJSON(w, http.StatusOK, map[string]any{"recorded": false, "duplicate": true})
		return
	}

	a.mu.Lock()
	if a.scores[quiz] == nil {
		a.scores[quiz] = make(map[string]int)
	}
	a.scores[quiz][user] += body.Points
	a.mu.Unlock()

	a.layer.Cache.InvalidateByTag(leaderboardKey(quiz))
	writeJSON(w, http.StatusCreated, map[string]any{"recorded": true})
}

func (a *quizApp) leaderboard(w http.ResponseWriter, r *http.Request) {
	quiz := r.PathValue("id")
	key := leaderboardKey(quiz)

	if board, ok := a.layer.Cache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, board)
		return
	}

	// misses simultâneos do mesmo quiz montam o ranking uma vez só
	v, _, _ := a.group.Do(key, func() (any, error) {
		board := a.buildLeaderboard(quiz)
		a.layer.Cache.Set(key, board, 30*time.Second)
		return board, nil
	})
	board := v.([]Score)

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, board)
}

func (a *quizApp) buildLeaderboard(quiz string) []Score {
	a.mu.Lock()
	board := make([]Score, 0, len(a.scores[quiz]))
	for u, p := range a.scores[quiz] {
		board = append(board, Score{User: u, Points: p})
	}
	a.mu.Unlock()

	sort.Slice(board, func(i, j int) bool {
		if board[i].Points != board[j].Points {
			return board[i].Points > board[j].Points
		}
		return board[i].User < board[j].User
	})
	return board
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
