package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ephemeral-gateway/config"
	"ephemeral-gateway/ephemeral"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Server.UpstreamURL = "embedded"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layer, err := ephemeral.New[[]Score](cfg, logger)
	require.NoError(t, err)
	return newQuizApp(layer, logger).routes()
}

func complete(h http.Handler, quiz, user, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/quiz/"+quiz+"/complete", strings.NewReader(body))
	if user != "" {
		r.Header.Set("X-User-Id", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func leaderboard(t *testing.T, h http.Handler, quiz string) ([]Score, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/quiz/"+quiz+"/leaderboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var board []Score
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	return board, w.Header().Get("X-Cache")
}

func TestQuiz_CompletionCountsOnce(t *testing.T) {
	h := newTestApp(t)

	assert.Equal(t, http.StatusCreated, complete(h, "q1", "ana", `{"points":10}`).Code)
	dup := complete(h, "q1", "ana", `{"points":10}`)
	assert.Equal(t, http.StatusOK, dup.Code)
	assert.Contains(t, dup.Body.String(), `"duplicate":true`)

	board, _ := leaderboard(t, h, "q1")
	require.Len(t, board, 1)
	assert.Equal(t, Score{User: "ana", Points: 10}, board[0])
}

func TestQuiz_LeaderboardCachedUntilNextCompletion(t *testing.T) {
	h := newTestApp(t)

	complete(h, "q1", "ana", `{"points":5}`)
	_, src := leaderboard(t, h, "q1")
	assert.Equal(t, "MISS", src)
	_, src = leaderboard(t, h, "q1")
	assert.Equal(t, "HIT", src)

	complete(h, "q1", "bia", `{"points":8}`)
	board, src := leaderboard(t, h, "q1")
	assert.Equal(t, "MISS", src)
	require.Len(t, board, 2)
	assert.Equal(t, "bia", board[0].User)
}

func TestQuiz_RejectsBadInput(t *testing.T) {
	h := newTestApp(t)

	assert.Equal(t, http.StatusUnauthorized, complete(h, "q1", "", `{"points":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, complete(h, "q1", "ana", `nope`).Code)
	assert.Equal(t, http.StatusBadRequest, complete(h, "q1", "ana", `{"points":-1}`).Code)
}
