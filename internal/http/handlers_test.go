package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
	"tanda/internal/events"
	"tanda/internal/rails"
	"tanda/internal/services"
	"tanda/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	rules := services.DefaultRules()
	rules.RetryBackoffBase = 0
	publisher := events.Nop{}
	rail := rails.NewLoopbackRail()
	backstop := rails.NewMemoryBackstop(core.Money{Cents: 100_000_00})

	circleLocks := services.NewKeyedLocks()
	trust := services.NewTrustService(store, clock)
	contributions := services.NewContributionService(store, clock, trust, publisher, rules, circleLocks)
	advances := services.NewAdvanceService(store, clock, trust, rail, rails.LoopbackGateway{}, publisher, rules)
	circles := services.NewCircleService(store, clock, trust, contributions, advances, rail, publisher, circleLocks)
	defaults := services.NewDefaultService(store, clock, trust, backstop, publisher, circleLocks)

	return NewServer(":0", circles, contributions, advances, defaults, trust)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateJoinActivateFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/circles",
		`{"name":"familia","contribution":"100.00","frequency":"monthly","target_members":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var circle struct {
		ID           string `json:"id"`
		Contribution string `json:"contribution"`
		Status       string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &circle))
	assert.Equal(t, "forming", circle.Status)
	assert.Equal(t, "100.00", circle.Contribution)

	rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/join", `{"user_id":"u1","name":"ana"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/join", `{"user_id":"u2","name":"bo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/circles/"+circle.ID+"/payout-order", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var order struct {
		PayoutOrder []string `json:"payout_order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Len(t, order.PayoutOrder, 2)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown circle: 404.
	rec := doJSON(t, srv, http.MethodGet, "/circles/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed body: 400.
	rec = doJSON(t, srv, http.MethodPost, "/circles", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad amount: 422.
	rec = doJSON(t, srv, http.MethodPost, "/circles",
		`{"name":"c","contribution":"abc","frequency":"monthly","target_members":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Invalid member count: 422.
	rec = doJSON(t, srv, http.MethodPost, "/circles",
		`{"name":"c","contribution":"100.00","frequency":"monthly","target_members":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Joining a full circle: 409.
	rec = doJSON(t, srv, http.MethodPost, "/circles",
		`{"name":"c","contribution":"100.00","frequency":"monthly","target_members":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var circle struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &circle))
	for _, user := range []string{`{"user_id":"u1","name":"a"}`, `{"user_id":"u2","name":"b"}`} {
		rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/join", user)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/join", `{"user_id":"u3","name":"c"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScoreEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/members/ghost/score", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/circles",
		`{"name":"c","contribution":"50.00","frequency":"weekly","target_members":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var circle struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &circle))
	rec = doJSON(t, srv, http.MethodPost, "/circles/"+circle.ID+"/join", `{"user_id":"u1","name":"ana"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/members/u1/score", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var score struct {
		Score int `json:"score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &score))
	assert.Equal(t, core.InitialScore, score.Score)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
