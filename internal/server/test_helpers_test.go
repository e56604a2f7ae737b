package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cashflow-tracker/backend/internal/database"
	"github.com/cashflow-tracker/backend/internal/leaderboard"
	"github.com/cashflow-tracker/backend/internal/ledger"
	"github.com/cashflow-tracker/backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	aliceSheet = `{"income":{"salary":{"value":3000}},"expenses":{"taxes":{"value":500}},"assets":{"savings":1000}}`
	bobSheet   = `{"income":{"salary":{"value":2000}},"expenses":{"taxes":{"value":400}},"assets":{"savings":500}}`
)

type testServerOptions struct {
	rateLimiter *IPRateLimiter
	origins     []string
	heartbeat   time.Duration
}

type testServer struct {
	handler  http.Handler
	realtime *RealtimeDispatcher
	recorder *metrics.Recorder
	ledger   *ledger.Service
}

func newTestServer(t *testing.T, options testServerOptions) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	recorder, err := metrics.NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to build metrics recorder: %v", err)
	}
	service, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		IDProvider: ledger.NewUUIDProvider(),
		Logger:     zap.NewNop(),
		Observer:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to build ledger service: %v", err)
	}
	ranker, err := leaderboard.NewRanker(leaderboard.Config{Database: db, Observer: recorder})
	if err != nil {
		t.Fatalf("failed to build ranker: %v", err)
	}

	origins := options.origins
	if origins == nil {
		origins = []string{"http://localhost:8080"}
	}
	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Ledger:          service,
		Leaderboard:     ranker,
		Realtime:        dispatcher,
		Metrics:         recorder,
		RateLimiter:     options.rateLimiter,
		AllowedOrigins:  origins,
		StreamHeartbeat: options.heartbeat,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testServer{handler: handler, realtime: dispatcher, recorder: recorder, ledger: service}
}

func (s testServer) perform(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func requireStatus(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, recorder.Code, recorder.Body.String())
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s testServer) createAliceAndBob(t *testing.T) gamePayload {
	t.Helper()
	body := `{"title":"Friday night","players":[` +
		`{"name":"Alice","color":"blue","sheetState":` + aliceSheet + `},` +
		`{"name":"Bob","color":"red","sheetState":` + bobSheet + `}]}`
	response := s.perform(t, http.MethodPost, "/api/games", body)
	requireStatus(t, response, http.StatusCreated)
	return decodeBody[gamePayload](t, response)
}
