package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"broker-client/pkg/backend"
	"broker-client/pkg/balance"
	"broker-client/pkg/client"
	"broker-client/pkg/metrics"
	memorycollector "broker-client/pkg/metrics/memory"
	promcollector "broker-client/pkg/metrics/prometheus"
	"broker-client/pkg/pricefeed"
	"broker-client/pkg/session"
	"broker-client/pkg/storage/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// stubSource serves a fixed account. err, when set, fails every slice.
type stubSource struct {
	err error
}

func (s *stubSource) CurrentBalance(ctx context.Context) (*backend.Balance, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &backend.Balance{Amount: 250, Currency: "USD"}, nil
}

func (s *stubSource) CurrentSummary(ctx context.Context) (*backend.AccountSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &backend.AccountSummary{ProfitLoss: 3}, nil
}

func (s *stubSource) Transactions(ctx context.Context, query url.Values) (*backend.Transactions, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &backend.Transactions{
		Deposits: []backend.Deposit{{ID: "1", Amount: 250, CreatedAt: time.Now().Add(-time.Hour).Format(time.RFC3339)}},
	}, nil
}

func (s *stubSource) CreateDeposit(ctx context.Context, req backend.DepositRequest) (*backend.Deposit, error) {
	return nil, errors.New("not supported")
}

func (s *stubSource) VerifyDeposit(ctx context.Context, id backend.ID) (*backend.Deposit, error) {
	return nil, errors.New("not supported")
}

type fixedCircuit metrics.CircuitState

func (c fixedCircuit) State() metrics.CircuitState {
	return metrics.CircuitState(c)
}

type testEnv struct {
	server    *Server
	sessions  *session.Store
	cache     *balance.Cache
	source    *stubSource
	collector *memorycollector.MemoryCollector
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	sessions := session.NewStore(memory.NewMemoryStore(""))
	source := &stubSource{}
	collector := memorycollector.NewMemoryCollector()
	cache := balance.NewWithMetrics(source, nil, nil, balance.DefaultConfig(), collector)

	server := NewServer(Deps{
		Sessions: sessions,
		Cache:    cache,
		Prices:   pricefeed.New(pricefeed.Config{}),
		Metrics:  collector,
		Circuits: map[string]CircuitReporter{"backend": fixedCircuit(metrics.CircuitOpen)},
	}, DefaultServerConfig())

	return &testEnv{server: server, sessions: sessions, cache: cache, source: source, collector: collector}
}

func (e *testEnv) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	return w, body
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)
	w, body := env.do(t, http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", body["status"])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)
	w, _ := env.do(t, http.MethodPost, "/health")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestServer_Status(t *testing.T) {
	env := setupTestServer(t)
	w, body := env.do(t, http.MethodGet, "/status")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if body["status"] != "running" {
		t.Errorf("Expected status running, got %v", body["status"])
	}
	circuits, _ := body["circuits"].(map[string]interface{})
	if circuits["backend"] != "open" {
		t.Errorf("Expected backend circuit open, got %v", body["circuits"])
	}
	cache, _ := body["cache"].(map[string]interface{})
	if cache["freshness"] != "expired" {
		t.Errorf("Expected empty cache to be expired, got %v", cache["freshness"])
	}
}

func TestServer_Session(t *testing.T) {
	env := setupTestServer(t)

	_, body := env.do(t, http.MethodGet, "/session")
	if body["authenticated"] != false {
		t.Errorf("Expected unauthenticated, got %v", body)
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test"))
	if err != nil {
		t.Fatal(err)
	}
	env.sessions.Save(context.Background(), session.Session{AccessToken: token, RefreshToken: "r0", Username: "alice"})

	w, body := env.do(t, http.MethodGet, "/session")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body["authenticated"] != true || body["username"] != "alice" || body["access_expired"] != false {
		t.Errorf("Unexpected session info %v", body)
	}
	for _, secret := range []string{"access_token", "refresh_token"} {
		if _, ok := body[secret]; ok {
			t.Errorf("%s must never be exposed", secret)
		}
	}
}

func TestServer_RefreshAndSnapshot(t *testing.T) {
	env := setupTestServer(t)

	w, body := env.do(t, http.MethodPost, "/snapshot/refresh?force=true")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", w.Code, body)
	}
	snap, _ := body["snapshot"].(map[string]interface{})
	bal, _ := snap["balance"].(map[string]interface{})
	if bal["amount"] != 250.0 || bal["currency"] != "USD" {
		t.Errorf("Unexpected balance %v", snap["balance"])
	}
	view, _ := body["view"].(map[string]interface{})
	if view["state"] != "idle" {
		t.Errorf("Expected idle view, got %v", view["state"])
	}

	_, body = env.do(t, http.MethodGet, "/transactions/recent?window=2h")
	if txs, _ := body["transactions"].([]interface{}); len(txs) != 1 {
		t.Errorf("Expected 1 recent transaction, got %v", body["transactions"])
	}
}

func TestServer_RefreshErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		redirect bool
	}{
		{"network", errors.New("offline"), http.StatusBadGateway, false},
		{"session expired", &client.APIError{Status: 401, Message: client.MsgSessionExpired, Kind: client.ErrSessionExpired}, http.StatusUnauthorized, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			env.source.err = tt.err

			w, body := env.do(t, http.MethodPost, "/snapshot/refresh")
			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
			if body["redirect_to_login"] != tt.redirect {
				t.Errorf("Expected redirect=%v, got %v", tt.redirect, body["redirect_to_login"])
			}
		})
	}
}

func TestServer_RecentBadWindow(t *testing.T) {
	env := setupTestServer(t)
	w, _ := env.do(t, http.MethodGet, "/transactions/recent?window=soon")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestServer_Prices(t *testing.T) {
	env := setupTestServer(t)
	_, body := env.do(t, http.MethodGet, "/prices")

	quotes, _ := body["quotes"].([]interface{})
	if len(quotes) != len(pricefeed.Coins)+len(pricefeed.DefaultConfig().ForexPairs) {
		t.Errorf("Expected placeholder quotes, got %d", len(quotes))
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	env := setupTestServer(t)
	env.collector.RecordSliceFailure("balance")

	w, body := env.do(t, http.MethodGet, "/metrics/json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	failures, _ := body["slice_failures"].(map[string]interface{})
	if failures["balance"] != 1.0 {
		t.Errorf("Unexpected metrics %v", body)
	}
}

func TestServer_PrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := promcollector.NewPrometheusCollector("broker")
	if err := collector.Register(registry); err != nil {
		t.Fatal(err)
	}
	collector.RecordSliceFailure("summary")

	server := NewServer(Deps{Metrics: collector, Gatherer: registry}, DefaultServerConfig())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `broker_balance_cache_slice_failures_total{slice="summary"} 1`) {
		t.Errorf("Expected slice failure series, got:\n%s", w.Body.String())
	}
}

func TestServer_NotConfigured(t *testing.T) {
	server := NewServer(Deps{}, DefaultServerConfig())
	for _, path := range []string{"/session", "/snapshot", "/prices", "/transactions/recent"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}
