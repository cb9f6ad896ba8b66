package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"broker-client/pkg/balance"
	"broker-client/pkg/client"
	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/metrics/memory"
	"broker-client/pkg/pricefeed"
	"broker-client/pkg/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CircuitReporter exposes a circuit breaker state.
type CircuitReporter interface {
	State() metrics.CircuitState
}

// Deps are the components the server reports on. Nil members are omitted
// from responses.
type Deps struct {
	Sessions *session.Store
	Cache    *balance.Cache
	Prices   *pricefeed.Feed
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
	Circuits map[string]CircuitReporter
}

// Server provides local HTTP endpoints for session, cache and price inspection.
type Server struct {
	deps    Deps
	config  ServerConfig
	router  *mux.Router
	server  *http.Server
	logger  *logging.Logger
	started time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:8088")
	Address string `yaml:"listen"`

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnablePprof enables Go profiling endpoints at /debug/pprof/*
	EnablePprof bool `yaml:"enable_pprof"`
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8088",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a new API server.
func NewServer(deps Deps, config ServerConfig) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	s := &Server{
		deps:    deps,
		config:  config,
		logger:  logging.Global().Named("api"),
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)

	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/snapshot/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/transactions/recent", s.handleRecent).Methods(http.MethodGet)
	r.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)

	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	if config.EnablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("api listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns an overview of every component.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	}

	if s.deps.Sessions != nil {
		response["session"] = s.sessionInfo(r.Context())
	}
	if s.deps.Cache != nil {
		snap := s.deps.Cache.Snapshot()
		response["cache"] = map[string]interface{}{
			"freshness":    s.deps.Cache.Freshness().String(),
			"view":         s.deps.Cache.View(),
			"last_updated": snap.Timestamp,
			"transactions": len(snap.Transactions),
		}
	}
	if s.deps.Prices != nil {
		_, updated := s.deps.Prices.Quotes()
		prices := map[string]interface{}{"updated": updated}
		if err := s.deps.Prices.LastError(); err != nil {
			prices["error"] = err.Error()
		}
		response["prices"] = prices
	}
	if len(s.deps.Circuits) > 0 {
		circuits := make(map[string]string, len(s.deps.Circuits))
		for name, c := range s.deps.Circuits {
			circuits[name] = c.State().String()
		}
		response["circuits"] = circuits
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSession reports whether a session is stored. Tokens are never
// returned.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusNotFound, "session store not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionInfo(r.Context()))
}

func (s *Server) sessionInfo(ctx context.Context) map[string]interface{} {
	sess, err := s.deps.Sessions.Load(ctx)
	if err != nil {
		return map[string]interface{}{"authenticated": false, "error": err.Error()}
	}
	if !sess.Authenticated() {
		return map[string]interface{}{"authenticated": false}
	}

	info := map[string]interface{}{
		"authenticated":     true,
		"username":          sess.Username,
		"has_refresh_token": sess.RefreshToken != "",
	}
	if exp, err := session.AccessExpiry(sess.AccessToken); err == nil {
		info["access_expires_at"] = exp
		info["access_expired"] = time.Now().After(exp)
	}
	return info
}

// handleSnapshot returns the cached account snapshot and view state.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "balance cache not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": s.deps.Cache.Snapshot(),
		"view":     s.deps.Cache.View(),
	})
}

// handleRefresh refreshes the cache. ?force=true bypasses the expiration
// window.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "balance cache not configured")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := s.deps.Cache.Refresh(r.Context(), force); err != nil {
		status := http.StatusBadGateway
		if client.RedirectToLogin(err) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]interface{}{
			"error":             err.Error(),
			"redirect_to_login": client.RedirectToLogin(err),
		})
		return
	}
	s.handleSnapshot(w, r)
}

// handleRecent lists transactions inside ?window (a Go duration, default
// the cache's recent window).
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "balance cache not configured")
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": s.deps.Cache.Recent(window),
	})
}

// handlePrices returns the latest ticker quotes.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prices == nil {
		writeError(w, http.StatusNotFound, "price feed not configured")
		return
	}
	quotes, updated := s.deps.Prices.Quotes()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quotes":  quotes,
		"updated": updated,
	})
}

// metricsHandler serves the Prometheus text format.
func (s *Server) metricsHandler() http.Handler {
	if s.deps.Gatherer != nil {
		return promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# Metrics collector does not support Prometheus format\n"))
	})
}

// handleMetricsJSON returns metrics in JSON format.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if mc, ok := s.deps.Metrics.(interface{ Snapshot() memory.Snapshot }); ok {
		writeJSON(w, http.StatusOK, mc.Snapshot())
		return
	}
	writeError(w, http.StatusOK, "Metrics collector does not support JSON snapshot")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
