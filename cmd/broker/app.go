package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"broker-client/pkg/api"
	"broker-client/pkg/backend"
	"broker-client/pkg/balance"
	"broker-client/pkg/client"
	"broker-client/pkg/config"
	"broker-client/pkg/logging"
	promMetrics "broker-client/pkg/metrics/prometheus"
	"broker-client/pkg/pricefeed"
	"broker-client/pkg/resilience"
	"broker-client/pkg/session"
	"broker-client/pkg/storage"
	"broker-client/pkg/storage/file"
	"broker-client/pkg/storage/memory"
	"broker-client/pkg/storage/redis"
	"broker-client/pkg/storage/sqlite"
	"broker-client/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the wired components for one process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	collector *promMetrics.PrometheusCollector

	store     storage.KV
	durable   *resilience.ResilientStore
	writer    *writer.AsyncWriter
	transport *resilience.Transport

	sessions *session.Store
	client   *client.Client
	service  *backend.Service
	cache    *balance.Cache
}

func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		collector: promMetrics.NewPrometheusCollector("broker"),
	}
	if err := a.collector.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openStore(); err != nil {
		return nil, err
	}
	a.writer = writer.NewAsyncWriterWithMetrics(a.store, cfg.Storage.Writer, a.collector)
	a.sessions = session.NewStore(a.store)

	a.transport = resilience.NewTransport("backend", nil, resilience.ResilientConfig{
		CircuitBreakerConfig: cfg.Backend.CircuitBreaker,
	}, a.collector)
	a.client = client.New(client.Config{
		BaseURL:            cfg.Backend.BaseURL,
		Timeout:            cfg.Backend.Timeout,
		ValidationInterval: cfg.Backend.ValidationInterval,
		Transport:          a.transport,
		Metrics:            a.collector,
	}, a.sessions)
	a.service = backend.NewService(a.client)

	a.cache = balance.NewWithMetrics(a.service, a.store, a.writer, balance.Config{
		Expiration:   cfg.Cache.Expiration,
		StaleWindow:  cfg.Cache.StaleWindow,
		RecentWindow: cfg.Cache.RecentWindow,
	}, a.collector)
	return a, nil
}

// openStore builds the durable key-value store, wrapped in a circuit
// breaker and optionally fronted by memory.
func (a *app) openStore() error {
	st := a.cfg.Storage
	var (
		base storage.KV
		err  error
	)
	switch st.Backend {
	case config.StorageMemory:
		a.store = memory.NewMemoryStore("memory")
		return nil
	case config.StorageFile:
		base, err = file.NewFileStore(st.FilePath)
	case config.StorageSQLite:
		if err = os.MkdirAll(filepath.Dir(st.SQLitePath), 0o700); err == nil {
			base, err = sqlite.NewSQLiteStore(st.SQLitePath)
		}
	case config.StorageRedis:
		rc := redis.DefaultRedisStoreConfig()
		rc.Addr = st.Redis.Addr
		rc.Username = st.Redis.Username
		rc.Password = st.Redis.Password
		rc.DB = st.Redis.DB
		rc.KeyPrefix = st.Redis.KeyPrefix
		base, err = redis.NewRedisStore(rc)
	default:
		err = fmt.Errorf("unknown storage backend %q", st.Backend)
	}
	if err != nil {
		return fmt.Errorf("open %s storage: %w", st.Backend, err)
	}

	a.durable = resilience.NewResilientStoreWithMetrics(base, st.Resilience, a.collector)
	if !st.MemoryFront {
		a.store = a.durable
		return nil
	}
	chain, err := storage.NewChain(memory.NewMemoryStore("memory-front"), a.durable)
	if err != nil {
		a.durable.Close()
		return err
	}
	a.store = chain
	return nil
}

func (a *app) circuits() map[string]api.CircuitReporter {
	circuits := map[string]api.CircuitReporter{"backend": a.transport}
	if a.durable != nil {
		circuits[a.durable.Name()] = a.durable
	}
	return circuits
}

func (a *app) priceFeed() *pricefeed.Feed {
	pf := a.cfg.PriceFeed
	return pricefeed.New(pricefeed.Config{
		Schedule:       pf.Schedule,
		CoinGeckoURL:   pf.CoinGeckoURL,
		TwelveDataURL:  pf.TwelveDataURL,
		TwelveDataKey:  pf.TwelveDataAPIKey,
		RequestsPerSec: pf.RequestsPerSec,
		ForexPairs:     pf.ForexPairs,
	})
}

// close flushes pending persistence and releases the store.
func (a *app) close() {
	if err := a.writer.Flush(5 * time.Second); err != nil {
		a.logger.Warn("pending writes not flushed", zap.Error(err))
	}
	a.writer.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
}

func (a *app) restore(ctx context.Context) {
	if err := a.cache.Restore(ctx); err != nil {
		a.logger.Warn("failed to restore cached snapshot", zap.Error(err))
	}
}
