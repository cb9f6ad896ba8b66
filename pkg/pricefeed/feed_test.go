package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const coinGeckoBody = `{
	"bitcoin": {"usd": 64000.123, "usd_24h_change": 1.234},
	"ethereum": {"usd": 3100.5, "usd_24h_change": -0.5},
	"solana": {"usd": 150}
}`

type providers struct {
	server      *httptest.Server
	cryptoCalls atomic.Int32
	forexCalls  atomic.Int32
}

// newProviders serves both price APIs. cryptoStatus 0 means 200.
func newProviders(t *testing.T, cryptoStatus int) *providers {
	t.Helper()
	p := &providers{}
	mux := http.NewServeMux()
	mux.HandleFunc("/cg/simple/price", func(w http.ResponseWriter, r *http.Request) {
		p.cryptoCalls.Add(1)
		if !strings.Contains(r.URL.Query().Get("ids"), "chainlink") || r.URL.Query().Get("include_24hr_change") != "true" {
			t.Errorf("Unexpected CoinGecko query %q", r.URL.RawQuery)
		}
		if cryptoStatus != 0 {
			w.WriteHeader(cryptoStatus)
			return
		}
		w.Write([]byte(coinGeckoBody))
	})
	mux.HandleFunc("/td/price", func(w http.ResponseWriter, r *http.Request) {
		p.forexCalls.Add(1)
		if r.URL.Query().Get("apikey") != "key" {
			t.Errorf("Missing API key in %q", r.URL.RawQuery)
		}
		switch r.URL.Query().Get("symbol") {
		case "EUR/USD":
			w.Write([]byte(`{"price":"1.08512345"}`))
		case "GBP/USD":
			w.Write([]byte(`{"status":"error","message":"rate limit"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *providers) config() Config {
	return Config{
		CoinGeckoURL:   p.server.URL + "/cg",
		TwelveDataURL:  p.server.URL + "/td",
		TwelveDataKey:  "key",
		RequestsPerSec: 1000,
		ForexPairs:     []string{"EUR/USD", "GBP/USD", "JPY/USD"},
		Timeout:        2 * time.Second,
	}
}

func TestFetch(t *testing.T) {
	p := newProviders(t, 0)
	feed := New(p.config())

	quotes, err := feed.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(quotes) != len(Coins)+1 {
		t.Fatalf("Expected %d quotes, got %d: %v", len(Coins)+1, len(quotes), quotes)
	}

	tests := []struct {
		index int
		want  Quote
	}{
		{0, Quote{"BTC/USD", "64000.12", "1.23%"}},
		{1, Quote{"ETH/USD", "3100.50", "-0.50%"}},
		{2, Quote{"BNB/USD", "0.00", "0.00%"}},
		{4, Quote{"SOL/USD", "150.00", "0.00%"}},
		{len(Coins), Quote{"EUR/USD", "1.0851", "0.00%"}},
	}
	for _, tt := range tests {
		if quotes[tt.index] != tt.want {
			t.Errorf("Quote %d: expected %+v, got %+v", tt.index, tt.want, quotes[tt.index])
		}
	}
	if got := p.forexCalls.Load(); got != 3 {
		t.Errorf("Expected 3 forex requests, got %d", got)
	}
}

func TestFetch_NoAPIKeySkipsForex(t *testing.T) {
	p := newProviders(t, 0)
	cfg := p.config()
	cfg.TwelveDataKey = ""

	quotes, err := New(cfg).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != len(Coins) || p.forexCalls.Load() != 0 {
		t.Errorf("Expected crypto only, got %d quotes and %d forex calls", len(quotes), p.forexCalls.Load())
	}
}

func TestPoll_FailureStoresPlaceholders(t *testing.T) {
	p := newProviders(t, http.StatusTooManyRequests)
	feed := New(p.config())

	err := feed.Poll(context.Background())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Expected ErrUpstream, got %v", err)
	}
	quotes, updated := feed.Quotes()
	if !updated.IsZero() {
		t.Error("Failed poll must not set the update time")
	}
	if len(quotes) != len(Coins)+3 {
		t.Fatalf("Expected placeholder for every symbol, got %d", len(quotes))
	}
	for _, q := range quotes {
		if q.Price != PlaceholderPrice || q.Change != PlaceholderChange {
			t.Errorf("Expected placeholder, got %+v", q)
		}
	}
	if feed.LastError() == nil {
		t.Error("Expected LastError to be recorded")
	}
}

func TestPoll_Success(t *testing.T) {
	p := newProviders(t, 0)
	feed := New(p.config())

	if err := feed.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	quotes, updated := feed.Quotes()
	if updated.IsZero() || quotes[0].Price != "64000.12" {
		t.Errorf("Unexpected quotes %v at %v", quotes[:1], updated)
	}
	if feed.LastError() != nil {
		t.Errorf("Unexpected error %v", feed.LastError())
	}
}

func TestNew_InitialPlaceholders(t *testing.T) {
	feed := New(Config{})
	quotes, _ := feed.Quotes()
	if len(quotes) != len(Coins)+len(DefaultConfig().ForexPairs) {
		t.Errorf("Unexpected placeholder count %d", len(quotes))
	}
}

func TestStart_PollsImmediately(t *testing.T) {
	p := newProviders(t, 0)
	cfg := p.config()
	cfg.Schedule = "@every 1h"
	feed := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer feed.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for p.cryptoCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.cryptoCalls.Load() == 0 {
		t.Error("Expected an immediate poll on start")
	}
}

func TestStop_WaitsForInitialPoll(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/cg/simple/price", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(coinGeckoBody))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	feed := New(Config{
		Schedule:     "@every 1h",
		CoinGeckoURL: server.URL + "/cg",
		Timeout:      2 * time.Second,
	})
	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered
	feed.Stop()

	if _, updated := feed.Quotes(); updated.IsZero() {
		t.Error("Expected Stop to return only after the initial poll stored its quotes")
	}
}

func TestStart_InvalidSchedule(t *testing.T) {
	feed := New(Config{Schedule: "sometimes"})
	if err := feed.Start(context.Background()); err == nil {
		t.Error("Expected schedule error")
	}
}
