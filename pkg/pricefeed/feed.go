// Package pricefeed polls public crypto and forex price APIs for the ticker.
// Prices are display-only and never feed account data.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"broker-client/pkg/logging"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Placeholder values shown when prices cannot be fetched.
const (
	PlaceholderPrice  = "0.00"
	PlaceholderChange = "0.00%"
)

// ErrUpstream is wrapped by every non-2xx or malformed provider response.
var ErrUpstream = errors.New("pricefeed: upstream error")

// Quote is one ticker entry.
type Quote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Change string `json:"change"`
}

// Coin maps a CoinGecko id to its ticker symbol.
type Coin struct {
	ID     string
	Symbol string
}

// Coins are the crypto assets shown, in ticker order.
var Coins = []Coin{
	{"bitcoin", "BTC/USD"},
	{"ethereum", "ETH/USD"},
	{"binancecoin", "BNB/USD"},
	{"ripple", "XRP/USD"},
	{"solana", "SOL/USD"},
	{"cardano", "ADA/USD"},
	{"dogecoin", "DOGE/USD"},
	{"polkadot", "DOT/USD"},
	{"polygon", "MATIC/USD"},
	{"chainlink", "LINK/USD"},
}

// Config configures the feed.
type Config struct {
	Schedule       string        `yaml:"schedule"`
	CoinGeckoURL   string        `yaml:"coingecko_url"`
	TwelveDataURL  string        `yaml:"twelvedata_url"`
	TwelveDataKey  string        `yaml:"twelvedata_api_key"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	ForexPairs     []string      `yaml:"forex_pairs"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DefaultConfig polls every 15 seconds at 2 requests per second.
func DefaultConfig() Config {
	return Config{
		Schedule:       "@every 15s",
		CoinGeckoURL:   "https://api.coingecko.com/api/v3",
		TwelveDataURL:  "https://api.twelvedata.com",
		RequestsPerSec: 2,
		ForexPairs:     []string{"EUR/USD", "GBP/USD", "JPY/USD", "AUD/USD", "CAD/USD", "CHF/USD", "NZD/USD"},
		Timeout:        10 * time.Second,
	}
}

// Feed fetches and holds the latest quotes.
type Feed struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	cron    *cron.Cron
	logger  *logging.Logger
	polls   sync.WaitGroup

	mu      sync.RWMutex
	quotes  []Quote
	updated time.Time
	lastErr error
	started bool
}

// New creates a feed. Zero config fields take their defaults.
func New(config Config) *Feed {
	defaults := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.CoinGeckoURL == "" {
		config.CoinGeckoURL = defaults.CoinGeckoURL
	}
	if config.TwelveDataURL == "" {
		config.TwelveDataURL = defaults.TwelveDataURL
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = defaults.RequestsPerSec
	}
	if config.ForexPairs == nil {
		config.ForexPairs = defaults.ForexPairs
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Feed{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSec), 1),
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logging.Global().Named("pricefeed"),
		quotes:  Placeholder(config.ForexPairs),
	}
}

// Placeholder returns every crypto and forex symbol with placeholder values.
func Placeholder(forexPairs []string) []Quote {
	out := make([]Quote, 0, len(Coins)+len(forexPairs))
	for _, c := range Coins {
		out = append(out, Quote{Symbol: c.Symbol, Price: PlaceholderPrice, Change: PlaceholderChange})
	}
	for _, pair := range forexPairs {
		out = append(out, Quote{Symbol: pair, Price: PlaceholderPrice, Change: PlaceholderChange})
	}
	return out
}

// Quotes returns the latest quotes and when they were fetched. The time is
// zero until a fetch succeeds.
func (f *Feed) Quotes() ([]Quote, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Quote(nil), f.quotes...), f.updated
}

// LastError returns the error of the most recent poll, if any.
func (f *Feed) LastError() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

// Poll fetches once and stores the result. On failure the placeholder list
// is stored and the error returned.
func (f *Feed) Poll(ctx context.Context) error {
	quotes, err := f.Fetch(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErr = err
	if err != nil {
		f.quotes = Placeholder(f.config.ForexPairs)
		return err
	}
	f.quotes = quotes
	f.updated = time.Now()
	return nil
}

// Fetch returns crypto quotes followed by every forex pair that could be
// fetched. A crypto failure fails the whole fetch; forex failures only drop
// the pair.
func (f *Feed) Fetch(ctx context.Context) ([]Quote, error) {
	crypto, err := f.fetchCrypto(ctx)
	if err != nil {
		return nil, err
	}
	return append(crypto, f.fetchForex(ctx)...), nil
}

func (f *Feed) fetchCrypto(ctx context.Context) ([]Quote, error) {
	ids := make([]string, len(Coins))
	for i, c := range Coins {
		ids[i] = c.ID
	}
	query := url.Values{
		"ids":                 {strings.Join(ids, ",")},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}
	body, err := f.get(ctx, strings.TrimRight(f.config.CoinGeckoURL, "/")+"/simple/price?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}

	result := gjson.ParseBytes(body)
	out := make([]Quote, 0, len(Coins))
	for _, c := range Coins {
		q := Quote{Symbol: c.Symbol, Price: PlaceholderPrice, Change: PlaceholderChange}
		if price := result.Get(c.ID + ".usd"); price.Exists() {
			q.Price = strconv.FormatFloat(price.Float(), 'f', 2, 64)
		}
		if change := result.Get(c.ID + ".usd_24h_change"); change.Exists() {
			q.Change = strconv.FormatFloat(change.Float(), 'f', 2, 64) + "%"
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *Feed) fetchForex(ctx context.Context) []Quote {
	if f.config.TwelveDataKey == "" || len(f.config.ForexPairs) == 0 {
		return nil
	}

	results := make([]*Quote, len(f.config.ForexPairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, pair := range f.config.ForexPairs {
		g.Go(func() error {
			q, err := f.fetchPair(gctx, pair)
			if err != nil {
				f.logger.Debug("forex pair skipped", zap.String("symbol", pair), zap.Error(err))
				return nil
			}
			results[i] = q
			return nil
		})
	}
	g.Wait()

	out := make([]Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

func (f *Feed) fetchPair(ctx context.Context, pair string) (*Quote, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	query := url.Values{
		"symbol": {pair},
		"apikey": {f.config.TwelveDataKey},
	}
	body, err := f.get(ctx, strings.TrimRight(f.config.TwelveDataURL, "/")+"/price?"+query.Encode())
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if result.Get("status").String() == "error" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, result.Get("message").String())
	}
	price, err := strconv.ParseFloat(result.Get("price").String(), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad price for %s", ErrUpstream, pair)
	}
	return &Quote{
		Symbol: pair,
		Price:  strconv.FormatFloat(price, 'f', 4, 64),
		Change: PlaceholderChange,
	}, nil
}

func (f *Feed) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrUpstream)
	}
	return body, nil
}

// Start polls immediately and then on the configured schedule until ctx is
// cancelled or Stop is called.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	poll := func() {
		if err := f.Poll(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("price poll failed, showing placeholders", zap.Error(err))
		}
	}
	if _, err := f.cron.AddFunc(f.config.Schedule, poll); err != nil {
		return fmt.Errorf("pricefeed: register schedule %q: %w", f.config.Schedule, err)
	}
	f.started = true
	if f.config.TwelveDataKey == "" {
		f.logger.Info("no TwelveData API key, forex pairs disabled")
	}
	f.polls.Add(1)
	go func() {
		defer f.polls.Done()
		poll()
	}()
	f.cron.Start()
	f.logger.Info("price feed started", zap.String("schedule", f.config.Schedule))
	return nil
}

// Stop stops polling and waits for a running poll to return.
func (f *Feed) Stop() {
	<-f.cron.Stop().Done()
	f.polls.Wait()
}
