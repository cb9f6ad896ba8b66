// Package balance caches the account balance, trading summary and transaction
// history with stale-while-revalidate semantics.
package balance

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"broker-client/pkg/backend"
	"broker-client/pkg/client"
	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrAllSlicesFailed means balance, summary and transactions all failed to
// load. The snapshot is left untouched.
var ErrAllSlicesFailed = errors.New("balance: failed to fetch balance data")

// Slice names used in logs and metrics.
const (
	SliceBalance      = "balance"
	SliceSummary      = "summary"
	SliceTransactions = "transactions"
)

// Source is the backend surface the cache reads from.
type Source interface {
	CurrentBalance(ctx context.Context) (*backend.Balance, error)
	CurrentSummary(ctx context.Context) (*backend.AccountSummary, error)
	Transactions(ctx context.Context, query url.Values) (*backend.Transactions, error)
	CreateDeposit(ctx context.Context, req backend.DepositRequest) (*backend.Deposit, error)
	VerifyDeposit(ctx context.Context, id backend.ID) (*backend.Deposit, error)
}

// Persister receives snapshot writes. *writer.AsyncWriter satisfies it.
type Persister interface {
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Config holds cache timing.
type Config struct {
	Expiration   time.Duration `yaml:"expiration"`
	StaleWindow  time.Duration `yaml:"stale_window"`
	RecentWindow time.Duration `yaml:"recent_window"`
}

// DefaultConfig returns the 5 minute expiration, 2 minute stale window and
// 6 hour recent-transactions window.
func DefaultConfig() Config {
	p := DefaultPolicy()
	return Config{
		Expiration:   p.Expiration,
		StaleWindow:  p.StaleWindow,
		RecentWindow: 6 * time.Hour,
	}
}

// Cache holds the current Snapshot. Only Refresh replaces it wholesale.
type Cache struct {
	source  Source
	store   storage.KV
	persist Persister
	policy  Policy
	recent  time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	sf      singleflight.Group
	forced  atomic.Uint64
	settled atomic.Uint64
	view    *viewMachine
	now     func() time.Time

	mu   sync.RWMutex
	snap Snapshot
	// writes counts local changes. A fetch keeps local changes made after
	// it started.
	writes     uint64
	balanceGen uint64
	pending    []pendingRecord
}

// pendingRecord is a locally created transaction the backend has not been
// asked about yet.
type pendingRecord struct {
	gen    uint64
	record TransactionRecord
}

// New creates a cache reading from source. store is used to restore the last
// snapshot and, when persist is nil, to write it back synchronously. A nil
// store disables persistence.
func New(source Source, store storage.KV, persist Persister, config Config) *Cache {
	return NewWithMetrics(source, store, persist, config, nil)
}

// NewWithMetrics creates a cache that reports refresh outcomes to collector.
func NewWithMetrics(source Source, store storage.KV, persist Persister, config Config, collector metrics.MetricsCollector) *Cache {
	defaults := DefaultConfig()
	if config.Expiration <= 0 {
		config.Expiration = defaults.Expiration
	}
	if config.StaleWindow <= 0 {
		config.StaleWindow = defaults.StaleWindow
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = defaults.RecentWindow
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if persist == nil && store != nil {
		persist = kvPersister{store}
	}

	policy := WindowPolicy{
		Expiration:  config.Expiration,
		StaleWindow: config.StaleWindow,
	}

	return &Cache{
		source:  source,
		store:   store,
		persist: persist,
		policy:  policy,
		recent:  config.RecentWindow,
		metrics: collector,
		logger:  logging.Global().Named("balance"),
		view:    newViewMachine(),
		now:     time.Now,
	}
}

// SetPolicy replaces the freshness policy.
func (c *Cache) SetPolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// Snapshot returns a copy of the cached state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// View returns the current render state.
func (c *Cache) View() View {
	return c.view.current()
}

// Subscribe registers fn for view changes and returns a function that
// removes it. fn runs on the goroutine that changed the view.
func (c *Cache) Subscribe(fn func(View)) func() {
	return c.view.subscribe(fn)
}

// Freshness classifies the current snapshot.
func (c *Cache) Freshness() Freshness {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy.Classify(c.snap.Age(c.now()))
}

func (c *Cache) classify(age time.Duration) Freshness {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy.Classify(age)
}

// Refresh fetches balance, summary and transactions unless force is false and
// the snapshot is inside the expiration window. Concurrent callers share one
// fetch. A forced call never settles for a fetch that started before it; it
// waits for the next one instead.
func (c *Cache) Refresh(ctx context.Context, force bool) error {
	if !force && c.Freshness() != Expired {
		c.metrics.RecordCacheRefresh(metrics.RefreshHit, 0)
		return nil
	}

	var want uint64
	if force {
		want = c.forced.Add(1)
	}
	for {
		if want > 0 && c.settled.Load() >= want {
			return nil
		}
		ch := c.sf.DoChan("refresh", func() (interface{}, error) {
			return c.refresh(context.WithoutCancel(ctx))
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
			if res.Val.(uint64) >= want {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type sliceResult struct {
	name string
	err  error
}

// refresh runs one fetch and returns the forced-call count it covers.
func (c *Cache) refresh(ctx context.Context) (uint64, error) {
	covered := c.forced.Load()
	start := c.now()

	c.mu.RLock()
	prev := c.snap.clone()
	startGen := c.writes
	c.mu.RUnlock()
	c.view.apply(event{
		kind:  eventRefreshStarted,
		stale: c.classify(prev.Age(start)) == Recent,
	})

	var (
		wg      sync.WaitGroup
		bal     *backend.Balance
		summary *backend.AccountSummary
		tx      *backend.Transactions
		results = [3]sliceResult{{name: SliceBalance}, {name: SliceSummary}, {name: SliceTransactions}}
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		bal, results[0].err = c.source.CurrentBalance(ctx)
	}()
	go func() {
		defer wg.Done()
		summary, results[1].err = c.source.CurrentSummary(ctx)
	}()
	go func() {
		defer wg.Done()
		tx, results[2].err = c.source.Transactions(ctx, nil)
	}()
	wg.Wait()

	var (
		failed   int
		errs     []error
		redirect error
	)
	for _, r := range results {
		if r.err == nil {
			continue
		}
		failed++
		errs = append(errs, r.err)
		if client.RedirectToLogin(r.err) && redirect == nil {
			redirect = r.err
		}
		c.metrics.RecordSliceFailure(r.name)
		c.logger.Warn("slice fetch failed, keeping previous value",
			zap.String("slice", r.name),
			zap.Error(r.err),
		)
	}

	duration := c.now().Sub(start)
	if redirect != nil {
		c.metrics.RecordCacheRefresh(metrics.RefreshFailed, duration)
		c.view.apply(event{kind: eventSessionExpired, err: redirect})
		return covered, redirect
	}
	if failed == len(results) {
		err := fmt.Errorf("%w: %w", ErrAllSlicesFailed, errors.Join(errs...))
		c.metrics.RecordCacheRefresh(metrics.RefreshFailed, duration)
		c.view.apply(event{kind: eventRefreshFailed, err: ErrAllSlicesFailed})
		c.logger.Error("balance refresh failed", zap.Error(err))
		return covered, err
	}

	committed := c.commit(func(next *Snapshot) {
		if results[0].err == nil && c.balanceGen <= startGen {
			next.Balance = balanceRecord(bal)
			next.Balances = nil
			if next.Balance != nil {
				next.Balances = []BalanceRecord{*next.Balance}
			}
		}
		if results[1].err == nil {
			next.Summary = summaryRecord(summary)
		} else if next.Summary == nil {
			next.Summary = &SummaryRecord{}
		}
		if results[2].err == nil {
			next.Transactions = c.withPending(startGen, mergeTransactions(tx))
		} else if next.Transactions == nil {
			next.Transactions = []TransactionRecord{}
		}
	})
	c.settled.Store(covered)
	c.save(ctx, committed)

	outcome := metrics.RefreshFull
	if failed > 0 {
		outcome = metrics.RefreshPartial
	}
	c.metrics.RecordCacheRefresh(outcome, duration)
	c.view.apply(event{kind: eventRefreshSucceeded, updated: committed.Timestamp})
	c.logger.Debug("balance refreshed",
		zap.String("outcome", string(outcome)),
		zap.Int("transactions", len(committed.Transactions)),
		zap.Duration("duration", duration),
	)
	return covered, nil
}

// commit applies fetched data to the current snapshot under the lock, so
// local changes made while the fetch ran survive. Timestamps never move
// backwards.
func (c *Cache) commit(apply func(next *Snapshot)) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snap.clone()
	apply(&next)
	ts := c.now()
	if ts.Before(c.snap.Timestamp) {
		ts = c.snap.Timestamp
	}
	next.Timestamp = ts
	c.snap = next
	return c.snap.clone()
}

// withPending adds the pending records created after startGen that fetched
// does not list yet. Older pending records are dropped: the fetch saw them.
// Callers hold c.mu.
func (c *Cache) withPending(startGen uint64, fetched []TransactionRecord) []TransactionRecord {
	listed := make(map[string]bool, len(fetched))
	for _, tx := range fetched {
		listed[tx.ID] = true
	}
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.gen <= startGen || listed[p.record.ID] {
			continue
		}
		kept = append(kept, p)
		fetched = append(fetched, p.record)
	}
	c.pending = kept
	sortNewestFirst(fetched)
	return fetched
}

// Recent returns transactions newer than d. A non-positive d uses the
// configured recent window.
func (c *Cache) Recent(d time.Duration) []TransactionRecord {
	if d <= 0 {
		d = c.recent
	}
	cutoff := c.now().Add(-d)

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TransactionRecord, 0)
	for _, tx := range c.snap.Transactions {
		if !tx.Timestamp.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}

// UpdateBalance replaces the balances without touching the timestamp. A
// fetch already in flight does not overwrite them.
func (c *Cache) UpdateBalance(balances []BalanceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.balanceGen = c.writes
	c.snap.Balances = make([]BalanceRecord, len(balances))
	for i, b := range balances {
		b.Currency = orDefault(b.Currency, defaultCurrency)
		c.snap.Balances[i] = b
	}
	if len(c.snap.Balances) > 0 {
		first := c.snap.Balances[0]
		c.snap.Balance = &first
	}
}

// CreateDeposit creates a deposit, shows it as processing and forces a
// refresh. A failed refresh is logged; the deposit is still returned.
func (c *Cache) CreateDeposit(ctx context.Context, req backend.DepositRequest) (*backend.Deposit, error) {
	d, err := c.source.CreateDeposit(ctx, req)
	if err != nil {
		return nil, err
	}

	record := TransactionRecord{
		ID:         d.ID.String(),
		Type:       TypeDeposit,
		Amount:     req.Amount,
		Status:     orDefault(d.Status, "processing"),
		Timestamp:  c.now(),
		Method:     orDefault(req.Method, defaultMethod),
		CryptoType: req.CryptoType,
	}
	c.mu.Lock()
	c.writes++
	c.pending = append(c.pending, pendingRecord{gen: c.writes, record: record})
	c.snap.Transactions = append([]TransactionRecord{record}, c.snap.Transactions...)
	c.mu.Unlock()

	c.refreshAfterWrite(ctx, "deposit created")
	return d, nil
}

// VerifyDeposit verifies a deposit and forces a refresh.
func (c *Cache) VerifyDeposit(ctx context.Context, id backend.ID) (*backend.Deposit, error) {
	d, err := c.source.VerifyDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	c.refreshAfterWrite(ctx, "deposit verified")
	return d, nil
}

func (c *Cache) refreshAfterWrite(ctx context.Context, what string) {
	if err := c.Refresh(ctx, true); err != nil {
		c.logger.Warn("refresh failed", zap.String("after", what), zap.Error(err))
	}
}

// Reset drops the snapshot and its persisted copies, e.g. after logout.
func (c *Cache) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.snap = Snapshot{}
	c.writes++
	c.pending = nil
	c.mu.Unlock()
	c.view.apply(event{kind: eventRefreshSucceeded})

	if c.persist == nil {
		return nil
	}
	return errors.Join(
		c.persist.Delete(ctx, storage.KeyBalanceDataCache),
		c.persist.Delete(ctx, storage.KeyTransactions),
	)
}

type kvPersister struct {
	kv storage.KV
}

func (p kvPersister) Write(ctx context.Context, key string, value []byte) error {
	return p.kv.Set(ctx, key, value)
}

func (p kvPersister) Delete(ctx context.Context, key string) error {
	if err := p.kv.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}
