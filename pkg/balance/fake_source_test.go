package balance

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"broker-client/pkg/backend"
)

// fakeSource is a Source with per-method hooks and call counters.
type fakeSource struct {
	BalanceFunc      func(ctx context.Context) (*backend.Balance, error)
	SummaryFunc      func(ctx context.Context) (*backend.AccountSummary, error)
	TransactionsFunc func(ctx context.Context) (*backend.Transactions, error)
	CreateFunc       func(ctx context.Context, req backend.DepositRequest) (*backend.Deposit, error)
	VerifyFunc       func(ctx context.Context, id backend.ID) (*backend.Deposit, error)

	balanceCalls      atomic.Int32
	summaryCalls      atomic.Int32
	transactionsCalls atomic.Int32
}

// newFakeSource answers with a 100 USD balance, a summary and one deposit.
func newFakeSource() *fakeSource {
	return &fakeSource{
		BalanceFunc: func(ctx context.Context) (*backend.Balance, error) {
			return &backend.Balance{Amount: 100, Currency: "USD"}, nil
		},
		SummaryFunc: func(ctx context.Context) (*backend.AccountSummary, error) {
			return &backend.AccountSummary{ProfitLoss: 5, Margin: 2}, nil
		},
		TransactionsFunc: func(ctx context.Context) (*backend.Transactions, error) {
			return &backend.Transactions{
				Deposits:    []backend.Deposit{{ID: "d1", Amount: 100, CreatedAt: "2024-05-01T10:00:00Z"}},
				Withdrawals: []backend.Withdrawal{},
			}, nil
		},
	}
}

func (f *fakeSource) CurrentBalance(ctx context.Context) (*backend.Balance, error) {
	f.balanceCalls.Add(1)
	return f.BalanceFunc(ctx)
}

func (f *fakeSource) CurrentSummary(ctx context.Context) (*backend.AccountSummary, error) {
	f.summaryCalls.Add(1)
	return f.SummaryFunc(ctx)
}

func (f *fakeSource) Transactions(ctx context.Context, query url.Values) (*backend.Transactions, error) {
	f.transactionsCalls.Add(1)
	return f.TransactionsFunc(ctx)
}

func (f *fakeSource) CreateDeposit(ctx context.Context, req backend.DepositRequest) (*backend.Deposit, error) {
	return f.CreateFunc(ctx, req)
}

func (f *fakeSource) VerifyDeposit(ctx context.Context, id backend.ID) (*backend.Deposit, error) {
	return f.VerifyFunc(ctx, id)
}

func (f *fakeSource) fetches() int {
	return int(f.balanceCalls.Load())
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder collects every published View.
type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) record(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) states() []ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ViewState, len(r.views))
	for i, v := range r.views {
		out[i] = v.State
	}
	return out
}
