package client

import (
	"context"
	"sync"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/session"

	"go.uber.org/zap"
)

// RefreshState is the coordinator's state.
type RefreshState int

const (
	// StateIdle means no exchange is in flight.
	StateIdle RefreshState = iota
	// StateRefreshing means one exchange is in flight and 401s queue behind it.
	StateRefreshing
)

func (s RefreshState) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// ExchangeFunc trades a refresh token for a new access token and, optionally,
// a rotated refresh token.
type ExchangeFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

type refreshResult struct {
	token string
	err   error
}

// Coordinator guarantees at most one refresh-token exchange at a time. Callers
// that hit 401 while an exchange is in flight wait for its outcome.
type Coordinator struct {
	sessions *session.Store
	exchange ExchangeFunc
	metrics  metrics.MetricsCollector
	logger   *logging.Logger

	mu      sync.Mutex
	state   RefreshState
	waiters []chan refreshResult
}

// NewCoordinator creates a coordinator persisting through sessions.
func NewCoordinator(sessions *session.Store, exchange ExchangeFunc, collector metrics.MetricsCollector) *Coordinator {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Coordinator{
		sessions: sessions,
		exchange: exchange,
		metrics:  collector,
		logger:   logging.Global().Named("refresh"),
	}
}

// State returns the current coordinator state.
func (c *Coordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of callers queued behind the in-flight exchange.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Refresh returns an access token to replay a request that was rejected with
// rejected. If an exchange is in flight it waits for it; if the stored token
// already differs from rejected it returns the stored one; otherwise it runs
// the exchange itself. On failure the session is cleared and the error
// satisfies RedirectToLogin.
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	if c.state == StateRefreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	sess, err := c.sessions.Load(ctx)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if sess.Authenticated() && rejected != "" && sess.AccessToken != rejected {
		c.mu.Unlock()
		c.logger.Debug("rejected token already superseded, replaying with stored token")
		return sess.AccessToken, nil
	}

	c.state = StateRefreshing
	c.mu.Unlock()

	// The exchange outlives the caller that started it
	token, err := c.run(context.WithoutCancel(ctx), sess)

	c.mu.Lock()
	c.state = StateIdle
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	return token, err
}

func (c *Coordinator) run(ctx context.Context, sess *session.Session) (string, error) {
	start := time.Now()

	token, err := c.exchangeAndStore(ctx, sess)

	c.mu.Lock()
	waiting := len(c.waiters)
	c.mu.Unlock()
	c.metrics.RecordRefresh(err == nil, waiting, time.Since(start))

	if err != nil {
		c.logger.Warn("token refresh failed, clearing session",
			zap.Int("waiters", waiting),
			zap.Error(err),
		)
		if clearErr := c.sessions.Clear(ctx); clearErr != nil {
			c.logger.Error("failed to clear session", zap.Error(clearErr))
		}
		return "", err
	}

	c.logger.Info("token refreshed",
		zap.Int("waiters", waiting),
		zap.Duration("duration", time.Since(start)),
	)
	return token, nil
}

func (c *Coordinator) exchangeAndStore(ctx context.Context, sess *session.Session) (string, error) {
	if sess == nil || sess.RefreshToken == "" {
		return "", sessionExpired(MsgNoRefreshToken, nil)
	}

	access, refresh, err := c.exchange(ctx, sess.RefreshToken)
	if err != nil {
		return "", sessionExpired(MsgSessionExpired, err)
	}

	updated, err := c.sessions.UpdateTokens(ctx, access, refresh)
	if err != nil {
		return "", sessionExpired(MsgSessionExpired, err)
	}
	return updated.AccessToken, nil
}
