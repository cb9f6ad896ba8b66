package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"broker-client/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// validator throttles token validation to one profile round trip per interval.
type validator struct {
	interval time.Duration
	group    singleflight.Group
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newValidator(interval time.Duration) *validator {
	return &validator{interval: interval, now: time.Now}
}

func (v *validator) fresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.last.IsZero() && v.now().Sub(v.last) < v.interval
}

func (v *validator) markValid() {
	v.mu.Lock()
	v.last = v.now()
	v.mu.Unlock()
}

func (v *validator) reset() {
	v.mu.Lock()
	v.last = time.Time{}
	v.mu.Unlock()
}

// LastValidated returns when the token last passed validation.
func (c *Client) LastValidated() time.Time {
	c.validator.mu.Lock()
	defer c.validator.mu.Unlock()
	return c.validator.last
}

// ResetValidation forces the next request to validate, e.g. after login.
func (c *Client) ResetValidation() {
	c.validator.reset()
}

// validate checks the stored token with GET /auth/profile/ unless it passed
// within the interval. Concurrent callers share one round trip. The profile
// call goes through the normal 401 path, so an expired access token is
// refreshed here rather than failing validation.
func (c *Client) validate(ctx context.Context) error {
	if c.validator.fresh() {
		c.metrics.RecordValidation(metrics.ValidationCached)
		return nil
	}

	// The shared call must not die with whichever caller started it
	sharedCtx := context.WithoutCancel(ctx)
	ch := c.validator.group.DoChan("validate", func() (interface{}, error) {
		if c.validator.fresh() {
			return nil, nil
		}
		_, err := c.do(sharedCtx, &Request{Method: http.MethodGet, Path: PathProfile}, false)
		if err != nil {
			return nil, err
		}
		c.validator.markValid()
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.metrics.RecordValidation(metrics.ValidationFailed)
			c.logger.Warn("token validation failed", zap.Error(res.Err))
			return tokenInvalid(res.Err)
		}
		c.metrics.RecordValidation(metrics.ValidationNetwork)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
