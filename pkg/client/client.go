// Package client wraps the broker REST backend: it attaches the session's
// access token, validates it at most once per interval, refreshes it on 401
// with at most one exchange in flight, and maps failures to typed errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/session"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Endpoints the client itself depends on.
const (
	PathLogin   = "/auth/login/"
	PathRefresh = "/auth/token/refresh/"
	PathProfile = "/auth/profile/"
)

// skipValidation lists endpoints that never trigger token validation.
var skipValidation = []string{PathLogin, PathRefresh, PathProfile}

// Config configures a Client.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	ValidationInterval time.Duration
	// Transport is the underlying round tripper, typically a resilience.Transport
	Transport http.RoundTripper
	Metrics   metrics.MetricsCollector
}

// DefaultConfig returns the production client settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://brokerapp.pythonanywhere.com",
		Timeout:            10 * time.Second,
		ValidationInterval: 60 * time.Second,
	}
}

// Request describes one backend call. Path is the endpoint path, e.g.
// "/api/balance/". Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

// Response is a buffered 2xx backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// JSON returns the body as a gjson result for path queries.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Client is the authenticated backend client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	sessions  *session.Store
	refresher *Coordinator
	validator *validator
	metrics   metrics.MetricsCollector
	logger    *logging.Logger
}

// New creates a client that reads and writes its session through sessions.
func New(config Config, sessions *session.Store) *Client {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ValidationInterval <= 0 {
		config.ValidationInterval = defaults.ValidationInterval
	}
	if config.Transport == nil {
		config.Transport = http.DefaultTransport
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	c := &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		http:      &http.Client{Transport: config.Transport, Timeout: config.Timeout},
		sessions:  sessions,
		validator: newValidator(config.ValidationInterval),
		metrics:   config.Metrics,
		logger:    logging.Global().Named("client"),
	}
	c.refresher = NewCoordinator(sessions, c.exchange, config.Metrics)
	return c
}

// Sessions returns the session store the client authenticates from.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

// Coordinator returns the client's refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.refresher
}

// Do performs req. A nil error means a 2xx response; every other outcome is
// an *APIError or a wrapped transport error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.do(ctx, req, needsValidation(req.Path))
}

// Get is shorthand for a GET without query parameters.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post is shorthand for a JSON POST.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) do(ctx context.Context, req *Request, validate bool) (*Response, error) {
	sess, err := c.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}

	if sess.Authenticated() && validate {
		if err := c.validate(ctx); err != nil {
			return nil, err
		}
		// Validation may have refreshed the token
		if sess, err = c.sessions.Load(ctx); err != nil {
			return nil, err
		}
	}

	var token string
	if sess.Authenticated() {
		token = sess.AccessToken
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && !isLogin(req.Path) {
		newToken, err := c.refresher.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, req, newToken)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			c.logger.Warn("request rejected after token refresh",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
			)
			return nil, tokenInvalid(classify(resp.Status, resp.Body, false))
		}
	}

	if err := classify(resp.Status, resp.Body, isLogin(req.Path)); err != nil {
		return nil, err
	}
	return resp, nil
}

// send performs one HTTP exchange and buffers the body. Non-2xx statuses are
// not errors at this level.
func (c *Client) send(ctx context.Context, req *Request, token string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, wrapTransport(method, req.Path, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "JWT "+token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordRequest(req.Path, 0, time.Since(start))
		c.logger.Warn("request failed",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, wrapTransport(method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	c.metrics.RecordRequest(req.Path, httpResp.StatusCode, duration)
	if err != nil {
		return nil, wrapTransport(method, req.Path, err)
	}

	c.logger.Debug("request completed",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
	)

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

// exchange trades a refresh token for a new pair at the refresh endpoint.
// It bypasses validation and 401 handling.
func (c *Client) exchange(ctx context.Context, refreshToken string) (string, string, error) {
	resp, err := c.send(ctx, &Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   map[string]string{"refresh_token": refreshToken},
	}, "")
	if err != nil {
		return "", "", err
	}
	if err := classify(resp.Status, resp.Body, false); err != nil {
		return "", "", err
	}

	result := resp.JSON()
	access := result.Get("access_token").String()
	if access == "" {
		return "", "", fmt.Errorf("client: refresh response has no access_token")
	}
	return access, result.Get("refresh_token").String(), nil
}

func needsValidation(path string) bool {
	for _, skip := range skipValidation {
		if strings.Contains(path, skip) {
			return false
		}
	}
	return true
}

func isLogin(path string) bool {
	return strings.Contains(path, PathLogin)
}
