// Package backend exposes the broker REST operations on top of client.Client.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"broker-client/pkg/client"
	"broker-client/pkg/logging"
	"broker-client/pkg/session"
)

// Endpoint roots.
const (
	pathBalance   = "/api/balance/"
	pathDeposits  = "/api/deposits/"
	pathWithdraws = "/api/withdrawals/"
	pathSummaries = "/api/account-summaries/"
)

// Service performs backend operations with the session held by its client.
type Service struct {
	client   *client.Client
	sessions *session.Store
	logger   *logging.Logger
}

// NewService creates a service over c.
func NewService(c *client.Client) *Service {
	return &Service{
		client:   c,
		sessions: c.Sessions(),
		logger:   logging.Global().Named("backend"),
	}
}

// Client returns the underlying HTTP client wrapper.
func (s *Service) Client() *client.Client {
	return s.client
}

func (s *Service) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	resp, err := s.client.Do(ctx, &client.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// list fetches a collection that may come back as a bare array or inside a
// {"results": [...]} envelope.
func list[T any](ctx context.Context, s *Service, path string, query url.Values) ([]T, error) {
	resp, err := s.client.Do(ctx, &client.Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	return decodeList[T](resp.Body)
}

func decodeList[T any](body []byte) ([]T, error) {
	raw, err := listPayload(body)
	if err != nil || raw == nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("backend: decode list: %w", err)
	}
	return items, nil
}

func listPayload(body []byte) ([]byte, error) {
	var probe interface{}
	if len(body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("backend: decode list: %w", err)
	}
	switch v := probe.(type) {
	case []interface{}:
		return body, nil
	case map[string]interface{}:
		results, ok := v["results"]
		if !ok || results == nil {
			return nil, nil
		}
		return json.Marshal(results)
	default:
		return nil, nil
	}
}

func itemPath(root string, id ID) string {
	return root + url.PathEscape(id.String()) + "/"
}
