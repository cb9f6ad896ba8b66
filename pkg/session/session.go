// Package session persists the authenticated user's token pair and username
// behind the storage.KV port.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/storage"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrNoExpiry is returned by AccessExpiry when the token carries no exp claim.
var ErrNoExpiry = errors.New("session: token has no expiry")

// Session is the persisted authentication state. An empty AccessToken means
// there is no session.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
}

// Authenticated reports whether the session holds an access token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Store loads and saves a Session. Writes go straight to the KV so that a
// crash never leaves a token pair half-persisted in a queue.
type Store struct {
	kv     storage.KV
	mu     sync.Mutex
	logger *logging.Logger
}

// NewStore creates a session store over kv.
func NewStore(kv storage.KV) *Store {
	return &Store{
		kv:     kv,
		logger: logging.Global().Named("session"),
	}
}

// Load returns the persisted session, or nil when no access token is stored.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	access, err := s.get(ctx, storage.KeyAuthToken)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, nil
	}

	refresh, err := s.get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return nil, err
	}
	username, err := s.get(ctx, storage.KeyUsername)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Username:     username,
	}, nil
}

// Save persists all three fields. Last write wins.
func (s *Store) Save(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, sess)
}

func (s *Store) saveLocked(ctx context.Context, sess Session) error {
	if sess.AccessToken == "" {
		return fmt.Errorf("session: save: empty access token")
	}
	fields := []struct {
		key   string
		value string
	}{
		{storage.KeyAuthToken, sess.AccessToken},
		{storage.KeyRefreshToken, sess.RefreshToken},
		{storage.KeyUsername, sess.Username},
	}
	for _, f := range fields {
		if err := s.kv.Set(ctx, f.key, []byte(f.value)); err != nil {
			return fmt.Errorf("session: save %s: %w", f.key, err)
		}
	}
	return nil
}

// UpdateTokens replaces the token pair after a refresh exchange, keeping the
// username. An empty refresh token keeps the stored one.
func (s *Store) UpdateTokens(ctx context.Context, access, refresh string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	next := Session{AccessToken: access, RefreshToken: refresh}
	if current != nil {
		next.Username = current.Username
		if refresh == "" {
			next.RefreshToken = current.RefreshToken
		}
	}

	if err := s.saveLocked(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Clear removes every session key. Missing keys are not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range []string{storage.KeyAuthToken, storage.KeyRefreshToken, storage.KeyUsername} {
		if err := s.kv.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("session: clear %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("session cleared")
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, key)
	if storage.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: load %s: %w", key, err)
	}
	return string(value), nil
}

// AccessExpiry decodes the exp claim of a JWT access token without verifying
// its signature. The client has no key to verify with; the backend remains the
// authority and the value is used for status reporting only.
func AccessExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("session: decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// LogFields describes sess for structured logs without leaking tokens.
func LogFields(sess *Session) []zap.Field {
	if !sess.Authenticated() {
		return []zap.Field{zap.Bool("authenticated", false)}
	}
	fields := []zap.Field{
		zap.Bool("authenticated", true),
		zap.String("username", sess.Username),
		zap.Bool("has_refresh_token", sess.RefreshToken != ""),
	}
	if exp, err := AccessExpiry(sess.AccessToken); err == nil {
		fields = append(fields, zap.Time("access_expires_at", exp))
	}
	return fields
}
