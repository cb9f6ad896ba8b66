package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"broker-client/pkg/metrics/memory"
	"broker-client/pkg/session"
	storagememory "broker-client/pkg/storage/memory"
)

// fakeBackend is an httptest backend that issues and checks JWT-style tokens.
type fakeBackend struct {
	server *httptest.Server

	mu         sync.Mutex
	valid      map[string]bool
	authHeader []string
	requestIDs []string
	issued     int

	refreshCalls atomic.Int32
	profileCalls atomic.Int32
	dataCalls    atomic.Int32

	// refreshDelay holds the refresh endpoint open so concurrent 401s pile up
	refreshDelay time.Duration
	// refreshStatus overrides the refresh endpoint's status when non-zero
	refreshStatus int
	// omitRefresh drops refresh_token from the refresh response
	omitRefresh bool
	// profileStatus overrides the profile endpoint's status when non-zero
	profileStatus int
}

func newFakeBackend(t *testing.T, validTokens ...string) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{valid: make(map[string]bool)}
	for _, tok := range validTokens {
		fb.valid[tok] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc(PathLogin, fb.login)
	mux.HandleFunc(PathRefresh, fb.refresh)
	mux.HandleFunc(PathProfile, fb.profile)
	mux.HandleFunc("/api/balance/", fb.balance)
	mux.HandleFunc("/api/always-401/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/status/", fb.status)

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) record(r *http.Request) string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.authHeader = append(fb.authHeader, r.Header.Get("Authorization"))
	fb.requestIDs = append(fb.requestIDs, r.Header.Get("X-Request-ID"))
	return strings.TrimPrefix(r.Header.Get("Authorization"), "JWT ")
}

func (fb *fakeBackend) authorized(r *http.Request) bool {
	token := fb.record(r)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.valid[token]
}

func (fb *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	switch {
	case body.Email != "alice@example.com":
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
	case body.Password != "secret":
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid password"})
	default:
		fb.mu.Lock()
		fb.valid["abc"] = true
		fb.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "abc", "refresh_token": "r0"})
	}
}

func (fb *fakeBackend) refresh(w http.ResponseWriter, r *http.Request) {
	fb.refreshCalls.Add(1)
	if fb.refreshDelay > 0 {
		time.Sleep(fb.refreshDelay)
	}
	if fb.refreshStatus != 0 {
		writeJSON(w, fb.refreshStatus, map[string]string{"detail": "Token is invalid or expired"})
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "refresh_token required"})
		return
	}

	fb.mu.Lock()
	fb.issued++
	access := fmt.Sprintf("new-%d", fb.issued)
	refresh := fmt.Sprintf("r%d", fb.issued)
	fb.valid[access] = true
	fb.mu.Unlock()

	resp := map[string]string{"access_token": access}
	if !fb.omitRefresh {
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (fb *fakeBackend) profile(w http.ResponseWriter, r *http.Request) {
	fb.profileCalls.Add(1)
	if fb.profileStatus != 0 {
		fb.record(r)
		w.WriteHeader(fb.profileStatus)
		return
	}
	if !fb.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": "alice@example.com"})
}

func (fb *fakeBackend) balance(w http.ResponseWriter, r *http.Request) {
	fb.dataCalls.Add(1)
	if !fb.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`[{"amount":"100.50","currency":"USD"}]`))
}

// status replies with the code in the "code" query parameter and the raw
// "body" query parameter.
func (fb *fakeBackend) status(w http.ResponseWriter, r *http.Request) {
	var code int
	fmt.Sscanf(r.URL.Query().Get("code"), "%d", &code)
	w.WriteHeader(code)
	w.Write([]byte(r.URL.Query().Get("body")))
}

func (fb *fakeBackend) revoke(token string) {
	fb.mu.Lock()
	delete(fb.valid, token)
	fb.mu.Unlock()
}

func (fb *fakeBackend) lastAuthHeader() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.authHeader) == 0 {
		return ""
	}
	return fb.authHeader[len(fb.authHeader)-1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// newTestClient returns a client against fb with sess persisted (if non-nil).
func newTestClient(t *testing.T, fb *fakeBackend, sess *session.Session) (*Client, *session.Store, *memory.MemoryCollector) {
	t.Helper()
	store := session.NewStore(storagememory.NewMemoryStore(""))
	if sess != nil {
		if err := store.Save(context.Background(), *sess); err != nil {
			t.Fatalf("Save session: %v", err)
		}
	}
	collector := memory.NewMemoryCollector()
	c := New(Config{
		BaseURL: fb.server.URL,
		Timeout: 2 * time.Second,
		Metrics: collector,
	}, store)
	return c, store, collector
}
