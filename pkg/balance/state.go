package balance

import (
	"sync"
	"time"
)

// ViewState is what a renderer should show for the cache.
type ViewState int

const (
	// StateIdle shows the snapshot as is.
	StateIdle ViewState = iota
	// StateLoading shows a loading indicator.
	StateLoading
	// StateStale keeps showing the snapshot while it revalidates.
	StateStale
	// StateError shows the last refresh error.
	StateError
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ViewState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is the render model published to subscribers.
type View struct {
	State           ViewState `json:"state"`
	Error           string    `json:"error,omitempty"`
	RedirectToLogin bool      `json:"redirect_to_login"`
	LastUpdated     time.Time `json:"last_updated"`
}

type eventKind int

const (
	eventRefreshStarted eventKind = iota
	eventRefreshSucceeded
	eventRefreshFailed
	eventSessionExpired
)

type event struct {
	kind    eventKind
	stale   bool
	err     error
	updated time.Time
}

// transition is the pure state machine behind View.
func transition(v View, e event) View {
	switch e.kind {
	case eventRefreshStarted:
		v.Error = ""
		v.RedirectToLogin = false
		if e.stale {
			v.State = StateStale
		} else {
			v.State = StateLoading
		}
	case eventRefreshSucceeded:
		v.State = StateIdle
		v.LastUpdated = e.updated
	case eventRefreshFailed:
		v.State = StateError
		v.Error = e.err.Error()
	case eventSessionExpired:
		v.State = StateError
		v.Error = e.err.Error()
		v.RedirectToLogin = true
	}
	return v
}

// viewMachine holds the current View and notifies subscribers on change.
type viewMachine struct {
	mu     sync.Mutex
	view   View
	nextID int
	subs   map[int]func(View)
}

func newViewMachine() *viewMachine {
	return &viewMachine{subs: make(map[int]func(View))}
}

func (m *viewMachine) current() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *viewMachine) apply(e event) View {
	m.mu.Lock()
	m.view = transition(m.view, e)
	v := m.view
	subs := make([]func(View), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return v
}

func (m *viewMachine) subscribe(fn func(View)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
