package balance

import "time"

// Freshness classifies a snapshot by age.
type Freshness int

const (
	// Recent snapshots are younger than the stale window. A refresh keeps
	// rendering them without a loading indicator.
	Recent Freshness = iota
	// Valid snapshots are inside the expiration window. Unforced refreshes
	// are skipped.
	Valid
	// Expired snapshots must be refetched.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Recent:
		return "recent"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Policy decides how a snapshot of a given age is treated.
type Policy interface {
	Classify(age time.Duration) Freshness
}

// WindowPolicy uses fixed expiration and stale windows.
type WindowPolicy struct {
	Expiration  time.Duration
	StaleWindow time.Duration
}

// DefaultPolicy returns the 5 minute expiration and 2 minute stale window.
func DefaultPolicy() WindowPolicy {
	return WindowPolicy{
		Expiration:  5 * time.Minute,
		StaleWindow: 2 * time.Minute,
	}
}

// Classify implements Policy.
func (p WindowPolicy) Classify(age time.Duration) Freshness {
	switch {
	case age < 0:
		return Recent
	case age < p.StaleWindow && age < p.Expiration:
		return Recent
	case age < p.Expiration:
		return Valid
	default:
		return Expired
	}
}

// AlwaysExpired forces every refresh to hit the backend.
type AlwaysExpired struct{}

// Classify implements Policy.
func (AlwaysExpired) Classify(time.Duration) Freshness {
	return Expired
}
