package resilience

import (
	"testing"
	"time"
)

func TestDefaultStoreConfig(t *testing.T) {
	config := DefaultStoreConfig()

	if config.Timeout != 2*time.Second {
		t.Errorf("Expected timeout 2s, got %v", config.Timeout)
	}
	if config.CircuitBreakerConfig.MaxRequests != 1 {
		t.Errorf("Expected MaxRequests 1, got %d", config.CircuitBreakerConfig.MaxRequests)
	}
	if config.CircuitBreakerConfig.ReadyToTrip != nil {
		t.Error("Expected default consecutive-failure trip policy")
	}
}

func TestDefaultTransportConfig_ReadyToTrip(t *testing.T) {
	config := DefaultTransportConfig()

	if config.Timeout != 0 {
		t.Errorf("Expected no transport timeout, got %v", config.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}

	tests := []struct {
		name   string
		counts Counts
		want   bool
	}{
		{"too few requests", Counts{Requests: 9, TotalFailures: 9}, false},
		{"below threshold", Counts{Requests: 10, TotalFailures: 4}, false},
		{"at threshold", Counts{Requests: 10, TotalFailures: 5}, true},
		{"all failing", Counts{Requests: 20, TotalFailures: 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trip(tt.counts); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestResilientConfig_WithTimeout(t *testing.T) {
	config := DefaultStoreConfig()
	newConfig := config.WithTimeout(500 * time.Millisecond)

	if newConfig.Timeout != 500*time.Millisecond {
		t.Errorf("Expected timeout 500ms, got %v", newConfig.Timeout)
	}
	if config.Timeout != 2*time.Second {
		t.Errorf("Original config changed: got %v", config.Timeout)
	}
}

func TestResilientConfig_WithCircuitBreakerTimeout(t *testing.T) {
	config := DefaultStoreConfig()
	newConfig := config.WithCircuitBreakerTimeout(5 * time.Second)

	if newConfig.CircuitBreakerConfig.Timeout != 5*time.Second {
		t.Errorf("Expected CB timeout 5s, got %v", newConfig.CircuitBreakerConfig.Timeout)
	}
	if config.CircuitBreakerConfig.Timeout != 30*time.Second {
		t.Errorf("Original config changed: got %v", config.CircuitBreakerConfig.Timeout)
	}
}
