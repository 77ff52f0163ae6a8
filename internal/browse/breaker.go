package browse

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state for one upstream host.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: fetches flow through
	CircuitOpen                         // Tripped: fetches denied immediately
	CircuitHalfOpen                     // Probe: one fetch allowed to test recovery
)

// CircuitBreaker tracks transport failures per upstream host and opens the
// circuit when repeated failures exceed the threshold within a window. A host
// with an open circuit is refused without network I/O until the window
// elapses, after which a single probe fetch is allowed through.
// Only transport failures feed the breaker; non-2xx responses do not.
type CircuitBreaker struct {
	mu        sync.Mutex
	hosts     map[string]*hostCircuit
	threshold int
	window    time.Duration
}

type hostCircuit struct {
	failures      []time.Time
	state         CircuitState
	openedAt      time.Time
	probeInFlight bool // when half-open, only one fetch runs until RecordSuccess/RecordFailure
}

// NewCircuitBreaker creates a breaker with the given threshold and window.
// threshold: transport failures in window to trip the circuit (default 5).
// window: sliding window duration (default 60s).
func NewCircuitBreaker(threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &CircuitBreaker{
		hosts:     make(map[string]*hostCircuit),
		threshold: threshold,
		window:    window,
	}
}

// Check returns nil if a fetch to host may proceed, or an error if the
// circuit is open. In half-open state, allows one probe fetch.
func (cb *CircuitBreaker) Check(host string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hc, ok := cb.hosts[host]
	if !ok {
		return nil
	}

	switch hc.state {
	case CircuitOpen:
		if time.Since(hc.openedAt) > cb.window {
			hc.state = CircuitHalfOpen
			hc.probeInFlight = true // this fetch is the single allowed probe
			return nil
		}
		return fmt.Errorf("circuit_open: host %s suspended after repeated fetch failures", host)
	case CircuitHalfOpen:
		if hc.probeInFlight {
			return fmt.Errorf("circuit_half_open: probe already in progress for host %s", host)
		}
		hc.probeInFlight = true
		return nil
	}
	return nil
}

// RecordFailure records a transport failure for the host. If the threshold is
// exceeded within the window, the circuit opens. In half-open state, a single
// failure (failed probe) reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hc, ok := cb.hosts[host]
	if !ok {
		hc = &hostCircuit{}
		cb.hosts[host] = hc
	}

	now := time.Now()

	if hc.state == CircuitHalfOpen {
		hc.state = CircuitOpen
		hc.openedAt = now
		hc.probeInFlight = false
		return
	}

	cutoff := now.Add(-cb.window)
	hc.failures = append(hc.failures[:0], filterAfter(hc.failures, cutoff)...)
	hc.failures = append(hc.failures, now)

	if len(hc.failures) >= cb.threshold {
		hc.state = CircuitOpen
		hc.openedAt = now
	}
}

// RecordSuccess records a completed fetch. If the circuit is half-open, this
// closes it (the probe succeeded).
func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hc, ok := cb.hosts[host]
	if !ok {
		return
	}
	if hc.state == CircuitHalfOpen {
		hc.state = CircuitClosed
		hc.failures = nil
		hc.probeInFlight = false
	}
}

// Reset clears the circuit for a host (operator override).
func (cb *CircuitBreaker) Reset(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.hosts, host)
}

// State returns the current circuit state for a host.
func (cb *CircuitBreaker) State(host string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hc, ok := cb.hosts[host]
	if !ok {
		return CircuitClosed
	}
	return hc.state
}

func filterAfter(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
