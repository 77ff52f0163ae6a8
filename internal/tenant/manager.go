// Package tenant provides per-tenant request admission: rate limiting on the
// action entry point.
package tenant

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded means the tenant exhausted its request rate.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Manager rate-limits requests per tenant. Unknown tenants get a limiter
// lazily at the default rate; a rate of 0 disables limiting.
type Manager struct {
	defaultRate int
	limiters    map[string]*rate.Limiter
	mu          sync.Mutex
}

// NewManager creates a manager with the given default requests-per-second
// rate. 0 disables rate limiting entirely.
func NewManager(defaultRate int) *Manager {
	return &Manager{
		defaultRate: defaultRate,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// SetRate overrides the rate for one tenant.
func (m *Manager) SetRate(tenantID string, perSecond int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if perSecond <= 0 {
		delete(m.limiters, tenantID)
		return
	}
	m.limiters[tenantID] = rate.NewLimiter(rate.Limit(perSecond), perSecond*2) // burst = 2s worth
}

// ValidateRequest admits or rejects one request for the tenant.
func (m *Manager) ValidateRequest(tenantID string) error {
	if m.defaultRate <= 0 {
		m.mu.Lock()
		lim, ok := m.limiters[tenantID]
		m.mu.Unlock()
		if !ok {
			return nil
		}
		if !lim.Allow() {
			return ErrRateLimitExceeded
		}
		return nil
	}

	m.mu.Lock()
	lim, ok := m.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.defaultRate), m.defaultRate*2)
		m.limiters[tenantID] = lim
	}
	m.mu.Unlock()

	if !lim.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}
