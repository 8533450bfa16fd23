package license

import "sync"

// StrictPolicy grants access only when the most recent server verdict was
// Licensed. Nothing is cached or persisted beyond that single verdict.
type StrictPolicy struct {
	mu           sync.RWMutex
	lastResponse Verdict
}

// NewStrictPolicy returns a policy that forces a server check on first use.
func NewStrictPolicy() *StrictPolicy {
	return &StrictPolicy{lastResponse: Retry}
}

// ProcessServerResponse overwrites the stored verdict. Extras are ignored.
func (p *StrictPolicy) ProcessServerResponse(v Verdict, _ Extras) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastResponse = v
}

// AllowAccess reports whether the last verdict was Licensed.
func (p *StrictPolicy) AllowAccess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResponse == Licensed
}

// LastResponse returns the stored verdict.
func (p *StrictPolicy) LastResponse() Verdict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResponse
}
