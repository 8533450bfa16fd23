package license

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Persisted preference keys. They are part of the on-disk format.
const (
	PrefLastResponse      = "lastResponse"
	PrefValidityTimestamp = "validityTimestamp"
	PrefRetryUntil        = "retryUntil"
	PrefMaxRetries        = "maxRetries"
	PrefRetryCount        = "retryCount"
)

const (
	millisPerMinute = int64(time.Minute / time.Millisecond)

	defaultValidityTimestamp = "0"
	defaultRetryUntil        = "0"
	defaultMaxRetries        = "0"
	defaultRetryCount        = "0"
)

// PolicyOption configures a ServerManagedPolicy.
type PolicyOption func(*ServerManagedPolicy)

// WithPolicyClock sets the clock used for all time comparisons.
func WithPolicyClock(c clock.Clock) PolicyOption {
	return func(p *ServerManagedPolicy) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithPolicyLogger sets the logger used for fallback and persistence warnings.
func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(p *ServerManagedPolicy) {
		if l != nil {
			p.logger = l
		}
	}
}

// ServerManagedPolicy caches Licensed verdicts for the validity window the
// server supplies (VT) and tolerates Retry verdicts within a server supplied
// grace budget, either time based (GT) or count based (GR).
//
// A Retry only grants access within one minute of being recorded, so a single
// stale Retry cannot keep an offline installation running.
type ServerManagedPolicy struct {
	mu     sync.RWMutex
	prefs  PreferenceStore
	clock  clock.Clock
	logger *slog.Logger

	lastResponse      Verdict
	lastResponseTime  int64
	validityTimestamp int64
	retryUntil        int64
	maxRetries        int64
	retryCount        int64
}

// NewServerManagedPolicy loads previously persisted state from prefs.
// Missing or corrupt values fall back to defaults.
func NewServerManagedPolicy(prefs PreferenceStore, opts ...PolicyOption) *ServerManagedPolicy {
	p := &ServerManagedPolicy{
		prefs:  prefs,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "server_managed_policy"))

	p.lastResponse = ParseVerdict(prefs.GetString(PrefLastResponse, strconv.Itoa(int(Retry))))
	p.validityTimestamp = p.loadInt(PrefValidityTimestamp, defaultValidityTimestamp)
	p.retryUntil = p.loadInt(PrefRetryUntil, defaultRetryUntil)
	p.maxRetries = p.loadInt(PrefMaxRetries, defaultMaxRetries)
	p.retryCount = p.loadInt(PrefRetryCount, defaultRetryCount)
	return p
}

func (p *ServerManagedPolicy) loadInt(key, def string) int64 {
	raw := p.prefs.GetString(key, def)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.logger.Warn("discarding unreadable policy field",
			slog.String("field", key))
		return 0
	}
	return n
}

// ProcessServerResponse updates and persists the policy state from one
// resolved check.
func (p *ServerManagedPolicy) ProcessServerResponse(v Verdict, extras Extras) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v != Retry {
		p.setRetryCount(0)
	} else {
		p.setRetryCount(p.retryCount + 1)
	}

	switch v {
	case Licensed:
		p.setValidityTimestamp(extras.Get(ExtraValidityTimestamp))
		p.setRetryUntil(extras.Get(ExtraRetryUntil))
		p.setMaxRetries(extras.Get(ExtraMaxRetries))
	case NotLicensed:
		// revoke any previously granted grace
		p.setValidityTimestamp(defaultValidityTimestamp)
		p.setRetryUntil(defaultRetryUntil)
		p.setMaxRetries(defaultMaxRetries)
	}

	p.setLastResponse(v)
	if err := p.prefs.Commit(); err != nil {
		p.logger.Warn("failed to persist policy state",
			slog.String("verdict", v.String()),
			slog.String("error", err.Error()))
	}
}

// AllowAccess reports whether access is currently allowed.
func (p *ServerManagedPolicy) AllowAccess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.nowMillis()
	switch {
	case p.lastResponse == Licensed:
		return now <= p.validityTimestamp
	case p.lastResponse == Retry && now < p.lastResponseTime+millisPerMinute:
		return now <= p.retryUntil || p.retryCount <= p.maxRetries
	}
	return false
}

// LastResponse returns the last recorded verdict.
func (p *ServerManagedPolicy) LastResponse() Verdict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResponse
}

// ValidityTimestamp returns the epoch millis until which a Licensed verdict is trusted.
func (p *ServerManagedPolicy) ValidityTimestamp() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validityTimestamp
}

// RetryUntil returns the epoch millis until which Retry verdicts are tolerated.
func (p *ServerManagedPolicy) RetryUntil() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retryUntil
}

// MaxRetries returns the number of consecutive Retry verdicts tolerated.
func (p *ServerManagedPolicy) MaxRetries() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxRetries
}

// RetryCount returns the number of consecutive Retry verdicts seen.
func (p *ServerManagedPolicy) RetryCount() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retryCount
}

func (p *ServerManagedPolicy) nowMillis() int64 {
	return p.clock.Now().UnixMilli()
}

func (p *ServerManagedPolicy) setLastResponse(v Verdict) {
	p.lastResponseTime = p.nowMillis()
	p.lastResponse = v
	p.prefs.PutString(PrefLastResponse, strconv.Itoa(int(v)))
}

func (p *ServerManagedPolicy) setRetryCount(c int64) {
	p.retryCount = c
	p.prefs.PutString(PrefRetryCount, strconv.FormatInt(c, 10))
}

func (p *ServerManagedPolicy) setValidityTimestamp(raw string) {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// short grace so a malformed response cannot grant long-lived access
		ts = p.nowMillis() + millisPerMinute
		p.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"license validity timestamp (VT) missing, caching for a minute")
	}
	p.validityTimestamp = ts
	p.prefs.PutString(PrefValidityTimestamp, strconv.FormatInt(ts, 10))
}

func (p *ServerManagedPolicy) setRetryUntil(raw string) {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		ts = 0
		p.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"license retry timestamp (GT) missing, grace period disabled")
	}
	p.retryUntil = ts
	p.prefs.PutString(PrefRetryUntil, strconv.FormatInt(ts, 10))
}

func (p *ServerManagedPolicy) setMaxRetries(raw string) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		n = 0
		p.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"license retry count (GR) missing, grace period disabled")
	}
	p.maxRetries = n
	p.prefs.PutString(PrefMaxRetries, strconv.FormatInt(n, 10))
}
