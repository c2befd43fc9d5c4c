// Package proxy rotates outbound proxy endpoints and parks failing ones for a cooldown.
package proxy

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCooldown is how long a blacklisted proxy stays out of rotation.
const DefaultCooldown = 300 * time.Second

// Clock supplies the current time; tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// Rotator serves proxy endpoints in round-robin order. It is safe for
// concurrent use and is meant to be shared by every job that draws from the
// same pool.
type Rotator struct {
	mu        sync.Mutex
	endpoints []string
	blacklist map[string]time.Time
	cursor    int
	cooldown  time.Duration
	clock     Clock
	logger    *zap.Logger
}

// Option customizes a Rotator.
type Option func(*Rotator)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(r *Rotator) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger attaches a logger for blacklist notices.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Rotator) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRotator copies endpoints into a new rotation. A non-positive cooldown
// falls back to DefaultCooldown.
func NewRotator(endpoints []string, cooldown time.Duration, opts ...Option) *Rotator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	r := &Rotator{
		endpoints: append([]string(nil), endpoints...),
		blacklist: make(map[string]time.Time),
		cooldown:  cooldown,
		clock:     clockFunc(time.Now),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len reports how many endpoints are configured, blacklisted or not.
func (r *Rotator) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// GetProxy returns the next usable endpoint. ok is false when no endpoints are
// configured or every endpoint is still cooling down. The cursor moves past
// every inspected entry, skipped ones included.
func (r *Rotator) GetProxy() (endpoint string, ok bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.endpoints)
	if n == 0 {
		return "", false
	}
	now := r.clock.Now()
	for i := 0; i < n; i++ {
		candidate := r.endpoints[r.cursor]
		r.cursor = (r.cursor + 1) % n
		until, listed := r.blacklist[candidate]
		if listed && now.Before(until) {
			continue
		}
		if listed {
			delete(r.blacklist, candidate)
		}
		return candidate, true
	}
	return "", false
}

// BlacklistProxy parks endpoint until now+cooldown. Calling it again while the
// endpoint is parked restarts the cooldown from now.
func (r *Rotator) BlacklistProxy(endpoint string) {
	if r == nil || endpoint == "" {
		return
	}
	r.mu.Lock()
	until := r.clock.Now().Add(r.cooldown)
	r.blacklist[endpoint] = until
	r.mu.Unlock()

	r.logger.Warn("proxy blacklisted",
		zap.String("proxy", redact(endpoint)),
		zap.Time("until", until),
	)
}

// Blacklisted reports whether endpoint is currently cooling down.
func (r *Rotator) Blacklisted(endpoint string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.blacklist[endpoint]
	return ok && r.clock.Now().Before(until)
}
