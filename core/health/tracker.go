// Package health implements the per-provider health state machine: a
// consecutive-failure counter, an availability flag, and a backoff
// deadline, each guarded by its own per-provider lock. QPS windowing is
// deliberately out of scope here; that is the rate-limit ledger's
// concern, not the health tracker's.
package health

import (
	"sync"
	"time"
)

// DefaultMaxFailures is the consecutive-failure threshold past which a
// provider is marked unavailable.
const DefaultMaxFailures = 3

// DefaultBaseBackoff seeds the backoff formula min(base*2^(failures-1), cap).
const DefaultBaseBackoff = time.Second

// DefaultBackoffCap is the ceiling on the backoff formula.
const DefaultBackoffCap = 60 * time.Second

type state struct {
	mu                  sync.Mutex
	available           bool
	consecutiveFailures int
	lastError           string
	lastErrorAt         time.Time
}

// Tracker is the composition-root-owned registry of per-provider health
// state. A provider marked unavailable is never auto-reinstated; only an
// explicit Reset call reinstates it.
type Tracker struct {
	mu          sync.RWMutex
	providers   map[string]*state
	maxFailures int
	baseBackoff time.Duration
	backoffCap  time.Duration
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithMaxFailures(n int) Option        { return func(t *Tracker) { t.maxFailures = n } }
func WithBaseBackoff(d time.Duration) Option { return func(t *Tracker) { t.baseBackoff = d } }
func WithBackoffCap(d time.Duration) Option  { return func(t *Tracker) { t.backoffCap = d } }

// New creates a Tracker with default thresholds.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		providers:   make(map[string]*state),
		maxFailures: DefaultMaxFailures,
		baseBackoff: DefaultBaseBackoff,
		backoffCap:  DefaultBackoffCap,
		now:         time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) stateFor(provider string) *state {
	t.mu.RLock()
	s, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.providers[provider]; ok {
		return s
	}
	s = &state{available: true}
	t.providers[provider] = s
	return s
}

// RecordSuccess resets the consecutive-failure count and marks provider
// available.
func (t *Tracker) RecordSuccess(provider string) {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.available = true
}

// RecordFailure increments the consecutive-failure count, stores err, and
// marks provider unavailable once the threshold is reached.
func (t *Tracker) RecordFailure(provider string, err error) {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}
	s.lastErrorAt = t.now()
	if s.consecutiveFailures >= t.maxFailures {
		s.available = false
	}
}

// MarkUnavailable immediately marks provider unavailable without
// consuming the failure counter path, used for auth errors (a
// ProviderAuth failure is not retried; it marks the provider
// unavailable directly).
func (t *Tracker) MarkUnavailable(provider string, err error) {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = false
	if err != nil {
		s.lastError = err.Error()
	}
	s.lastErrorAt = t.now()
}

// backoff computes min(base*2^(failures-1), cap) for failures >= 1.
func (t *Tracker) backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := t.baseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= t.backoffCap {
			return t.backoffCap
		}
	}
	if d > t.backoffCap {
		return t.backoffCap
	}
	return d
}

// InBackoff reports whether provider is currently within its backoff
// window following a recorded failure.
func (t *Tracker) InBackoff(provider string) bool {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consecutiveFailures <= 0 {
		return false
	}
	deadline := s.lastErrorAt.Add(t.backoff(s.consecutiveFailures))
	return t.now().Before(deadline)
}

// Available reports the provider's availability flag.
func (t *Tracker) Available(provider string) bool {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Reset is the explicit administrative reinstatement operation: it
// clears the failure counter and marks the provider available again.
// The Router never calls this itself.
func (t *Tracker) Reset(provider string) bool {
	t.mu.RLock()
	_, existed := t.providers[provider]
	t.mu.RUnlock()

	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = true
	s.consecutiveFailures = 0
	s.lastError = ""
	return existed
}

// Snapshot is the read-only view exported to observers (status()).
type Snapshot struct {
	Available           bool
	ConsecutiveFailures int
	LastError           string
}

func (t *Tracker) Snapshot(provider string) Snapshot {
	s := t.stateFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Available:           s.available,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           s.lastError,
	}
}
