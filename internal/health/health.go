// Package health implements the Health & Circuit Breaker component from
// spec.md §4.5: per-provider consecutive-failure counters, an open/closed
// breaker keyed by provider id, and the auth-invalid sticky flag tied to key
// identity. It generalises the teacher gateway's CircuitBreaker
// (internal/proxy/circuitbreaker.go) from a 3-state (closed/open/half-open)
// breaker to the simpler 2-state (closed/open, with implicit half-open-on-
// next-attempt) state machine spec.md §4.5 describes, and adds the
// auth-invalid / key-hash bookkeeping the teacher breaker does not need.
package health

import (
	"sync"
	"time"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

// Threshold and OpenDuration are the fixed constants from spec.md §4.5.
const (
	Threshold    uint32        = 3
	OpenDuration time.Duration = 60 * time.Second
)

type entry struct {
	mu sync.Mutex
	domain.ProviderHealth
}

// Table is the per-provider health/circuit-breaker table. It is the
// router's exclusive mutable state per spec.md §3 "Ownership" — hosts reach
// it only through the Router, never directly.
type Table struct {
	mu    sync.RWMutex
	byID  map[domain.ProviderId]*entry
	clock func() time.Time
}

// New creates an empty Table. Health records are created lazily on first
// mention of a provider, per spec.md §3 "Lifecycle".
func New() *Table {
	return &Table{byID: make(map[domain.ProviderId]*entry), clock: time.Now}
}

// NewWithClock creates a Table using a custom clock — for deterministic
// breaker-timeout tests.
func NewWithClock(clock func() time.Time) *Table {
	return &Table{byID: make(map[domain.ProviderId]*entry), clock: clock}
}

func (t *Table) get(id domain.ProviderId) *entry {
	t.mu.RLock()
	e, ok := t.byID[id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		return e
	}
	e = &entry{}
	t.byID[id] = e
	return e
}

func (t *Table) now() int64 { return t.clock().UnixMilli() }

// IsBlocked implements the isBlocked(provider) predicate from spec.md §4.5.
func (t *Table) IsBlocked(id domain.ProviderId) bool {
	e := t.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.BlockedUntilMs > t.now()
}

// Snapshot returns a copy of the current health record for id, for
// diagnostics.
func (t *Table) Snapshot(id domain.ProviderId) domain.ProviderHealth {
	e := t.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ProviderHealth
}

// SnapshotAll returns a copy of every tracked provider's health record.
func (t *Table) SnapshotAll() map[domain.ProviderId]domain.ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[domain.ProviderId]domain.ProviderHealth, len(t.byID))
	for id, e := range t.byID {
		e.mu.Lock()
		out[id] = e.ProviderHealth
		e.mu.Unlock()
	}
	return out
}

// ObserveKeyHash implements the "cleared only when the key hash observed on
// the next attempt differs from lastKeyHash" rule from spec.md §4.5/§8
// invariant 8. Call it once per attempt, immediately before invoking the
// adapter, with the key hash resolved for that attempt.
func (t *Table) ObserveKeyHash(id domain.ProviderId, keyHash int64) {
	e := t.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.LastKeyHash != nil && *e.LastKeyHash != keyHash {
		e.AuthInvalid = false
	}
	h := keyHash
	e.LastKeyHash = &h
}

// RecordSuccess implements "Any state --success--> CLOSED (failures=0,
// blockedUntilMs=0)" and accumulates the cumulative counters from spec.md §3.
func (t *Table) RecordSuccess(id domain.ProviderId, tokensIn, tokensOut int64) {
	e := t.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ConsecutiveFailures = 0
	e.BlockedUntilMs = 0
	e.CumulativeCalls++
	if tokensIn > 0 {
		e.CumulativeTokensIn += uint64(tokensIn)
	}
	if tokensOut > 0 {
		e.CumulativeTokensOut += uint64(tokensOut)
	}
	if tokensIn > 0 || tokensOut > 0 {
		e.CumulativeTotalTokens += uint64(tokensIn) + uint64(tokensOut)
	}
}

// RecordFailure implements the CLOSED--failure-->CLOSED/OPEN transition from
// spec.md §4.5. isAuth marks the failure as an authentication error, setting
// the sticky authInvalid flag.
func (t *Table) RecordFailure(id domain.ProviderId, isAuth bool) {
	e := t.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ConsecutiveFailures++
	if e.ConsecutiveFailures >= Threshold {
		e.BlockedUntilMs = t.now() + OpenDuration.Milliseconds()
	}
	if isAuth {
		e.AuthInvalid = true
	}
}
