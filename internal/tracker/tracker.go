// Package tracker provides in-process, advisory tracking of in-flight
// operations. It is diagnostic only: nothing in the processing or reversal
// path may depend on it for correctness, and it does not survive a restart.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nuid"
)

// Stage is one recorded step of an in-flight operation
type Stage struct {
	Name       string        `json:"name"`
	At         time.Time     `json:"at"`
	SinceStart time.Duration `json:"since_start"`
}

// Operation is the tracked state for one token
type Operation struct {
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
	Stages    []Stage   `json:"stages"`
	Done      bool      `json:"done"`
	expiresAt time.Time
}

// Tracker is a TTL-evicting concurrent map of in-flight operations keyed by
// token. It is injected as a dependency, never shared across processes.
type Tracker struct {
	mu         sync.Mutex
	operations map[string]*Operation
	ttl        time.Duration
	now        func() time.Time
}

// New creates a tracker whose entries expire ttl after their last update
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Tracker{
		operations: make(map[string]*Operation),
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewToken generates an operation token: wall-clock millis plus a short
// random suffix. Human-sortable, not a security boundary.
func NewToken() string {
	suffix := nuid.Next()
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("%d-%s", time.Now().UTC().UnixMilli(), suffix)
}

// Start begins tracking a token
func (t *Tracker) Start(token string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(now)
	t.operations[token] = &Operation{
		Token:     token,
		StartedAt: now,
		expiresAt: now.Add(t.ttl),
	}
}

// Stage records a named stage transition for a token. Unknown tokens are
// ignored; the tracker must never fail an operation.
func (t *Tracker) Stage(token, name string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[token]
	if !ok {
		return
	}
	op.Stages = append(op.Stages, Stage{
		Name:       name,
		At:         now,
		SinceStart: now.Sub(op.StartedAt),
	})
	op.expiresAt = now.Add(t.ttl)
}

// Finish marks a token's operation complete
func (t *Tracker) Finish(token string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if op, ok := t.operations[token]; ok {
		op.Done = true
		op.expiresAt = now.Add(t.ttl)
	}
}

// Lookup returns a copy of the tracked operation, if still present
func (t *Tracker) Lookup(token string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[token]
	if !ok {
		return Operation{}, false
	}
	copied := *op
	copied.Stages = append([]Stage(nil), op.Stages...)
	return copied, true
}

// Len reports the number of live entries after eviction
func (t *Tracker) Len() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(now)
	return len(t.operations)
}

func (t *Tracker) evictLocked(now time.Time) {
	for token, op := range t.operations {
		if now.After(op.expiresAt) {
			delete(t.operations, token)
		}
	}
}
