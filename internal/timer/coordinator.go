// Package timer elects a single client to drive a phase countdown.
//
// Ownership is a convention, not a lock: every client evaluates
// CanTakeOwnership against the last snapshot it saw, and a lost race is
// corrected on the next update because every write replaces the whole meta
// of the same phase instance.
package timer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"memematch/internal/domain"
)

// DefaultHeartbeatTimeout is how long a host may go silent before another client takes over
const DefaultHeartbeatTimeout = 5 * time.Second

// Clock abstracts time for the coordinator and its callers
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time { return time.Now() }

// Coordinator evaluates and produces timer metadata on behalf of one user
type Coordinator struct {
	userID           string
	clock            Clock
	heartbeatTimeout time.Duration
}

// NewCoordinator creates a coordinator for userID
func NewCoordinator(userID string, clock Clock, heartbeatTimeout time.Duration) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Coordinator{
		userID:           userID,
		clock:            clock,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// UserID returns the user the coordinator acts for
func (c *Coordinator) UserID() string {
	return c.userID
}

// IsHost reports whether the caller is the recorded host
func (c *Coordinator) IsHost(meta *domain.TimerMeta) bool {
	return meta != nil && meta.HostID == c.userID
}

// IsStale reports whether the recorded host has missed its heartbeat window
func (c *Coordinator) IsStale(meta *domain.TimerMeta) bool {
	if meta == nil {
		return false
	}
	last := time.UnixMilli(meta.LastHeartbeat)
	return c.clock.Now().Sub(last) > c.heartbeatTimeout
}

// CanTakeOwnership reports whether the caller may drive the countdown
func (c *Coordinator) CanTakeOwnership(meta *domain.TimerMeta) bool {
	if meta == nil {
		return true
	}
	return c.IsHost(meta) || c.IsStale(meta)
}

// Create starts a fresh phase instance owned by the caller
func (c *Coordinator) Create(duration time.Duration, phase domain.Phase, roundNumber int) domain.TimerMeta {
	now := c.clock.Now().UnixMilli()
	return domain.TimerMeta{
		HostID:          c.userID,
		TimerStartTime:  now,
		ExpectedEndTime: now + duration.Milliseconds(),
		PhaseID:         NewPhaseID(phase, roundNumber, now),
		LastHeartbeat:   now,
	}
}

// TakeOver hands an existing phase instance to the caller, keeping its deadline
func (c *Coordinator) TakeOver(meta domain.TimerMeta) domain.TimerMeta {
	meta.HostID = c.userID
	meta.LastHeartbeat = c.clock.Now().UnixMilli()
	return meta
}

// TimeLeft derives remaining whole seconds from the deadline, never from a local counter
func (c *Coordinator) TimeLeft(meta *domain.TimerMeta) int {
	if meta == nil {
		return 0
	}
	remaining := meta.ExpectedEndTime - c.clock.Now().UnixMilli()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / 1000))
}

// Heartbeat bumps lastHeartbeat when the caller is the host.
// ok is false when the caller does not own the meta.
func (c *Coordinator) Heartbeat(meta *domain.TimerMeta) (updated domain.TimerMeta, ok bool) {
	if !c.IsHost(meta) {
		if meta != nil {
			return *meta, false
		}
		return domain.TimerMeta{}, false
	}
	updated = *meta
	updated.LastHeartbeat = c.clock.Now().UnixMilli()
	return updated, true
}

// NewPhaseID builds an id unique to a phase instance
func NewPhaseID(phase domain.Phase, roundNumber int, createdAt int64) string {
	return fmt.Sprintf("%s_%d_%d_%s", phase, roundNumber, createdAt, uuid.NewString()[:8])
}
