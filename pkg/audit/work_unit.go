// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"sync"
	"time"
)

// WorkState is the delivery state of a WorkUnit.
type WorkState int

const (
	StatePending WorkState = iota
	StateInFlight
	StateFailed
	StateExhausted
	StateDelivered
	StateDropped
)

func (s WorkState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted"
	case StateDelivered:
		return "delivered"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s WorkState) Terminal() bool {
	return s == StateExhausted || s == StateDelivered || s == StateDropped
}

// WorkUnit owns one sealed event on its way to the sink. Retry bookkeeping
// lives here rather than on the event, and the sealed envelope is reused
// unchanged for every attempt.
type WorkUnit struct {
	id          string
	eventType   EventType
	action      Action
	sensitivity Sensitivity
	critical    bool
	env         *Envelope

	mu         sync.Mutex
	state      WorkState
	failures   int
	maxRetries int

	// Owned by the Batcher and only touched under its mutex.
	enqueuedAt time.Time
	seq        uint64
}

func newWorkUnit(e *Event, critical bool, maxRetries int) *WorkUnit {
	return &WorkUnit{
		id:          e.ID,
		eventType:   e.Type,
		action:      e.Action,
		sensitivity: e.Sensitivity,
		critical:    critical,
		state:       StatePending,
		maxRetries:  maxRetries,
	}
}

func (u *WorkUnit) ID() string { return u.id }

// Envelope returns the sealed payload, or nil before sealing.
func (u *WorkUnit) Envelope() *Envelope { return u.env }

func (u *WorkUnit) Critical() bool { return u.critical }

// State returns the current state and the number of failed attempts so far.
func (u *WorkUnit) State() (WorkState, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, u.failures
}

// Retries returns how many failed attempts the unit has accumulated.
func (u *WorkUnit) Retries() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failures
}

// Begin moves Pending to InFlight.
func (u *WorkUnit) Begin() error {
	return u.transition(StateInFlight, StatePending)
}

// Succeed moves InFlight to Delivered.
func (u *WorkUnit) Succeed() error {
	return u.transition(StateDelivered, StateInFlight)
}

// Fail records a failed attempt. The unit becomes Failed(n) while n stays
// within maxRetries and Exhausted once it would exceed it.
func (u *WorkUnit) Fail() (WorkState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateInFlight {
		return u.state, u.invalid(StateFailed)
	}
	if u.failures+1 > u.maxRetries {
		u.state = StateExhausted
		return u.state, nil
	}
	u.failures++
	u.state = StateFailed
	return u.state, nil
}

// Requeue moves Failed back to Pending.
func (u *WorkUnit) Requeue() error {
	return u.transition(StatePending, StateFailed)
}

// Exhaust forces a non-terminal unit to Exhausted. Used when the pipeline
// stops with the unit still queued.
func (u *WorkUnit) Exhaust() error {
	return u.transition(StateExhausted, StatePending, StateInFlight, StateFailed)
}

// Drop marks the unit as abandoned without delivery.
func (u *WorkUnit) Drop() error {
	return u.transition(StateDropped, StatePending, StateInFlight)
}

func (u *WorkUnit) transition(to WorkState, from ...WorkState) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range from {
		if u.state == f {
			u.state = to
			return nil
		}
	}
	return u.invalid(to)
}

func (u *WorkUnit) invalid(to WorkState) error {
	return fmt.Errorf("%w: %s -> %s (event %s)", ErrInvalidTransition, u.state, to, u.id)
}
