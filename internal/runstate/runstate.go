// Package runstate holds the run lifecycle:
//
//	queued ──start──▶ in_progress ──complete──▶ completed
//	   │                  │
//	   ├──fail────────────┴──fail──▶ failed
//	   └──cancel──────────┴──cancel▶ cancelled
//
// completed, failed and cancelled are terminal.
package runstate

import (
	"context"
	"fmt"

	"apex/internal/domain"
	"apex/internal/domain/models"

	"github.com/qmuntal/stateless"
)

// Trigger is a lifecycle event
type Trigger stateless.Trigger

var (
	TriggerStart    Trigger = "start"
	TriggerComplete Trigger = "complete"
	TriggerFail     Trigger = "fail"
	TriggerCancel   Trigger = "cancel"
)

// triggerFor returns the trigger that leads into status
func triggerFor(status models.RunStatus) (Trigger, bool) {
	switch status {
	case models.RunStatusInProgress:
		return TriggerStart, true
	case models.RunStatusCompleted:
		return TriggerComplete, true
	case models.RunStatusFailed:
		return TriggerFail, true
	case models.RunStatusCancelled:
		return TriggerCancel, true
	}
	return nil, false
}

// NewMachine returns a lifecycle machine positioned at status
func NewMachine(status models.RunStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)

	sm.Configure(models.RunStatusQueued).
		Permit(TriggerStart, models.RunStatusInProgress).
		Permit(TriggerFail, models.RunStatusFailed).
		Permit(TriggerCancel, models.RunStatusCancelled)

	sm.Configure(models.RunStatusInProgress).
		Permit(TriggerComplete, models.RunStatusCompleted).
		Permit(TriggerFail, models.RunStatusFailed).
		Permit(TriggerCancel, models.RunStatusCancelled)

	// Terminal states are configured without transitions
	sm.Configure(models.RunStatusCompleted)
	sm.Configure(models.RunStatusFailed)
	sm.Configure(models.RunStatusCancelled)

	return sm
}

// Transition checks that a run may move from one status to another.
// The returned error wraps domain.ErrInvalidTransition.
func Transition(from, to models.RunStatus) error {
	if from == to {
		return fmt.Errorf("run is already %s: %w", from, domain.ErrInvalidTransition)
	}

	trigger, ok := triggerFor(to)
	if !ok {
		return fmt.Errorf("cannot move run from %s to %s: %w", from, to, domain.ErrInvalidTransition)
	}

	sm := NewMachine(from)
	if err := sm.Fire(trigger); err != nil {
		return fmt.Errorf("cannot move run from %s to %s: %w", from, to, domain.ErrInvalidTransition)
	}

	state, err := sm.State(context.Background())
	if err != nil || state != to {
		return fmt.Errorf("cannot move run from %s to %s: %w", from, to, domain.ErrInvalidTransition)
	}

	return nil
}

// CanTransition reports whether Transition would succeed
func CanTransition(from, to models.RunStatus) bool {
	return Transition(from, to) == nil
}
