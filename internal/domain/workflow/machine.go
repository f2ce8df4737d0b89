package workflow

import (
	"fmt"
	"sort"
)

// StateMachine tracks the status of a single invoice while a command runs
type StateMachine interface {
	// Status returns the current status
	Status() Status

	// CanFire returns true if the trigger is permitted from the current status
	CanFire(trigger Trigger) bool

	// Fire moves the machine to the trigger's target status
	Fire(trigger Trigger) error

	// PermittedTriggers returns the triggers available from the current status
	PermittedTriggers() []Trigger
}

type stateMachine struct {
	current Status
	table   map[Status]map[Trigger]Status
}

// Status returns the current status
func (m *stateMachine) Status() Status {
	return m.current
}

// CanFire returns true if the trigger is permitted from the current status
func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.table[m.current][trigger]
	return ok
}

// Fire moves the machine to the trigger's target status
func (m *stateMachine) Fire(trigger Trigger) error {
	to, ok := m.table[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from status %s", ErrInvalidTransition, trigger, m.current)
	}

	m.current = to
	return nil
}

// PermittedTriggers returns the triggers available from the current status, sorted
func (m *stateMachine) PermittedTriggers() []Trigger {
	transitions := m.table[m.current]
	triggers := make([]Trigger, 0, len(transitions))
	for trigger := range transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
