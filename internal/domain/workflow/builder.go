package workflow

import "fmt"

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns the configuration for transitions leaving the given status
	Configure(status Status) StateConfiguration

	// Build creates a new state machine positioned at the given status
	Build(initial Status) StateMachine
}

// StateConfiguration configures transitions for a specific status
type StateConfiguration interface {
	// Permit allows a trigger to move the machine to the target status
	Permit(trigger Trigger, to Status) StateConfiguration
}

type stateConfig struct {
	from        Status
	transitions map[Trigger]Status
}

type stateMachineBuilder struct {
	configurations map[Status]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[Status]*stateConfig),
	}
}

// Configure returns the configuration for the given status.
// Panics on a non-canonical status; the table is static wiring.
func (b *stateMachineBuilder) Configure(status Status) StateConfiguration {
	if !status.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &stateConfig{
			from:        status,
			transitions: make(map[Trigger]Status),
		}
		b.configurations[status] = config
	}

	return config
}

// Build creates a state machine with its own copy of the transition table
func (b *stateMachineBuilder) Build(initial Status) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial status: %s", initial))
	}

	table := make(map[Status]map[Trigger]Status, len(b.configurations))
	for status, config := range b.configurations {
		transitions := make(map[Trigger]Status, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		table[status] = transitions
	}

	return &stateMachine{
		current: initial,
		table:   table,
	}
}

// Permit allows a trigger to move the machine to the target status.
// Terminal statuses cannot be given outgoing transitions.
func (c *stateConfig) Permit(trigger Trigger, to Status) StateConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}
	if c.from.IsTerminal() {
		panic(fmt.Sprintf("terminal status %s cannot have transitions", c.from))
	}
	if existing, ok := c.transitions[trigger]; ok && existing != to {
		panic(fmt.Sprintf("trigger %s from %s already targets %s", trigger, c.from, existing))
	}

	c.transitions[trigger] = to
	return c
}
