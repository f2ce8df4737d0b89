// Package authz decides which invoices an actor may see and which commands
// an actor may apply. Every role-conditioned decision in the service goes
// through Filter.
package authz

import (
	"context"
	"fmt"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// DelegateSource resolves the actors that currently delegate to an actor
type DelegateSource interface {
	GetActiveDelegatesFor(ctx context.Context, actorID string) ([]string, error)
}

// ActorSource looks up actors by ID; a missing actor is (nil, nil)
type ActorSource interface {
	GetByID(ctx context.Context, id string) (*entity.Actor, error)
}

// Filter is the single authorization and visibility gate
type Filter struct {
	delegates DelegateSource
	actors    ActorSource
}

// NewFilter creates a new authorization filter
func NewFilter(delegates DelegateSource, actors ActorSource) *Filter {
	return &Filter{
		delegates: delegates,
		actors:    actors,
	}
}

// Scope resolves the set of invoices an actor may read. It is computed once
// per request and then applied to any number of invoices.
func (f *Filter) Scope(ctx context.Context, actor *entity.Actor) (Scope, error) {
	if actor == nil {
		return Scope{}, nil
	}

	switch actor.Role {
	case entity.RoleAdmin, entity.RoleFinanceUser:
		return Scope{all: true}, nil

	case entity.RoleVendor:
		return Scope{submitterID: actor.ID}, nil

	case entity.RoleProjectManager:
		scope := Scope{
			pmID:     actor.ID,
			projects: make(map[string]struct{}),
		}
		for _, p := range actor.AssignedProjects {
			scope.projects[p] = struct{}{}
		}

		delegators, err := f.delegates.GetActiveDelegatesFor(ctx, actor.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("failed to resolve delegators for %s: %w", actor.ID, err)
		}
		// One hop only: the delegator's own delegators are not consulted
		for _, id := range delegators {
			delegator, err := f.actors.GetByID(ctx, id)
			if err != nil {
				return Scope{}, fmt.Errorf("failed to load delegator %s: %w", id, err)
			}
			if delegator == nil {
				continue
			}
			for _, p := range delegator.AssignedProjects {
				scope.projects[p] = struct{}{}
			}
		}
		return scope, nil

	default:
		return Scope{}, nil
	}
}

// VisibleInvoices returns the subset of invoices the actor may read, in input order
func (f *Filter) VisibleInvoices(ctx context.Context, actor *entity.Actor, invoices []*entity.Invoice) ([]*entity.Invoice, error) {
	scope, err := f.Scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	return scope.Filter(invoices), nil
}

// CanView returns true if the actor may read the invoice
func (f *Filter) CanView(ctx context.Context, actor *entity.Actor, inv *entity.Invoice) (bool, error) {
	scope, err := f.Scope(ctx, actor)
	if err != nil {
		return false, err
	}
	return scope.Allows(inv), nil
}

// CanApply enforces the per-command role and ownership rules. It does not
// check the invoice status; the lifecycle does that separately.
func (f *Filter) CanApply(ctx context.Context, actor *entity.Actor, cmd workflow.Command, inv *entity.Invoice) (bool, error) {
	if actor == nil || !actor.Role.IsValid() {
		return false, nil
	}

	switch cmd {
	case workflow.CommandSubmit:
		if actor.Role == entity.RoleAdmin {
			return true, nil
		}
		// A vendor may only submit as itself
		return actor.Role == entity.RoleVendor && inv != nil && inv.SubmittedByUserID == actor.ID, nil

	case workflow.CommandRunReconciliation,
		workflow.CommandAssignPM,
		workflow.CommandFinanceDecision,
		workflow.CommandMarkPaid:
		return actor.Role == entity.RoleAdmin || actor.Role == entity.RoleFinanceUser, nil

	case workflow.CommandPMDecision:
		return f.canDecideAsPM(ctx, actor, inv)

	case workflow.CommandReopen:
		return actor.Role == entity.RoleAdmin, nil

	case workflow.CommandUploadDocument, workflow.CommandView:
		return f.CanView(ctx, actor, inv)

	default:
		// Commands issued by trusted collaborators never go through an actor
		return false, nil
	}
}

// canDecideAsPM accepts the assigned PM, a current delegate of the assigned PM, or ADMIN.
// Nobody decides on an invoice they submitted.
func (f *Filter) canDecideAsPM(ctx context.Context, actor *entity.Actor, inv *entity.Invoice) (bool, error) {
	if inv != nil && inv.SubmittedByUserID == actor.ID {
		return false, nil
	}
	if actor.Role == entity.RoleAdmin {
		return true, nil
	}
	if inv == nil || inv.AssignedPMID == "" {
		return false, nil
	}
	if inv.AssignedPMID == actor.ID {
		return true, nil
	}

	if !CanReceiveDelegation(actor) {
		return false, nil
	}

	delegators, err := f.delegates.GetActiveDelegatesFor(ctx, actor.ID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve delegators for %s: %w", actor.ID, err)
	}
	for _, id := range delegators {
		if id == inv.AssignedPMID {
			return true, nil
		}
	}
	return false, nil
}

// Scope is a resolved read scope. The zero value sees nothing.
type Scope struct {
	all         bool
	submitterID string
	pmID        string
	projects    map[string]struct{}
}

// All returns true if the scope is unrestricted
func (s Scope) All() bool {
	return s.all
}

// Allows returns true if the invoice is inside the scope
func (s Scope) Allows(inv *entity.Invoice) bool {
	if inv == nil {
		return false
	}
	if s.all {
		return true
	}
	if s.submitterID != "" {
		return inv.SubmittedByUserID == s.submitterID
	}
	if s.pmID != "" {
		if inv.AssignedPMID == s.pmID {
			return true
		}
		if inv.ProjectID == "" {
			return false
		}
		_, ok := s.projects[inv.ProjectID]
		return ok
	}
	return false
}

// Filter returns the invoices inside the scope
func (s Scope) Filter(invoices []*entity.Invoice) []*entity.Invoice {
	visible := make([]*entity.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if s.Allows(inv) {
			visible = append(visible, inv)
		}
	}
	return visible
}

// CanManageDelegation returns true if the actor may set or revoke the
// delegation owned by fromActorID. Project managers manage their own
// delegation; ADMIN manages anyone's.
func CanManageDelegation(actor *entity.Actor, fromActorID string) bool {
	if actor == nil || fromActorID == "" {
		return false
	}

	switch actor.Role {
	case entity.RoleAdmin:
		return true
	case entity.RoleProjectManager:
		return actor.ID == fromActorID
	case entity.RoleFinanceUser, entity.RoleVendor:
		return false
	default:
		return false
	}
}

// CanReceiveDelegation returns true if the actor may hold another project
// manager's approval authority
func CanReceiveDelegation(actor *entity.Actor) bool {
	if actor == nil {
		return false
	}
	return actor.Role == entity.RoleProjectManager || actor.Role == entity.RoleAdmin
}
