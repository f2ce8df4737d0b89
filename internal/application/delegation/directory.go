// Package delegation tracks time-bound grants of one project manager's
// approval scope to another actor.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/authz"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

const day = 24 * time.Hour

// DefaultMaxDurationDays caps a delegation when no limit is configured
const DefaultMaxDurationDays = 365

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// AuditRecorder records accepted delegation changes
type AuditRecorder interface {
	Record(ctx context.Context, entry *entity.AuditEntry)
}

// Directory owns the per-actor delegation records
type Directory struct {
	repo   port.DelegationRepository
	actors port.ActorRepository
	audit  AuditRecorder
	logger Logger
	now    func() time.Time

	maxDays int
}

// Option configures the directory
type Option func(*Directory)

// WithClock sets the clock used for expiry; tests move it forward
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		d.now = now
	}
}

// WithMaxDurationDays sets the longest delegation SetDelegation accepts.
// Values below one keep the default.
func WithMaxDurationDays(days int) Option {
	return func(d *Directory) {
		if days >= 1 {
			d.maxDays = days
		}
	}
}

// NewDirectory creates a delegation directory
func NewDirectory(repo port.DelegationRepository, actors port.ActorRepository, audit AuditRecorder, logger Logger, opts ...Option) *Directory {
	d := &Directory{
		repo:   repo,
		actors: actors,
		audit:  audit,
		logger: logger,
		now:    time.Now,

		maxDays: DefaultMaxDurationDays,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetDelegation replaces the calling actor's delegation with a new one to
// toActorID lasting durationDays, at most the configured maximum. The
// delegate must be a project manager or admin. The previous record, if any, is superseded
// in the same versioned write.
func (d *Directory) SetDelegation(ctx context.Context, actor *entity.Actor, toActorID string, durationDays int) (*entity.Delegation, error) {
	cmd := workflow.CommandSetDelegation
	if actor == nil || !authz.CanManageDelegation(actor, actor.ID) {
		return nil, workflow.NewError(workflow.KindUnauthorized, "", cmd, "actor may not delegate approval authority")
	}
	if durationDays < 1 {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "duration must be at least one day, got %d", durationDays)
	}
	if durationDays > d.maxDays {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "duration may not exceed %d days, got %d", d.maxDays, durationDays)
	}
	if toActorID == "" || toActorID == actor.ID {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "delegate must be another actor")
	}

	target, err := d.actors.GetByID(ctx, toActorID)
	if err != nil {
		return nil, fmt.Errorf("get delegate %s: %w", toActorID, err)
	}
	if target == nil {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "delegate %q does not exist", toActorID)
	}
	if !authz.CanReceiveDelegation(target) {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd,
			"delegate %q has role %s; only project managers and admins can receive approval authority", toActorID, target.Role)
	}

	current, err := d.repo.Get(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get delegation for %s: %w", actor.ID, err)
	}

	var expected int64
	superseded := ""
	if current != nil {
		expected = current.Version
		if current.IsActiveAt(d.now()) {
			superseded = current.ToActorID
		}
	}

	now := d.now()
	rec := &entity.Delegation{
		FromActorID: actor.ID,
		ToActorID:   toActorID,
		ExpiresAt:   now.Add(time.Duration(durationDays) * day),
		Active:      true,
		CreatedAt:   now,
	}

	if err := d.save(ctx, rec, expected, cmd); err != nil {
		return nil, err
	}

	details := fmt.Sprintf("%s delegated to %s until %s", actor.ID, toActorID, rec.ExpiresAt.UTC().Format(time.RFC3339))
	if superseded != "" {
		details += fmt.Sprintf(" (supersedes delegation to %s)", superseded)
	}
	d.record(ctx, actor, entity.ActionDelegationSet, details)

	d.logger.Info("Delegation set",
		"from_actor_id", actor.ID,
		"to_actor_id", toActorID,
		"expires_at", rec.ExpiresAt,
	)
	return rec, nil
}

// Revoke deactivates fromActorID's delegation without a replacement
func (d *Directory) Revoke(ctx context.Context, actor *entity.Actor, fromActorID string) error {
	cmd := workflow.CommandRevokeDelegation
	if !authz.CanManageDelegation(actor, fromActorID) {
		return workflow.NewError(workflow.KindUnauthorized, "", cmd, "actor may not revoke delegation of %s", fromActorID)
	}

	current, err := d.repo.Get(ctx, fromActorID)
	if err != nil {
		return fmt.Errorf("get delegation for %s: %w", fromActorID, err)
	}
	if current == nil || !current.Active {
		return workflow.NewError(workflow.KindValidation, "", cmd, "%s has no active delegation", fromActorID)
	}

	rec := *current
	rec.Active = false
	if err := d.save(ctx, &rec, current.Version, cmd); err != nil {
		return err
	}

	d.record(ctx, actor, entity.ActionDelegationRevoked,
		fmt.Sprintf("%s revoked delegation of %s to %s", actor.ID, fromActorID, current.ToActorID))

	d.logger.Info("Delegation revoked", "from_actor_id", fromActorID, "revoked_by", actor.ID)
	return nil
}

// GetActiveDelegatesFor returns the IDs of actors currently delegating to
// actorID. Expiry is checked against the clock at read time.
func (d *Directory) GetActiveDelegatesFor(ctx context.Context, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, nil
	}

	records, err := d.repo.ListActiveTo(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("list delegations to %s: %w", actorID, err)
	}

	now := d.now()
	delegators := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.IsActiveAt(now) && rec.ToActorID == actorID {
			delegators = append(delegators, rec.FromActorID)
		}
	}
	sort.Strings(delegators)
	return delegators, nil
}

// Get returns the current record for a source actor, or nil
func (d *Directory) Get(ctx context.Context, fromActorID string) (*entity.Delegation, error) {
	rec, err := d.repo.Get(ctx, fromActorID)
	if err != nil {
		return nil, fmt.Errorf("get delegation for %s: %w", fromActorID, err)
	}
	return rec, nil
}

func (d *Directory) save(ctx context.Context, rec *entity.Delegation, expected int64, cmd workflow.Command) error {
	if err := d.repo.Save(ctx, rec, expected); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return workflow.NewError(workflow.KindConcurrentModification, "", cmd,
				"delegation of %s changed concurrently", rec.FromActorID)
		}
		return fmt.Errorf("save delegation for %s: %w", rec.FromActorID, err)
	}
	return nil
}

func (d *Directory) record(ctx context.Context, actor *entity.Actor, action, details string) {
	if d.audit == nil {
		return
	}
	d.audit.Record(ctx, &entity.AuditEntry{
		ActorName: actor.DisplayName(),
		Action:    action,
		Details:   details,
		Timestamp: d.now(),
	})
}
