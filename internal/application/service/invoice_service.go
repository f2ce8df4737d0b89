package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/application/dispatcher"
	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/authz"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/event"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// ErrInvoiceNotFound is returned when the invoice ID does not exist
var ErrInvoiceNotFound = errors.New("invoice not found")

const defaultListLimit = 50

// Authorizer is the part of authz.Filter the lifecycle depends on
type Authorizer interface {
	Scope(ctx context.Context, actor *entity.Actor) (authz.Scope, error)
	CanApply(ctx context.Context, actor *entity.Actor, cmd workflow.Command, inv *entity.Invoice) (bool, error)
}

// Reconciler runs the three-way match
type Reconciler interface {
	Reconcile(inv *entity.Invoice, po *entity.PurchaseOrder, gr *entity.GoodsReceipt) (*entity.MatchResult, error)
}

// SubmitInvoiceInput carries a new invoice. SubmittedByUserID is honoured
// for ADMIN only; everyone else submits as themselves.
type SubmitInvoiceInput struct {
	SubmittedByUserID string
	VendorID          string
	Amount            decimal.Decimal
	Currency          string
	InvoiceDate       time.Time
	PONumber          string
	ProjectID         string
	LineItems         []entity.LineItem
	SourceFileName    string
	SourceContent     []byte
}

// ExtractionEvent is the trusted progress report from the extraction collaborator
type ExtractionEvent struct {
	InvoiceID       string                 `json:"invoiceId"`
	Status          workflow.Status        `json:"status"`
	ExtractedFields map[string]interface{} `json:"extractedFields"`
}

// ListOptions narrows ListInvoices
type ListOptions struct {
	Status workflow.Status
	Limit  int
	Offset int
}

// InvoiceService owns the invoice lifecycle: every state-changing command
// and the visibility-filtered reads
type InvoiceService interface {
	SubmitInvoice(ctx context.Context, actor *entity.Actor, input SubmitInvoiceInput) (*entity.Invoice, error)
	ApplyExtractionEvent(ctx context.Context, evt ExtractionEvent) (*entity.Invoice, error)
	RunReconciliation(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error)
	AssignProjectManager(ctx context.Context, actor *entity.Actor, invoiceID, pmID string) (*entity.Invoice, error)
	RecordFinanceDecision(ctx context.Context, actor *entity.Actor, invoiceID string, decision workflow.Decision, notes string) (*entity.Invoice, error)
	RecordPMDecision(ctx context.Context, actor *entity.Actor, invoiceID string, decision workflow.Decision, notes string) (*entity.Invoice, error)
	MarkPaid(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error)
	Reopen(ctx context.Context, actor *entity.Actor, invoiceID, reason string) (*entity.Invoice, error)

	GetInvoice(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error)
	ListInvoices(ctx context.Context, actor *entity.Actor, opts ListOptions) ([]*entity.Invoice, error)
	AuditTrail(ctx context.Context, actor *entity.Actor, invoiceID string) ([]*entity.AuditEntry, error)
}

type invoiceServiceImpl struct {
	invoiceRepo     port.InvoiceRepository
	procurement     port.ProcurementRepository
	actors          port.ActorRepository
	authorizer      Authorizer
	reconciler      Reconciler
	audit           AuditService
	dispatcher      dispatcher.Dispatcher
	storage         port.FileStorage
	logger          Logger
	now             func() time.Time
	requireOverride bool
}

// InvoiceOption configures the invoice service
type InvoiceOption func(*invoiceServiceImpl)

// WithClock sets the clock used for decision timestamps
func WithClock(now func() time.Time) InvoiceOption {
	return func(s *invoiceServiceImpl) {
		s.now = now
	}
}

// WithDispatcher enables event emission after each accepted command
func WithDispatcher(d dispatcher.Dispatcher) InvoiceOption {
	return func(s *invoiceServiceImpl) {
		s.dispatcher = d
	}
}

// WithFileStorage enables storing a source document at submission
func WithFileStorage(storage port.FileStorage) InvoiceOption {
	return func(s *invoiceServiceImpl) {
		s.storage = storage
	}
}

// WithOverrideJustification controls whether finance must give notes when
// approving an invoice that did not match
func WithOverrideJustification(required bool) InvoiceOption {
	return func(s *invoiceServiceImpl) {
		s.requireOverride = required
	}
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo port.InvoiceRepository,
	procurement port.ProcurementRepository,
	actors port.ActorRepository,
	authorizer Authorizer,
	reconciler Reconciler,
	audit AuditService,
	logger Logger,
	opts ...InvoiceOption,
) InvoiceService {
	s := &invoiceServiceImpl{
		invoiceRepo:     invoiceRepo,
		procurement:     procurement,
		actors:          actors,
		authorizer:      authorizer,
		reconciler:      reconciler,
		audit:           audit,
		logger:          logger,
		now:             time.Now,
		requireOverride: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notification is an event to emit once the write has committed
type notification struct {
	eventType  event.Type
	recipients []string
	notes      string
}

// change describes what a command did, for audit and events
type change struct {
	action        string
	details       string
	notifications []notification
}

// mutation fires triggers on m and mutates inv, a private copy
type mutation func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error)

// apply runs one command: load, authorize, mutate a copy, CAS write, audit, events.
// A nil actor marks a trusted collaborator and skips authorization. Terminal
// invoices fail with InvalidTransition before any role check.
func (s *invoiceServiceImpl) apply(ctx context.Context, actor *entity.Actor, invoiceID string, cmd workflow.Command, fn mutation) (*entity.Invoice, error) {
	current, err := s.load(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return nil, workflow.NewError(workflow.KindInvalidTransition, invoiceID, cmd, "invoice is closed in status %s", current.Status)
	}

	if actor != nil || cmd != workflow.CommandApplyExtraction {
		if err := s.authorize(ctx, actor, cmd, current); err != nil {
			return nil, err
		}
	}

	next := current.Clone()
	machine := workflow.NewInvoiceMachine(current.Status)

	ch, err := fn(ctx, next, machine)
	if err != nil {
		return nil, err
	}
	next.Status = machine.Status()
	next.UpdatedAt = s.now()

	if err := s.invoiceRepo.Update(ctx, next, current.Version); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return nil, workflow.NewError(workflow.KindConcurrentModification, invoiceID, cmd,
				"invoice changed since version %d was read", current.Version)
		}
		s.logger.Error("Failed to update invoice", "error", err, "invoice_id", invoiceID, "command", cmd)
		return nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}

	s.logger.Info("Invoice command applied",
		"invoice_id", invoiceID,
		"command", cmd,
		"from_status", current.Status,
		"to_status", next.Status,
		"version", next.Version,
	)

	actorName := entity.ExtractionActorName
	actorID := ""
	if actor != nil {
		actorName = actor.DisplayName()
		actorID = actor.ID
	}

	s.audit.Record(ctx, &entity.AuditEntry{
		InvoiceID: invoiceID,
		ActorName: actorName,
		Action:    ch.action,
		Details:   ch.details,
		Timestamp: next.UpdatedAt,
	})

	s.emit(ctx, cmd, actorID, current.Status, next, ch.notifications)
	return next, nil
}

func (s *invoiceServiceImpl) load(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvoiceNotFound)
	}
	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		s.logger.Error("Failed to get invoice", "error", err, "invoice_id", invoiceID)
		return nil, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	return inv, nil
}

func (s *invoiceServiceImpl) authorize(ctx context.Context, actor *entity.Actor, cmd workflow.Command, inv *entity.Invoice) error {
	if actor == nil {
		return workflow.NewError(workflow.KindUnauthorized, inv.ID, cmd, "no actor")
	}
	ok, err := s.authorizer.CanApply(ctx, actor, cmd, inv)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", cmd, err)
	}
	if !ok {
		return workflow.NewError(workflow.KindUnauthorized, inv.ID, cmd,
			"actor %s (%s) may not apply this command", actor.ID, actor.Role)
	}
	return nil
}

// emit dispatches the status change and notification events sharing one correlation ID
func (s *invoiceServiceImpl) emit(ctx context.Context, cmd workflow.Command, actorID string, from workflow.Status, inv *entity.Invoice, notifications []notification) {
	if s.dispatcher == nil {
		return
	}

	correlationID := uuid.NewString()

	if from != inv.Status {
		s.dispatcher.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeInvoiceStatusChanged, inv.ID,
			map[string]interface{}{
				event.KeyFromStatus: from.String(),
				event.KeyToStatus:   inv.Status.String(),
				event.KeyActorID:    actorID,
				event.KeyCommand:    cmd.String(),
			}, correlationID))
	}

	for _, n := range notifications {
		evt := event.NewNotification(n.eventType, inv.ID, correlationID, n.recipients...).
			WithPayload(event.KeyActorID, actorID).
			WithPayload(event.KeyToStatus, inv.Status.String())
		if n.notes != "" {
			evt = evt.WithPayload(event.KeyNotes, n.notes)
		}
		s.dispatcher.DispatchAsync(ctx, evt)
	}
}

// fire applies the triggers or reports InvalidTransition against the original status
func fire(inv *entity.Invoice, cmd workflow.Command, m workflow.StateMachine, triggers ...workflow.Trigger) error {
	from := m.Status()
	if err := workflow.FireAll(m, triggers...); err != nil {
		return workflow.NewError(workflow.KindInvalidTransition, inv.ID, cmd, "not valid from status %s", from)
	}
	return nil
}

func (s *invoiceServiceImpl) SubmitInvoice(ctx context.Context, actor *entity.Actor, input SubmitInvoiceInput) (*entity.Invoice, error) {
	cmd := workflow.CommandSubmit
	now := s.now()

	inv := &entity.Invoice{
		ID:                uuid.NewString(),
		VendorID:          input.VendorID,
		SubmittedByUserID: input.SubmittedByUserID,
		Amount:            input.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(input.Currency)),
		InvoiceDate:       input.InvoiceDate,
		PONumber:          strings.TrimSpace(input.PONumber),
		ProjectID:         strings.TrimSpace(input.ProjectID),
		LineItems:         append([]entity.LineItem(nil), input.LineItems...),
		Status:            workflow.StatusReceived,
		FinanceApproval:   entity.PendingApproval(),
		PMApproval:        entity.PendingApproval(),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if actor != nil && (actor.Role != entity.RoleAdmin || inv.SubmittedByUserID == "") {
		inv.SubmittedByUserID = actor.ID
	}
	if actor != nil && actor.Role == entity.RoleVendor {
		inv.VendorID = actor.VendorID
	}
	if inv.InvoiceDate.IsZero() {
		inv.InvoiceDate = now
	}

	if err := s.authorize(ctx, actor, cmd, inv); err != nil {
		return nil, err
	}

	switch {
	case inv.Amount.IsNegative():
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "amount must not be negative")
	case inv.Currency == "":
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "currency is required")
	case inv.VendorID == "":
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "vendor is required")
	}
	if err := validateLines(inv.LineItems); err != nil {
		return nil, workflow.NewError(workflow.KindValidation, "", cmd, "%s", err.Error())
	}

	if len(input.SourceContent) > 0 {
		if s.storage == nil {
			return nil, workflow.NewError(workflow.KindValidation, "", cmd, "document storage is not configured")
		}
		path := port.SourceInvoicePath(inv.ID, input.SourceFileName)
		if err := s.storage.Save(ctx, path, input.SourceContent); err != nil {
			return nil, fmt.Errorf("store source document: %w", err)
		}
		inv.SourceDocument = path
	}

	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		s.logger.Error("Failed to create invoice", "error", err, "vendor_id", inv.VendorID)
		s.discard(ctx, inv.SourceDocument)
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info("Invoice submitted", "invoice_id", inv.ID, "vendor_id", inv.VendorID, "submitted_by", inv.SubmittedByUserID)

	s.audit.Record(ctx, &entity.AuditEntry{
		InvoiceID: inv.ID,
		ActorName: actor.DisplayName(),
		Action:    entity.ActionInvoiceSubmitted,
		Details:   fmt.Sprintf("amount %s %s, PO %q", inv.Amount.StringFixed(2), inv.Currency, inv.PONumber),
		Timestamp: now,
	})

	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeInvoiceSubmitted, inv.ID, map[string]interface{}{
			event.KeyActorID:  actor.ID,
			event.KeyToStatus: inv.Status.String(),
		}))
	}
	return inv, nil
}

func (s *invoiceServiceImpl) ApplyExtractionEvent(ctx context.Context, evt ExtractionEvent) (*entity.Invoice, error) {
	cmd := workflow.CommandApplyExtraction

	return s.apply(ctx, nil, evt.InvoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		switch evt.Status {
		case workflow.StatusDigitizing:
			if err := fire(inv, cmd, m, workflow.TriggerBeginDigitizing); err != nil {
				return nil, err
			}
			return &change{action: entity.ActionExtractionUpdate, details: "digitizing started"}, nil

		case workflow.StatusValidationRequired:
			if err := fire(inv, cmd, m, workflow.TriggerCompleteExtraction); err != nil {
				return nil, err
			}
			if err := mergeExtractedFields(inv, evt.ExtractedFields); err != nil {
				return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd, "%s", err.Error())
			}
			if err := validateLines(inv.LineItems); err != nil {
				return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd, "%s", err.Error())
			}
			return &change{
				action:  entity.ActionExtractionUpdate,
				details: fmt.Sprintf("extraction complete, %d fields, %d lines", len(evt.ExtractedFields), len(inv.LineItems)),
			}, nil

		default:
			return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd,
				"extraction may only report %s or %s, got %q", workflow.StatusDigitizing, workflow.StatusValidationRequired, evt.Status)
		}
	})
}

func (s *invoiceServiceImpl) RunReconciliation(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error) {
	cmd := workflow.CommandRunReconciliation

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if !m.CanFire(workflow.TriggerReconcileMatched) {
			return nil, workflow.NewError(workflow.KindInvalidTransition, inv.ID, cmd, "not valid from status %s", inv.Status)
		}
		if inv.PONumber == "" {
			return nil, workflow.NewError(workflow.KindMissingReferenceData, inv.ID, cmd, "invoice has no purchase order reference")
		}

		po, err := s.procurement.GetPurchaseOrder(ctx, inv.PONumber)
		if err != nil {
			return nil, fmt.Errorf("get purchase order %s: %w", inv.PONumber, err)
		}
		gr, err := s.procurement.GetGoodsReceipt(ctx, inv.PONumber)
		if err != nil {
			return nil, fmt.Errorf("get goods receipt for %s: %w", inv.PONumber, err)
		}

		result, err := s.reconciler.Reconcile(inv, po, gr)
		if err != nil {
			return nil, err
		}

		trigger := workflow.TriggerReconcileDiscrepant
		if result.Matched() {
			trigger = workflow.TriggerReconcileMatched
		}
		if err := fire(inv, cmd, m, trigger); err != nil {
			return nil, err
		}
		inv.Matching = result

		details := fmt.Sprintf("verdict %s against PO %s", result.Verdict, inv.PONumber)
		if len(result.Discrepancies) > 0 {
			details += ": " + strings.Join(result.Discrepancies, " | ")
		}
		return &change{action: entity.ActionReconciliationRun, details: details}, nil
	})
}

// discard removes a stored source whose invoice was never created
func (s *invoiceServiceImpl) discard(ctx context.Context, path string) {
	if path == "" || s.storage == nil {
		return
	}
	if err := s.storage.Delete(ctx, path); err != nil {
		s.logger.Error("Failed to remove orphaned source document", "error", err, "path", path)
	}
}

func (s *invoiceServiceImpl) AssignProjectManager(ctx context.Context, actor *entity.Actor, invoiceID, pmID string) (*entity.Invoice, error) {
	cmd := workflow.CommandAssignPM

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if inv.Status.IsTerminal() || inv.Status == workflow.StatusPMApproved {
			return nil, workflow.NewError(workflow.KindInvalidTransition, inv.ID, cmd, "not valid from status %s", inv.Status)
		}

		pm, err := s.actors.GetByID(ctx, pmID)
		if err != nil {
			return nil, fmt.Errorf("get actor %s: %w", pmID, err)
		}
		if pm == nil || pm.Role != entity.RoleProjectManager {
			return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd, "%q is not a project manager", pmID)
		}

		previous := inv.AssignedPMID
		inv.AssignedPMID = pm.ID

		details := fmt.Sprintf("assigned to %s", pm.ID)
		if previous != "" && previous != pm.ID {
			details += fmt.Sprintf(" (was %s)", previous)
		}
		return &change{action: entity.ActionPMAssigned, details: details}, nil
	})
}

func (s *invoiceServiceImpl) RecordFinanceDecision(ctx context.Context, actor *entity.Actor, invoiceID string, decision workflow.Decision, notes string) (*entity.Invoice, error) {
	cmd := workflow.CommandFinanceDecision
	notes = strings.TrimSpace(notes)

	if !decision.IsValid() {
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "unknown decision %q", decision)
	}

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if inv.FinanceApproval.IsDecided() {
			return nil, workflow.NewError(workflow.KindAlreadyDecided, inv.ID, cmd,
				"finance approval already %s", inv.FinanceApproval.Status)
		}

		source := inv.Status
		// Review opens and closes inside this one write
		if m.CanFire(workflow.TriggerOpenFinanceReview) {
			if err := fire(inv, cmd, m, workflow.TriggerOpenFinanceReview); err != nil {
				return nil, err
			}
		}
		if !m.CanFire(workflow.TriggerFinanceApprove) {
			return nil, workflow.NewError(workflow.KindInvalidTransition, inv.ID, cmd, "not valid from status %s", source)
		}

		now := s.now()
		record := entity.ApprovalRecord{ActorID: actor.ID, Timestamp: &now, Notes: notes}

		if decision == workflow.DecisionReject {
			if err := fire(inv, cmd, m, workflow.TriggerFinanceReject); err != nil {
				return nil, err
			}
			record.Status = entity.ApprovalRejected
			inv.FinanceApproval = record

			return &change{
				action:  entity.ActionFinanceRejected,
				details: decisionDetails("rejected", notes),
				notifications: []notification{{
					eventType:  event.TypeInvoiceFinanceRejected,
					recipients: []string{inv.SubmittedByUserID, inv.AssignedPMID},
					notes:      notes,
				}},
			}, nil
		}

		if inv.AssignedPMID == "" {
			return nil, workflow.NewError(workflow.KindNoApproverAssigned, inv.ID, cmd, "assign a project manager before approving")
		}
		override := source == workflow.StatusMatchDiscrepancy
		if override && s.requireOverride && notes == "" {
			return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd,
				"approving over a reconciliation discrepancy requires a justification")
		}

		if err := fire(inv, cmd, m, workflow.TriggerFinanceApprove, workflow.TriggerRouteToPM); err != nil {
			return nil, err
		}
		record.Status = entity.ApprovalApproved
		inv.FinanceApproval = record

		label := "approved"
		if override {
			label = "approved over discrepancy"
		}
		return &change{
			action:  entity.ActionFinanceApproved,
			details: decisionDetails(label, notes) + fmt.Sprintf("; routed to %s", inv.AssignedPMID),
		}, nil
	})
}

func (s *invoiceServiceImpl) RecordPMDecision(ctx context.Context, actor *entity.Actor, invoiceID string, decision workflow.Decision, notes string) (*entity.Invoice, error) {
	cmd := workflow.CommandPMDecision
	notes = strings.TrimSpace(notes)

	if !decision.IsValid() {
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "unknown decision %q", decision)
	}

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if inv.PMApproval.IsDecided() {
			return nil, workflow.NewError(workflow.KindAlreadyDecided, inv.ID, cmd,
				"PM approval already %s", inv.PMApproval.Status)
		}
		if !m.CanFire(workflow.TriggerPMApprove) || inv.FinanceApproval.Status != entity.ApprovalApproved {
			return nil, workflow.NewError(workflow.KindInvalidTransition, inv.ID, cmd, "not valid from status %s", inv.Status)
		}
		if decision == workflow.DecisionReject && notes == "" {
			return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd, "rejection notes are required")
		}

		now := s.now()
		record := entity.ApprovalRecord{ActorID: actor.ID, Timestamp: &now, Notes: notes}

		onBehalf := ""
		if actor.ID != inv.AssignedPMID && actor.Role != entity.RoleAdmin {
			onBehalf = fmt.Sprintf(" on behalf of %s", inv.AssignedPMID)
		}

		if decision == workflow.DecisionReject {
			if err := fire(inv, cmd, m, workflow.TriggerPMReject); err != nil {
				return nil, err
			}
			record.Status = entity.ApprovalRejected
			inv.PMApproval = record

			return &change{
				action:  entity.ActionPMRejected,
				details: decisionDetails("rejected"+onBehalf, notes),
				notifications: []notification{{
					eventType:  event.TypeInvoicePMRejected,
					recipients: []string{inv.SubmittedByUserID, inv.FinanceApproval.ActorID},
					notes:      notes,
				}},
			}, nil
		}

		if err := fire(inv, cmd, m, workflow.TriggerPMApprove); err != nil {
			return nil, err
		}
		record.Status = entity.ApprovalApproved
		inv.PMApproval = record

		return &change{
			action:  entity.ActionPMApproved,
			details: decisionDetails("approved"+onBehalf, notes),
			notifications: []notification{{
				eventType:  event.TypeInvoicePMApproved,
				recipients: []string{inv.FinanceApproval.ActorID, inv.SubmittedByUserID},
				notes:      notes,
			}},
		}, nil
	})
}

func (s *invoiceServiceImpl) MarkPaid(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error) {
	cmd := workflow.CommandMarkPaid

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if err := fire(inv, cmd, m, workflow.TriggerMarkPaid); err != nil {
			return nil, err
		}
		return &change{
			action:  entity.ActionInvoicePaid,
			details: fmt.Sprintf("paid %s %s", inv.Amount.StringFixed(2), inv.Currency),
		}, nil
	})
}

func (s *invoiceServiceImpl) Reopen(ctx context.Context, actor *entity.Actor, invoiceID, reason string) (*entity.Invoice, error) {
	cmd := workflow.CommandReopen
	reason = strings.TrimSpace(reason)

	return s.apply(ctx, actor, invoiceID, cmd, func(ctx context.Context, inv *entity.Invoice, m workflow.StateMachine) (*change, error) {
		if reason == "" {
			return nil, workflow.NewError(workflow.KindValidation, inv.ID, cmd, "a reason is required to reopen")
		}
		from := inv.Status
		if err := fire(inv, cmd, m, workflow.TriggerReopen); err != nil {
			return nil, err
		}
		inv.FinanceApproval = entity.PendingApproval()
		inv.PMApproval = entity.PendingApproval()

		return &change{
			action:  entity.ActionInvoiceReopened,
			details: fmt.Sprintf("reopened from %s: %s", from, reason),
		}, nil
	})
}

func (s *invoiceServiceImpl) GetInvoice(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error) {
	inv, err := s.load(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, workflow.CommandView, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices pages through the store until a page of visible invoices is collected
func (s *invoiceServiceImpl) ListInvoices(ctx context.Context, actor *entity.Actor, opts ListOptions) ([]*entity.Invoice, error) {
	scope, err := s.authorizer.Scope(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	fetch := func(n, offset int) ([]*entity.Invoice, error) {
		rows, err := s.invoiceRepo.List(ctx, n, offset)
		if err != nil {
			return nil, fmt.Errorf("list invoices: %w", err)
		}
		return rows, nil
	}
	if opts.Status != "" {
		if !opts.Status.IsValid() {
			return nil, workflow.NewError(workflow.KindValidation, "", workflow.CommandView, "unknown status %q", opts.Status)
		}
		fetch = func(n, offset int) ([]*entity.Invoice, error) {
			rows, err := s.invoiceRepo.ListByStatus(ctx, opts.Status, n, offset)
			if err != nil {
				return nil, fmt.Errorf("list invoices by status: %w", err)
			}
			return rows, nil
		}
	}

	var (
		visible []*entity.Invoice
		offset  int
		batch   = limit * 2
	)
	for len(visible) < max(opts.Offset, 0)+limit {
		rows, err := fetch(batch, offset)
		if err != nil {
			return nil, err
		}
		visible = append(visible, scope.Filter(rows)...)
		if len(rows) < batch {
			break
		}
		offset += batch
	}
	return page(visible, opts.Offset, limit), nil
}

func (s *invoiceServiceImpl) AuditTrail(ctx context.Context, actor *entity.Actor, invoiceID string) ([]*entity.AuditEntry, error) {
	if _, err := s.GetInvoice(ctx, actor, invoiceID); err != nil {
		return nil, err
	}
	return s.audit.ListByInvoice(ctx, invoiceID)
}

func page(list []*entity.Invoice, offset, limit int) []*entity.Invoice {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []*entity.Invoice{}
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

func decisionDetails(label, notes string) string {
	if notes == "" {
		return label
	}
	return fmt.Sprintf("%s: %s", label, notes)
}
