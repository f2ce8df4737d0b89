package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/invoice-approval/internal/application/delegation"
	"github.com/garyjia/invoice-approval/internal/domain/authz"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/event"
	"github.com/garyjia/invoice-approval/internal/domain/reconcile"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	vendor   = &entity.Actor{ID: "v1", Name: "Acme Billing", Role: entity.RoleVendor, VendorID: "acme"}
	vendor2  = &entity.Actor{ID: "v2", Name: "Acme Billing", Role: entity.RoleVendor, VendorID: "acme"}
	financer = &entity.Actor{ID: "f1", Name: "Fiona", Role: entity.RoleFinanceUser}
	pm       = &entity.Actor{ID: "pm1", Name: "Paul", Role: entity.RoleProjectManager, AssignedProjects: []string{"apollo"}}
	deputy   = &entity.Actor{ID: "pm2", Name: "Dana", Role: entity.RoleProjectManager, AssignedProjects: []string{"borealis"}}
	adminU   = &entity.Actor{ID: "adm", Name: "Root", Role: entity.RoleAdmin}
)

type harness struct {
	svc         InvoiceService
	invoices    *memInvoiceRepo
	procurement *memProcurement
	auditRepo   *memAuditRepo
	events      *recordingDispatcher
	directory   *delegation.Directory
	clock       *testClock
	logger      *mockLogger
}

func newHarness(t *testing.T, opts ...InvoiceOption) *harness {
	t.Helper()

	h := &harness{
		invoices:  newMemInvoiceRepo(),
		auditRepo: &memAuditRepo{},
		events:    &recordingDispatcher{},
		clock:     &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		logger:    &mockLogger{},
		procurement: &memProcurement{
			pos: map[string]*entity.PurchaseOrder{
				"PO-100": {Number: "PO-100", VendorID: "acme", Lines: []entity.LineItem{item("Consulting hours", "10", "100")}},
			},
			grs: map[string]*entity.GoodsReceipt{
				"PO-100": {ID: "GR-1", PONumber: "PO-100", Lines: []entity.LineItem{item("Consulting hours", "10", "100")}},
			},
		},
	}

	actors := &memActors{actors: map[string]*entity.Actor{}}
	for _, a := range []*entity.Actor{vendor, vendor2, financer, pm, deputy, adminU} {
		actors.actors[a.ID] = a
	}

	audit := NewAuditService(h.auditRepo, h.logger)
	h.directory = delegation.NewDirectory(&memDelegationRepo{records: map[string]entity.Delegation{}}, actors, audit, h.logger,
		delegation.WithClock(h.clock.now))
	filter := authz.NewFilter(h.directory, actors)
	engine := reconcile.NewEngine(reconcile.WithClock(h.clock.now))

	opts = append([]InvoiceOption{WithClock(h.clock.now), WithDispatcher(h.events)}, opts...)
	h.svc = NewInvoiceService(h.invoices, h.procurement, actors, filter, engine, audit, h.logger, opts...)
	return h
}

func item(desc, qty, price string) entity.LineItem {
	return entity.LineItem{
		Description: desc,
		Quantity:    decimal.RequireFromString(qty),
		UnitPrice:   decimal.RequireFromString(price),
	}
}

// seed stores an invoice billed at unitPrice in the given status
func (h *harness) seed(id string, status workflow.Status, unitPrice string, mutate ...func(*entity.Invoice)) *entity.Invoice {
	inv := &entity.Invoice{
		ID:                id,
		VendorID:          "acme",
		SubmittedByUserID: vendor.ID,
		Amount:            decimal.RequireFromString(unitPrice).Mul(decimal.NewFromInt(10)),
		Currency:          "EUR",
		PONumber:          "PO-100",
		ProjectID:         "apollo",
		LineItems:         []entity.LineItem{item("Consulting hours", "10", unitPrice)},
		Status:            status,
		FinanceApproval:   entity.PendingApproval(),
		PMApproval:        entity.PendingApproval(),
		Version:           1,
	}
	for _, fn := range mutate {
		fn(inv)
	}
	h.invoices.put(inv)
	return inv
}

func withPM(id string) func(*entity.Invoice) {
	return func(inv *entity.Invoice) { inv.AssignedPMID = id }
}

func financeApproved(inv *entity.Invoice) {
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	inv.FinanceApproval = entity.ApprovalRecord{Status: entity.ApprovalApproved, ActorID: financer.ID, Timestamp: &ts}
	inv.Matching = &entity.MatchResult{Verdict: entity.VerdictMatched}
}

func kindOf(t *testing.T, err error) workflow.ErrorKind {
	t.Helper()
	require.Error(t, err)
	kind, ok := workflow.KindOf(err)
	require.True(t, ok, "not a lifecycle error: %v", err)
	return kind
}

func TestInvoiceService_ReconcileWithinTolerance(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusValidationRequired, "104")

	inv, err := h.svc.RunReconciliation(context.Background(), financer, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusVerified, inv.Status)
	require.NotNil(t, inv.Matching)
	assert.Equal(t, entity.VerdictMatched, inv.Matching.Verdict)
	assert.Equal(t, int64(2), inv.Version)
	assert.Equal(t, []string{entity.ActionReconciliationRun}, h.auditRepo.actions())

	changed := h.events.ofType(event.TypeInvoiceStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "VALIDATION_REQUIRED", changed[0].GetPayloadString(event.KeyFromStatus))
	assert.Equal(t, "VERIFIED", changed[0].GetPayloadString(event.KeyToStatus))
}

func TestInvoiceService_ReconcileOutsideTolerance(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusValidationRequired, "110")

	inv, err := h.svc.RunReconciliation(context.Background(), financer, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusMatchDiscrepancy, inv.Status)
	require.Len(t, inv.Matching.Discrepancies, 1)
	assert.Contains(t, inv.Matching.Discrepancies[0], "+10.00%")
	assert.Equal(t, workflow.StatusMatchDiscrepancy, h.invoices.stored("inv-1").Status)
}

func TestInvoiceService_ReconcileRerunsUntilFinanceReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusValidationRequired, "104")

	_, err := h.svc.RunReconciliation(ctx, financer, "inv-1")
	require.NoError(t, err)

	// Procurement corrects the PO; the re-run replaces the result wholesale
	h.procurement.pos["PO-100"] = &entity.PurchaseOrder{Number: "PO-100", Lines: []entity.LineItem{item("Consulting hours", "10", "90")}}
	inv, err := h.svc.RunReconciliation(ctx, adminU, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusMatchDiscrepancy, inv.Status)
	assert.Len(t, inv.Matching.Discrepancies, 1)

	h.seed("inv-2", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)
	_, err = h.svc.RunReconciliation(ctx, financer, "inv-2")
	assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))
}

func TestInvoiceService_ReconcileMissingReferenceData(t *testing.T) {
	tests := []struct {
		name     string
		poNumber string
	}{
		{"no po reference", ""},
		{"unknown po", "PO-404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed("inv-1", workflow.StatusValidationRequired, "100", func(inv *entity.Invoice) { inv.PONumber = tt.poNumber })

			_, err := h.svc.RunReconciliation(context.Background(), financer, "inv-1")

			assert.ErrorIs(t, err, workflow.ErrMissingReferenceData)
			stored := h.invoices.stored("inv-1")
			assert.Equal(t, workflow.StatusValidationRequired, stored.Status)
			assert.Nil(t, stored.Matching)
			assert.Equal(t, int64(1), stored.Version)
		})
	}
}

func TestInvoiceService_ReconcileRequiresFinance(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusValidationRequired, "100")

	for _, actor := range []*entity.Actor{vendor, pm} {
		_, err := h.svc.RunReconciliation(context.Background(), actor, "inv-1")
		assert.Equal(t, workflow.KindUnauthorized, kindOf(t, err), actor.ID)
	}
	_, err := h.svc.RunReconciliation(context.Background(), nil, "inv-1")
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestInvoiceService_FinanceRejectThenPMDecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusVerified, "100", withPM(pm.ID), func(inv *entity.Invoice) {
		inv.Matching = &entity.MatchResult{Verdict: entity.VerdictMatched}
	})

	inv, err := h.svc.RecordFinanceDecision(ctx, financer, "inv-1", workflow.DecisionReject, "duplicate submission")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFinanceRejected, inv.Status)
	assert.Equal(t, entity.ApprovalRejected, inv.FinanceApproval.Status)
	assert.Equal(t, "duplicate submission", inv.FinanceApproval.Notes)
	assert.Equal(t, financer.ID, inv.FinanceApproval.ActorID)

	rejected := h.events.ofType(event.TypeInvoiceFinanceRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, []string{vendor.ID, pm.ID}, rejected[0].Recipients)

	_, err = h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionApprove, "")
	assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))
	assert.Equal(t, entity.ApprovalPending, h.invoices.stored("inv-1").PMApproval.Status)
}

func TestInvoiceService_TerminalStatusCheckedBeforeRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// rejected before any PM was assigned
	h.seed("inv-1", workflow.StatusFinanceRejected, "100")
	h.seed("inv-2", workflow.StatusPaid, "100", withPM(pm.ID), financeApproved)

	_, err := h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionApprove, "")
	assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))

	_, err = h.svc.MarkPaid(ctx, vendor, "inv-2")
	assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))

	_, err = h.svc.Reopen(ctx, adminU, "inv-2", "late credit note")
	assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))

	assert.Equal(t, int64(1), h.invoices.stored("inv-1").Version)
	assert.Equal(t, int64(1), h.invoices.stored("inv-2").Version)
}

func TestInvoiceService_FinanceApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusVerified, "100", withPM(pm.ID), func(inv *entity.Invoice) {
		inv.Matching = &entity.MatchResult{Verdict: entity.VerdictMatched}
	})

	inv, err := h.svc.RecordFinanceDecision(ctx, financer, "inv-1", workflow.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusPendingPMApproval, inv.Status)
	assert.Equal(t, entity.ApprovalApproved, inv.FinanceApproval.Status)
	require.NotNil(t, inv.FinanceApproval.Timestamp)
	assert.Equal(t, h.clock.now(), *inv.FinanceApproval.Timestamp)
	assert.Equal(t, entity.ApprovalPending, inv.PMApproval.Status)

	_, err = h.svc.RecordFinanceDecision(ctx, financer, "inv-1", workflow.DecisionReject, "changed my mind")
	assert.Equal(t, workflow.KindAlreadyDecided, kindOf(t, err))
	assert.Equal(t, entity.ApprovalApproved, h.invoices.stored("inv-1").FinanceApproval.Status)
}

func TestInvoiceService_FinanceApproveRequiresAssignedPM(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusVerified, "100")

	_, err := h.svc.RecordFinanceDecision(context.Background(), financer, "inv-1", workflow.DecisionApprove, "")

	assert.ErrorIs(t, err, workflow.ErrNoApproverAssigned)
	assert.Equal(t, workflow.StatusVerified, h.invoices.stored("inv-1").Status)
}

func TestInvoiceService_DiscrepancyOverride(t *testing.T) {
	t.Run("requires justification", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.seed("inv-1", workflow.StatusMatchDiscrepancy, "110", withPM(pm.ID))

		_, err := h.svc.RecordFinanceDecision(ctx, financer, "inv-1", workflow.DecisionApprove, "   ")
		assert.ErrorIs(t, err, workflow.ErrValidation)

		inv, err := h.svc.RecordFinanceDecision(ctx, financer, "inv-1", workflow.DecisionApprove, "rate increase agreed by email")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusPendingPMApproval, inv.Status)

		trail, err := h.svc.AuditTrail(ctx, financer, "inv-1")
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Contains(t, trail[0].Details, "approved over discrepancy: rate increase agreed by email")
	})

	t.Run("policy can be relaxed", func(t *testing.T) {
		h := newHarness(t, WithOverrideJustification(false))
		h.seed("inv-1", workflow.StatusMatchDiscrepancy, "110", withPM(pm.ID))

		inv, err := h.svc.RecordFinanceDecision(context.Background(), financer, "inv-1", workflow.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusPendingPMApproval, inv.Status)
	})

	t.Run("rejection needs no notes", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusMatchDiscrepancy, "110")

		inv, err := h.svc.RecordFinanceDecision(context.Background(), adminU, "inv-1", workflow.DecisionReject, "")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusFinanceRejected, inv.Status)
	})
}

func TestInvoiceService_FinanceDecisionGuards(t *testing.T) {
	tests := []struct {
		name     string
		status   workflow.Status
		actor    *entity.Actor
		decision workflow.Decision
		wantKind workflow.ErrorKind
	}{
		{"from validation required", workflow.StatusValidationRequired, financer, workflow.DecisionApprove, workflow.KindInvalidTransition},
		{"from received", workflow.StatusReceived, financer, workflow.DecisionReject, workflow.KindInvalidTransition},
		{"project manager", workflow.StatusVerified, pm, workflow.DecisionApprove, workflow.KindUnauthorized},
		{"vendor", workflow.StatusVerified, vendor, workflow.DecisionReject, workflow.KindUnauthorized},
		{"unknown decision", workflow.StatusVerified, financer, workflow.Decision("MAYBE"), workflow.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed("inv-1", tt.status, "100", withPM(pm.ID))

			_, err := h.svc.RecordFinanceDecision(context.Background(), tt.actor, "inv-1", tt.decision, "n")

			assert.Equal(t, tt.wantKind, kindOf(t, err))
			assert.Equal(t, tt.status, h.invoices.stored("inv-1").Status)
			assert.Empty(t, h.auditRepo.actions())
		})
	}
}

func TestInvoiceService_FinanceDecisionFromPendingReview(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusPendingFinanceApproval, "100", withPM(pm.ID))

	inv, err := h.svc.RecordFinanceDecision(context.Background(), financer, "inv-1", workflow.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingPMApproval, inv.Status)
}

func TestInvoiceService_PMDecisions(t *testing.T) {
	t.Run("approve notifies finance and submitter", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		inv, err := h.svc.RecordPMDecision(context.Background(), pm, "inv-1", workflow.DecisionApprove, "")
		require.NoError(t, err)

		assert.Equal(t, workflow.StatusPMApproved, inv.Status)
		assert.Equal(t, pm.ID, inv.PMApproval.ActorID)
		approved := h.events.ofType(event.TypeInvoicePMApproved)
		require.Len(t, approved, 1)
		assert.Equal(t, []string{financer.ID, vendor.ID}, approved[0].Recipients)
	})

	t.Run("reject requires notes", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		_, err := h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionReject, "")
		assert.ErrorIs(t, err, workflow.ErrValidation)

		inv, err := h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionReject, "hours not worked")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusPMRejected, inv.Status)
		rejected := h.events.ofType(event.TypeInvoicePMRejected)
		require.Len(t, rejected, 1)
		assert.Equal(t, []string{vendor.ID, financer.ID}, rejected[0].Recipients)
	})

	t.Run("second decision is already decided", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		_, err := h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionApprove, "")
		require.NoError(t, err)
		_, err = h.svc.RecordPMDecision(ctx, pm, "inv-1", workflow.DecisionReject, "oops")
		assert.Equal(t, workflow.KindAlreadyDecided, kindOf(t, err))
	})

	t.Run("other project manager is unauthorized", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		_, err := h.svc.RecordPMDecision(context.Background(), deputy, "inv-1", workflow.DecisionApprove, "")
		assert.Equal(t, workflow.KindUnauthorized, kindOf(t, err))
	})

	t.Run("admin may decide", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		inv, err := h.svc.RecordPMDecision(context.Background(), adminU, "inv-1", workflow.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, adminU.ID, inv.PMApproval.ActorID)
	})
}

func TestInvoiceService_DelegateDecidesWithinWindowOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)
	h.seed("inv-2", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

	_, err := h.directory.SetDelegation(ctx, pm, deputy.ID, 7)
	require.NoError(t, err)

	h.clock.advance(3 * 24 * time.Hour)
	inv, err := h.svc.RecordPMDecision(ctx, deputy, "inv-1", workflow.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPMApproved, inv.Status)
	assert.Equal(t, deputy.ID, inv.PMApproval.ActorID)

	visible, err := h.svc.ListInvoices(ctx, deputy, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, visible, 2, "delegate sees the delegator's project")

	h.clock.advance(5 * 24 * time.Hour) // day 8
	_, err = h.svc.RecordPMDecision(ctx, deputy, "inv-2", workflow.DecisionApprove, "")
	assert.Equal(t, workflow.KindUnauthorized, kindOf(t, err))
	assert.Equal(t, workflow.StatusPendingPMApproval, h.invoices.stored("inv-2").Status)

	visible, err = h.svc.ListInvoices(ctx, deputy, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, visible, "expired delegation hides the delegator's project")
}

func TestInvoiceService_MarkPaid(t *testing.T) {
	t.Run("from pending pm approval is invalid and mutates nothing", func(t *testing.T) {
		h := newHarness(t)
		before := h.seed("inv-1", workflow.StatusPendingPMApproval, "100", withPM(pm.ID), financeApproved)

		_, err := h.svc.MarkPaid(context.Background(), financer, "inv-1")

		assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err))
		assert.Equal(t, before, h.invoices.stored("inv-1"))
		assert.Zero(t, h.invoices.updates)
		assert.Empty(t, h.auditRepo.actions())
		assert.Empty(t, h.events.events)
	})

	t.Run("from pm approved", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusPMApproved, "100", withPM(pm.ID), financeApproved)

		inv, err := h.svc.MarkPaid(context.Background(), financer, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusPaid, inv.Status)

		_, err = h.svc.MarkPaid(context.Background(), financer, "inv-1")
		assert.Equal(t, workflow.KindInvalidTransition, kindOf(t, err), "retry is rejected by the source check")
	})

	t.Run("project manager cannot pay", func(t *testing.T) {
		h := newHarness(t)
		h.seed("inv-1", workflow.StatusPMApproved, "100", withPM(pm.ID), financeApproved)

		_, err := h.svc.MarkPaid(context.Background(), pm, "inv-1")
		assert.Equal(t, workflow.KindUnauthorized, kindOf(t, err))
	})
}

func TestInvoiceService_ConcurrentFinanceDecisions(t *testing.T) {
	h := newHarness(t)
	h.seed("inv-1", workflow.StatusVerified, "100", withPM(pm.ID))

	// Both commands read version 1 before either writes
	var barrier sync.WaitGroup
	barrier.Add(2)
	h.invoices.getHook = func() {
		barrier.Done()
		barrier.Wait()
	}

	decisions := []workflow.Decision{workflow.DecisionApprove, workflow.DecisionReject}
	errs := make([]error, len(decisions))
	var wg sync.WaitGroup
	for i, d := range decisions {
		wg.Add(1)
		go func(i int, d workflow.Decision) {
			defer wg.Done()
			_, errs[i] = h.svc.RecordFinanceDecision(context.Background(), financer, "inv-1", d, "concurrent")
		}(i, d)
	}
	wg.Wait()
	h.invoices.getHook = nil

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, workflow.ErrConcurrentModification):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, int64(2), h.invoices.stored("inv-1").Version)
	assert.Len(t, h.auditRepo.actions(), 1)
}

func TestInvoiceService_AuditFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.auditRepo.err = errBoom
	h.seed("inv-1", workflow.StatusValidationRequired, "100")

	inv, err := h.svc.RunReconciliation(context.Background(), financer, "inv-1")

	require.NoError(t, err)
	assert.Equal(t, workflow.StatusVerified, inv.Status)
	assert.Equal(t, workflow.StatusVerified, h.invoices.stored("inv-1").Status)
	assert.Equal(t, 1, h.logger.errorCount())
}

func TestInvoiceService_StorageFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.invoices.updateErr = errBoom
	h.seed("inv-1", workflow.StatusValidationRequired, "100")

	_, err := h.svc.RunReconciliation(context.Background(), financer, "inv-1")

	assert.ErrorIs(t, err, errBoom)
	_, isLifecycle := workflow.KindOf(err)
	assert.False(t, isLifecycle)
}

func TestInvoiceService_ApplyExtractionEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusReceived, "0", func(inv *entity.Invoice) {
		inv.PONumber = ""
		inv.LineItems = nil
	})

	inv, err := h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "inv-1", Status: workflow.StatusDigitizing})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDigitizing, inv.Status)

	inv, err = h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{
		InvoiceID: "inv-1",
		Status:    workflow.StatusValidationRequired,
		ExtractedFields: map[string]interface{}{
			FieldAmount:      "1,040.00",
			FieldCurrency:    "usd",
			FieldPONumber:    "PO-100",
			FieldInvoiceDate: "2026-04-30",
			FieldLineItems: []interface{}{
				map[string]interface{}{"description": "Consulting hours", "quantity": float64(10), "unit_price": "104"},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusValidationRequired, inv.Status)
	assert.Equal(t, "1040", inv.Amount.String())
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, "PO-100", inv.PONumber)
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), inv.InvoiceDate)
	require.Len(t, inv.LineItems, 1)
	assert.True(t, inv.LineItems[0].UnitPrice.Equal(decimal.NewFromInt(104)))

	trail := h.auditRepo.entries
	require.Len(t, trail, 2)
	assert.Equal(t, entity.ExtractionActorName, trail[1].ActorName)

	// The extracted invoice reconciles like any other
	inv, err = h.svc.RunReconciliation(ctx, financer, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusVerified, inv.Status)
}

func TestInvoiceService_ApplyExtractionEventRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusVerified, "100")
	h.seed("inv-2", workflow.StatusReceived, "100")

	_, err := h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "inv-1", Status: workflow.StatusDigitizing})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "inv-2", Status: workflow.StatusVerified})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{
		InvoiceID:       "inv-2",
		Status:          workflow.StatusValidationRequired,
		ExtractedFields: map[string]interface{}{FieldAmount: "-5"},
	})
	assert.ErrorIs(t, err, workflow.ErrValidation)
	assert.Equal(t, workflow.StatusReceived, h.invoices.stored("inv-2").Status)

	_, err = h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "missing", Status: workflow.StatusDigitizing})
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestInvoiceService_SubmitInvoice(t *testing.T) {
	t.Run("vendor submits as itself", func(t *testing.T) {
		h := newHarness(t)
		inv, err := h.svc.SubmitInvoice(context.Background(), vendor, SubmitInvoiceInput{
			SubmittedByUserID: vendor2.ID,
			VendorID:          "someone-else",
			Amount:            decimal.RequireFromString("1000"),
			Currency:          "eur",
			PONumber:          " PO-100 ",
			LineItems:         []entity.LineItem{item("Consulting hours", "10", "100")},
		})
		require.NoError(t, err)

		assert.Equal(t, vendor.ID, inv.SubmittedByUserID)
		assert.Equal(t, vendor.VendorID, inv.VendorID)
		assert.Equal(t, workflow.StatusReceived, inv.Status)
		assert.Equal(t, "EUR", inv.Currency)
		assert.Equal(t, "PO-100", inv.PONumber)
		assert.Equal(t, int64(1), inv.Version)
		assert.NotEmpty(t, inv.ID)
		assert.NotNil(t, h.invoices.stored(inv.ID))
		assert.Len(t, h.events.ofType(event.TypeInvoiceSubmitted), 1)
	})

	t.Run("admin submits on behalf", func(t *testing.T) {
		h := newHarness(t)
		inv, err := h.svc.SubmitInvoice(context.Background(), adminU, SubmitInvoiceInput{
			SubmittedByUserID: vendor.ID,
			VendorID:          "acme",
			Amount:            decimal.Zero,
			Currency:          "EUR",
		})
		require.NoError(t, err)
		assert.Equal(t, vendor.ID, inv.SubmittedByUserID)
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name  string
			actor *entity.Actor
			input SubmitInvoiceInput
			want  error
		}{
			{"finance user", financer, SubmitInvoiceInput{VendorID: "acme", Currency: "EUR"}, workflow.ErrUnauthorized},
			{"negative amount", vendor, SubmitInvoiceInput{Amount: decimal.NewFromInt(-1), Currency: "EUR"}, workflow.ErrValidation},
			{"missing currency", vendor, SubmitInvoiceInput{}, workflow.ErrValidation},
			{
				name:  "negative line price",
				actor: vendor,
				input: SubmitInvoiceInput{Currency: "EUR", LineItems: []entity.LineItem{item("x", "1", "-2")}},
				want:  workflow.ErrValidation,
			},
			{"source without storage", vendor, SubmitInvoiceInput{Currency: "EUR", SourceContent: []byte("%PDF")}, workflow.ErrValidation},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t)
				_, err := h.svc.SubmitInvoice(context.Background(), tt.actor, tt.input)
				assert.ErrorIs(t, err, tt.want)
				assert.Empty(t, h.invoices.invoices)
			})
		}
	})
}

func TestInvoiceService_AssignProjectManager(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusVerified, "100")
	h.seed("inv-2", workflow.StatusPMApproved, "100", withPM(pm.ID), financeApproved)

	inv, err := h.svc.AssignProjectManager(ctx, financer, "inv-1", pm.ID)
	require.NoError(t, err)
	assert.Equal(t, pm.ID, inv.AssignedPMID)
	assert.Equal(t, workflow.StatusVerified, inv.Status)
	assert.Empty(t, h.events.ofType(event.TypeInvoiceStatusChanged), "assignment does not change status")

	_, err = h.svc.AssignProjectManager(ctx, financer, "inv-1", financer.ID)
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = h.svc.AssignProjectManager(ctx, financer, "inv-2", deputy.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = h.svc.AssignProjectManager(ctx, pm, "inv-1", pm.ID)
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestInvoiceService_Reopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusPMApproved, "100", withPM(pm.ID), financeApproved, func(inv *entity.Invoice) {
		inv.PMApproval = entity.ApprovalRecord{Status: entity.ApprovalApproved, ActorID: pm.ID}
	})

	_, err := h.svc.Reopen(ctx, financer, "inv-1", "wrong PO")
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)

	_, err = h.svc.Reopen(ctx, adminU, "inv-1", "")
	assert.ErrorIs(t, err, workflow.ErrValidation)

	inv, err := h.svc.Reopen(ctx, adminU, "inv-1", "wrong PO")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusValidationRequired, inv.Status)
	assert.Equal(t, entity.ApprovalPending, inv.FinanceApproval.Status)
	assert.Equal(t, entity.ApprovalPending, inv.PMApproval.Status)

	_, err = h.svc.Reopen(ctx, adminU, "inv-1", "again")
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestInvoiceService_Reads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("inv-1", workflow.StatusReceived, "100")
	h.seed("inv-2", workflow.StatusReceived, "100", func(inv *entity.Invoice) {
		inv.SubmittedByUserID = vendor2.ID
		inv.ProjectID = "borealis"
	})
	h.seed("inv-3", workflow.StatusVerified, "100")

	t.Run("vendor lists only own submissions", func(t *testing.T) {
		list, err := h.svc.ListInvoices(ctx, vendor2, ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "inv-2", list[0].ID)
	})

	t.Run("finance lists by status", func(t *testing.T) {
		list, err := h.svc.ListInvoices(ctx, financer, ListOptions{Status: workflow.StatusReceived})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		_, err = h.svc.ListInvoices(ctx, financer, ListOptions{Status: "PM Approved"})
		assert.ErrorIs(t, err, workflow.ErrValidation)
	})

	t.Run("status filter pages through the store in batches", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 30; i++ {
			h.seed(fmt.Sprintf("paid-%02d", i), workflow.StatusPaid, "100")
		}
		h.seed("open-1", workflow.StatusVerified, "100")

		list, err := h.svc.ListInvoices(ctx, financer, ListOptions{Status: workflow.StatusPaid, Limit: 5, Offset: 5})
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "paid-05", list[0].ID)
		assert.Equal(t, "paid-09", list[4].ID)

		require.NotEmpty(t, h.invoices.statusLimits)
		for _, n := range h.invoices.statusLimits {
			assert.Positive(t, n, "status listing must be bounded")
		}
		assert.Less(t, len(h.invoices.statusLimits)*10, 30, "stops once the page is filled")
	})

	t.Run("paging", func(t *testing.T) {
		list, err := h.svc.ListInvoices(ctx, adminU, ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "inv-2", list[0].ID)

		list, err = h.svc.ListInvoices(ctx, adminU, ListOptions{Limit: 2, Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("get enforces visibility", func(t *testing.T) {
		_, err := h.svc.GetInvoice(ctx, vendor2, "inv-1")
		assert.ErrorIs(t, err, workflow.ErrUnauthorized)

		inv, err := h.svc.GetInvoice(ctx, pm, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, "inv-1", inv.ID)

		_, err = h.svc.GetInvoice(ctx, adminU, "nope")
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("audit trail follows visibility", func(t *testing.T) {
		_, err := h.svc.AuditTrail(ctx, vendor2, "inv-1")
		assert.ErrorIs(t, err, workflow.ErrUnauthorized)
	})
}

// TestInvoiceService_MonotonicGating drives random command sequences and
// checks the approval ordering after every accepted or rejected command
func TestInvoiceService_MonotonicGating(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	actors := []*entity.Actor{financer, pm, deputy, adminU, vendor}

	for run := 0; run < 150; run++ {
		h := newHarness(t)
		ctx := context.Background()
		price := []string{"100", "104", "110"}[rng.Intn(3)]
		h.seed("inv", workflow.StatusReceived, price)

		steps := []func(a *entity.Actor) error{
			func(*entity.Actor) error {
				_, err := h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "inv", Status: workflow.StatusDigitizing})
				return err
			},
			func(*entity.Actor) error {
				_, err := h.svc.ApplyExtractionEvent(ctx, ExtractionEvent{InvoiceID: "inv", Status: workflow.StatusValidationRequired})
				return err
			},
			func(a *entity.Actor) error { _, err := h.svc.RunReconciliation(ctx, a, "inv"); return err },
			func(a *entity.Actor) error { _, err := h.svc.AssignProjectManager(ctx, a, "inv", pm.ID); return err },
			func(a *entity.Actor) error {
				_, err := h.svc.RecordFinanceDecision(ctx, a, "inv", workflow.DecisionApprove, "ok")
				return err
			},
			func(a *entity.Actor) error {
				_, err := h.svc.RecordFinanceDecision(ctx, a, "inv", workflow.DecisionReject, "no")
				return err
			},
			func(a *entity.Actor) error {
				_, err := h.svc.RecordPMDecision(ctx, a, "inv", workflow.DecisionApprove, "")
				return err
			},
			func(a *entity.Actor) error {
				_, err := h.svc.RecordPMDecision(ctx, a, "inv", workflow.DecisionReject, "no")
				return err
			},
			func(a *entity.Actor) error { _, err := h.svc.MarkPaid(ctx, a, "inv"); return err },
			func(a *entity.Actor) error { _, err := h.svc.Reopen(ctx, a, "inv", "redo"); return err },
		}

		for step := 0; step < 25; step++ {
			before := h.invoices.stored("inv")
			err := steps[rng.Intn(len(steps))](actors[rng.Intn(len(actors))])
			after := h.invoices.stored("inv")

			if err != nil {
				require.Equal(t, before, after, "rejected command mutated the invoice: %v", err)
			}
			if after.PMApproval.Status != entity.ApprovalPending {
				require.Equal(t, entity.ApprovalApproved, after.FinanceApproval.Status,
					"run %d step %d: PM decided before finance approved", run, step)
			}
			if after.FinanceApproval.Status != entity.ApprovalPending {
				require.NotNil(t, after.Matching, "run %d step %d: finance decided before reconciliation", run, step)
			}
		}
	}
}
