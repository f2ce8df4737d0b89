package workflow

// NewInvoiceMachine creates a state machine configured with the invoice
// lifecycle and positioned at the given status
func NewInvoiceMachine(initial Status) StateMachine {
	builder := NewBuilder()

	// Intake: the extraction collaborator reports progress
	builder.Configure(StatusReceived).
		Permit(TriggerBeginDigitizing, StatusDigitizing).
		Permit(TriggerCompleteExtraction, StatusValidationRequired)

	builder.Configure(StatusDigitizing).
		Permit(TriggerCompleteExtraction, StatusValidationRequired)

	// Reconciliation
	builder.Configure(StatusValidationRequired).
		Permit(TriggerReconcileMatched, StatusVerified).
		Permit(TriggerReconcileDiscrepant, StatusMatchDiscrepancy)

	// Re-runs are allowed until finance review opens
	for _, s := range []Status{StatusVerified, StatusMatchDiscrepancy} {
		builder.Configure(s).
			Permit(TriggerReconcileMatched, StatusVerified).
			Permit(TriggerReconcileDiscrepant, StatusMatchDiscrepancy).
			Permit(TriggerOpenFinanceReview, StatusPendingFinanceApproval)
	}

	// Finance track
	builder.Configure(StatusPendingFinanceApproval).
		Permit(TriggerFinanceApprove, StatusFinanceApproved).
		Permit(TriggerFinanceReject, StatusFinanceRejected)

	builder.Configure(StatusFinanceApproved).
		Permit(TriggerRouteToPM, StatusPendingPMApproval)

	// PM track
	builder.Configure(StatusPendingPMApproval).
		Permit(TriggerPMApprove, StatusPMApproved).
		Permit(TriggerPMReject, StatusPMRejected).
		Permit(TriggerReopen, StatusValidationRequired)

	builder.Configure(StatusPMApproved).
		Permit(TriggerMarkPaid, StatusPaid).
		Permit(TriggerReopen, StatusValidationRequired)

	// FINANCE_REJECTED, PM_REJECTED and PAID are terminal

	return builder.Build(initial)
}

// FireAll fires the triggers in order and stops at the first failure.
// Callers discard the machine on error.
func FireAll(m StateMachine, triggers ...Trigger) error {
	for _, t := range triggers {
		if err := m.Fire(t); err != nil {
			return err
		}
	}
	return nil
}
