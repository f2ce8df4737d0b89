package workflow

// Trigger is an internal lifecycle event that moves an invoice between statuses.
// A single command may fire more than one trigger in the same write.
type Trigger string

const (
	TriggerBeginDigitizing     Trigger = "BEGIN_DIGITIZING"
	TriggerCompleteExtraction  Trigger = "COMPLETE_EXTRACTION"
	TriggerReconcileMatched    Trigger = "RECONCILE_MATCHED"
	TriggerReconcileDiscrepant Trigger = "RECONCILE_DISCREPANT"
	TriggerOpenFinanceReview   Trigger = "OPEN_FINANCE_REVIEW"
	TriggerFinanceApprove      Trigger = "FINANCE_APPROVE"
	TriggerFinanceReject       Trigger = "FINANCE_REJECT"
	TriggerRouteToPM           Trigger = "ROUTE_TO_PM"
	TriggerPMApprove           Trigger = "PM_APPROVE"
	TriggerPMReject            Trigger = "PM_REJECT"
	TriggerMarkPaid            Trigger = "MARK_PAID"
	TriggerReopen              Trigger = "REOPEN"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
