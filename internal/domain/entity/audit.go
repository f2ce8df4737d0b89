package entity

import "time"

// Audit actions
const (
	ActionInvoiceSubmitted  = "INVOICE_SUBMITTED"
	ActionExtractionUpdate  = "EXTRACTION_STATUS_UPDATED"
	ActionReconciliationRun = "RECONCILIATION_RUN"
	ActionPMAssigned        = "PM_ASSIGNED"
	ActionFinanceApproved   = "FINANCE_APPROVED"
	ActionFinanceRejected   = "FINANCE_REJECTED"
	ActionPMApproved        = "PM_APPROVED"
	ActionPMRejected        = "PM_REJECTED"
	ActionInvoicePaid       = "INVOICE_PAID"
	ActionInvoiceReopened   = "INVOICE_REOPENED"
	ActionDelegationSet     = "DELEGATION_SET"
	ActionDelegationRevoked = "DELEGATION_REVOKED"
	ActionDocumentValidated = "DOCUMENT_VALIDATED"
	ActionStatusNormalized  = "STATUS_NORMALIZED"
	SystemActorName         = "system"
	ExtractionActorName     = "system:extraction"
)

// AuditEntry is an append-only record of an accepted command
type AuditEntry struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	ActorName string    `json:"actor_name"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
