package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// ApprovalStatus is the status of one approval track
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalRecord is the decision recorded on the finance or PM track
type ApprovalRecord struct {
	Status    ApprovalStatus `json:"status"`
	ActorID   string         `json:"actor_id,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Notes     string         `json:"notes,omitempty"`
}

// PendingApproval returns an undecided approval record
func PendingApproval() ApprovalRecord {
	return ApprovalRecord{Status: ApprovalPending}
}

// IsDecided returns true once the record is approved or rejected
func (r ApprovalRecord) IsDecided() bool {
	return r.Status == ApprovalApproved || r.Status == ApprovalRejected
}

// LineItem is one billed, ordered or received line
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Invoice is a billing claim submitted by a vendor
type Invoice struct {
	ID                string                 `json:"id"`
	VendorID          string                 `json:"vendor_id"`
	SubmittedByUserID string                 `json:"submitted_by_user_id"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	InvoiceDate       time.Time              `json:"invoice_date"`
	PONumber          string                 `json:"po_number,omitempty"`
	ProjectID         string                 `json:"project_id,omitempty"`
	LineItems         []LineItem             `json:"line_items"`
	Status            workflow.Status        `json:"status"`
	FinanceApproval   ApprovalRecord         `json:"finance_approval"`
	PMApproval        ApprovalRecord         `json:"pm_approval"`
	Matching          *MatchResult           `json:"matching,omitempty"`
	AssignedPMID      string                 `json:"assigned_pm_id,omitempty"`
	SourceDocument    string                 `json:"source_document,omitempty"`
	ExtractedFields   map[string]interface{} `json:"extracted_fields,omitempty"`
	Version           int64                  `json:"version"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Clone returns a deep copy so a command can mutate it without touching the original
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}

	c := *inv
	c.LineItems = append([]LineItem(nil), inv.LineItems...)
	if inv.Matching != nil {
		m := inv.Matching.Clone()
		c.Matching = &m
	}
	if inv.ExtractedFields != nil {
		c.ExtractedFields = make(map[string]interface{}, len(inv.ExtractedFields))
		for k, v := range inv.ExtractedFields {
			c.ExtractedFields[k] = v
		}
	}
	c.FinanceApproval = cloneRecord(inv.FinanceApproval)
	c.PMApproval = cloneRecord(inv.PMApproval)
	return &c
}

func cloneRecord(r ApprovalRecord) ApprovalRecord {
	if r.Timestamp != nil {
		ts := *r.Timestamp
		r.Timestamp = &ts
	}
	return r
}
