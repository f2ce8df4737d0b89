package entity

import "time"

// DocumentKind identifies what an uploaded document is
type DocumentKind string

const (
	DocumentTimesheet     DocumentKind = "TIMESHEET"
	DocumentRateCard      DocumentKind = "RATE_CARD"
	DocumentSourceInvoice DocumentKind = "SOURCE_INVOICE"
)

// IsSpreadsheet returns true for kinds that go through structural validation
func (k DocumentKind) IsSpreadsheet() bool {
	return k == DocumentTimesheet || k == DocumentRateCard
}

// ValidationReport is the structural check result for an uploaded spreadsheet.
// It is metadata only and never drives the invoice status.
type ValidationReport struct {
	IsValid  bool                   `json:"is_valid"`
	Errors   []string               `json:"errors"`
	Warnings []string               `json:"warnings"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// DocumentRecord links an uploaded file to an invoice
type DocumentRecord struct {
	ID         string            `json:"id"`
	InvoiceID  string            `json:"invoice_id"`
	Kind       DocumentKind      `json:"kind"`
	Path       string            `json:"path"`
	Validation *ValidationReport `json:"validation,omitempty"`
	UploadedBy string            `json:"uploaded_by"`
	CreatedAt  time.Time         `json:"created_at"`
}
