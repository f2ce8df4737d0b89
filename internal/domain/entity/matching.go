package entity

import "time"

// MatchVerdict is the outcome of a three-way match
type MatchVerdict string

const (
	VerdictMatched    MatchVerdict = "MATCHED"
	VerdictDiscrepant MatchVerdict = "DISCREPANT"
)

// MatchResult is produced once per reconciliation run and replaced on re-run
type MatchResult struct {
	Verdict       MatchVerdict `json:"verdict"`
	Discrepancies []string     `json:"discrepancies"`
	POSnapshot    []LineItem   `json:"po_snapshot"`
	GRSnapshot    []LineItem   `json:"gr_snapshot"`
	ReconciledAt  time.Time    `json:"reconciled_at"`
}

// Matched returns true when every line matched
func (m MatchResult) Matched() bool {
	return m.Verdict == VerdictMatched
}

// Clone returns a deep copy of the result
func (m MatchResult) Clone() MatchResult {
	m.Discrepancies = append([]string(nil), m.Discrepancies...)
	m.POSnapshot = append([]LineItem(nil), m.POSnapshot...)
	m.GRSnapshot = append([]LineItem(nil), m.GRSnapshot...)
	return m
}

// PurchaseOrder is a read-only snapshot owned by procurement
type PurchaseOrder struct {
	Number   string     `json:"number"`
	VendorID string     `json:"vendor_id"`
	Lines    []LineItem `json:"lines"`
}

// GoodsReceipt records what was actually received against a purchase order
type GoodsReceipt struct {
	ID         string     `json:"id"`
	PONumber   string     `json:"po_number"`
	Lines      []LineItem `json:"lines"`
	ReceivedAt time.Time  `json:"received_at"`
}
