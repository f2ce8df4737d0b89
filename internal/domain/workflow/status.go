package workflow

import "fmt"

// Status is the canonical lifecycle status of an invoice
type Status string

const (
	StatusReceived               Status = "RECEIVED"
	StatusDigitizing             Status = "DIGITIZING"
	StatusValidationRequired     Status = "VALIDATION_REQUIRED"
	StatusVerified               Status = "VERIFIED"
	StatusMatchDiscrepancy       Status = "MATCH_DISCREPANCY"
	StatusPendingFinanceApproval Status = "PENDING_FINANCE_APPROVAL"
	StatusFinanceRejected        Status = "FINANCE_REJECTED"
	StatusFinanceApproved        Status = "FINANCE_APPROVED"
	StatusPendingPMApproval      Status = "PENDING_PM_APPROVAL"
	StatusPMRejected             Status = "PM_REJECTED"
	StatusPMApproved             Status = "PM_APPROVED"
	StatusPaid                   Status = "PAID"
)

// orderedStatuses lists every status in lifecycle order
var orderedStatuses = []Status{
	StatusReceived,
	StatusDigitizing,
	StatusValidationRequired,
	StatusVerified,
	StatusMatchDiscrepancy,
	StatusPendingFinanceApproval,
	StatusFinanceRejected,
	StatusFinanceApproved,
	StatusPendingPMApproval,
	StatusPMRejected,
	StatusPMApproved,
	StatusPaid,
}

var validStatuses = func() map[Status]bool {
	m := make(map[Status]bool, len(orderedStatuses))
	for _, s := range orderedStatuses {
		m[s] = true
	}
	return m
}()

var terminalStatuses = map[Status]bool{
	StatusFinanceRejected: true,
	StatusPMRejected:      true,
	StatusPaid:            true,
}

// IsTerminal returns true if no command is valid from the status
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the canonical statuses
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// ParseStatus accepts canonical status strings only.
// Legacy spellings go through NormalizeLegacyStatus.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// AllStatuses returns every canonical status in lifecycle order
func AllStatuses() []Status {
	return append([]Status(nil), orderedStatuses...)
}
