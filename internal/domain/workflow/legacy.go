package workflow

import (
	"fmt"
	"strings"
)

// legacyAliases maps folded legacy spellings to canonical statuses.
// Keys are upper-cased with spaces and dashes folded to underscores.
var legacyAliases = map[string]Status{
	"SUBMITTED":               StatusReceived,
	"NEW":                     StatusReceived,
	"OCR_IN_PROGRESS":         StatusDigitizing,
	"PROCESSING":              StatusDigitizing,
	"NEEDS_VALIDATION":        StatusValidationRequired,
	"MATCHED":                 StatusVerified,
	"DISCREPANCY":             StatusMatchDiscrepancy,
	"MISMATCH":                StatusMatchDiscrepancy,
	"PENDING_FINANCE":         StatusPendingFinanceApproval,
	"FINANCE_PENDING":         StatusPendingFinanceApproval,
	"REJECTED_BY_FINANCE":     StatusFinanceRejected,
	"APPROVED_BY_FINANCE":     StatusFinanceApproved,
	"PENDING_PM":              StatusPendingPMApproval,
	"PM_PENDING":              StatusPendingPMApproval,
	"PENDING_PROJECT_MANAGER": StatusPendingPMApproval,
	"REJECTED_BY_PM":          StatusPMRejected,
	"APPROVED_BY_PM":          StatusPMApproved,
	"PAYMENT_COMPLETE":        StatusPaid,
}

// NormalizeLegacyStatus maps a stored status string, including historical
// spellings such as "PM Approved", to the canonical status. It is a one-time
// migration helper; runtime reads go through ParseStatus.
func NormalizeLegacyStatus(raw string) (Status, error) {
	folded := strings.ToUpper(strings.TrimSpace(raw))
	folded = strings.NewReplacer(" ", "_", "-", "_").Replace(folded)
	for strings.Contains(folded, "__") {
		folded = strings.ReplaceAll(folded, "__", "_")
	}

	if s := Status(folded); s.IsValid() {
		return s, nil
	}
	if s, ok := legacyAliases[folded]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: no canonical status for %q", ErrInvalidStatus, raw)
}
