package workflow

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{KindInvalidTransition, ErrInvalidTransition},
		{KindUnauthorized, ErrUnauthorized},
		{KindNoApproverAssigned, ErrNoApproverAssigned},
		{KindAlreadyDecided, ErrAlreadyDecided},
		{KindMissingReferenceData, ErrMissingReferenceData},
		{KindConcurrentModification, ErrConcurrentModification},
		{KindValidation, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewError(tt.kind, "inv-1", CommandMarkPaid, "detail"))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if errors.Is(err, ErrInvalidStatus) {
				t.Errorf("errors.Is(%v, ErrInvalidStatus) = true", err)
			}

			var wfErr *Error
			if !errors.As(err, &wfErr) {
				t.Fatal("errors.As() should find *Error")
			}
			if wfErr.InvoiceID != "inv-1" || wfErr.Command != CommandMarkPaid {
				t.Errorf("unexpected error fields: %+v", wfErr)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := NewError(KindInvalidTransition, "inv-9", CommandPMDecision, "status is %s", StatusFinanceRejected)
	msg := err.Error()

	for _, part := range []string{"invalid transition", "RECORD_PM_DECISION", "inv-9", "FINANCE_REJECTED"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	noInvoice := NewError(KindValidation, "", CommandSetDelegation, "duration must be positive")
	if strings.Contains(noInvoice.Error(), "invoice") {
		t.Errorf("Error() = %q, should not mention an invoice", noInvoice.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   ErrorKind
		wantOK bool
	}{
		{"typed error", NewError(KindAlreadyDecided, "x", CommandFinanceDecision, "done"), KindAlreadyDecided, true},
		{"bare sentinel from machine", NewInvoiceMachine(StatusPaid).Fire(TriggerReopen), KindInvalidTransition, true},
		{"unrelated", errors.New("boom"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.err)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("KindOf() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseDecision(t *testing.T) {
	if d, err := ParseDecision("APPROVE"); err != nil || d != DecisionApprove {
		t.Errorf("ParseDecision(APPROVE) = %v, %v", d, err)
	}
	if _, err := ParseDecision("approve"); err == nil {
		t.Error("ParseDecision should be case sensitive")
	}
}
