package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a command is not valid from the current status
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnauthorized is returned when the actor lacks role, ownership or delegation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoApproverAssigned is returned when finance approves without an assigned PM
	ErrNoApproverAssigned = errors.New("no approver assigned")

	// ErrAlreadyDecided is returned when an approval record has already been decided
	ErrAlreadyDecided = errors.New("already decided")

	// ErrMissingReferenceData is returned when the PO or GR cannot be resolved
	ErrMissingReferenceData = errors.New("missing reference data")

	// ErrConcurrentModification is returned when the version check on write fails
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrValidation is returned for malformed command input
	ErrValidation = errors.New("validation error")

	// ErrInvalidStatus is returned when a status string is not canonical
	ErrInvalidStatus = errors.New("invalid status")
)

// ErrorKind classifies a lifecycle failure
type ErrorKind string

const (
	KindInvalidTransition      ErrorKind = "INVALID_TRANSITION"
	KindUnauthorized           ErrorKind = "UNAUTHORIZED"
	KindNoApproverAssigned     ErrorKind = "NO_APPROVER_ASSIGNED"
	KindAlreadyDecided         ErrorKind = "ALREADY_DECIDED"
	KindMissingReferenceData   ErrorKind = "MISSING_REFERENCE_DATA"
	KindConcurrentModification ErrorKind = "CONCURRENT_MODIFICATION"
	KindValidation             ErrorKind = "VALIDATION_ERROR"
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidTransition:      ErrInvalidTransition,
	KindUnauthorized:           ErrUnauthorized,
	KindNoApproverAssigned:     ErrNoApproverAssigned,
	KindAlreadyDecided:         ErrAlreadyDecided,
	KindMissingReferenceData:   ErrMissingReferenceData,
	KindConcurrentModification: ErrConcurrentModification,
	KindValidation:             ErrValidation,
}

// Error is the structured failure returned by lifecycle commands.
// errors.Is matches it against the sentinel of its kind.
type Error struct {
	Kind      ErrorKind
	InvoiceID string
	Command   Command
	Message   string
}

// NewError builds an Error for the given invoice and command
func NewError(kind ErrorKind, invoiceID string, cmd Command, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		InvoiceID: invoiceID,
		Command:   cmd,
		Message:   fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	sentinel := kindSentinels[e.Kind]
	prefix := string(e.Kind)
	if sentinel != nil {
		prefix = sentinel.Error()
	}
	if e.InvoiceID == "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Command, e.Message)
	}
	return fmt.Sprintf("%s: %s on invoice %s: %s", prefix, e.Command, e.InvoiceID, e.Message)
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf extracts the kind of a lifecycle error anywhere in the chain
func KindOf(err error) (ErrorKind, bool) {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Kind, true
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}
