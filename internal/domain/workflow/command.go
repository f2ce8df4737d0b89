package workflow

import "fmt"

// Command names an operation an actor (or a trusted collaborator) issues.
// Commands are what authorization and errors are expressed in; triggers are
// what the transition table is expressed in.
type Command string

const (
	CommandSubmit            Command = "SUBMIT"
	CommandApplyExtraction   Command = "APPLY_EXTRACTION"
	CommandRunReconciliation Command = "RUN_RECONCILIATION"
	CommandAssignPM          Command = "ASSIGN_PM"
	CommandFinanceDecision   Command = "RECORD_FINANCE_DECISION"
	CommandPMDecision        Command = "RECORD_PM_DECISION"
	CommandMarkPaid          Command = "MARK_PAID"
	CommandReopen            Command = "REOPEN"
	CommandUploadDocument    Command = "UPLOAD_DOCUMENT"
	CommandView              Command = "VIEW"
	CommandSetDelegation     Command = "SET_DELEGATION"
	CommandRevokeDelegation  Command = "REVOKE_DELEGATION"
)

// String returns the string representation of the command
func (c Command) String() string {
	return string(c)
}

// Decision is the outcome an approver records
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// IsValid returns true for APPROVE and REJECT
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ParseDecision converts a request value into a Decision
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return d, nil
}
