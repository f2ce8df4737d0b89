package event

// Type identifies the type of domain event
type Type string

const (
	TypeInvoiceSubmitted       Type = "invoice.submitted"
	TypeInvoiceStatusChanged   Type = "invoice.status_changed"
	TypeInvoiceFinanceRejected Type = "invoice.finance_rejected"
	TypeInvoicePMRejected      Type = "invoice.pm_rejected"
	TypeInvoicePMApproved      Type = "invoice.pm_approved"
	TypeDelegationChanged      Type = "delegation.changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInvoiceSubmitted,
		TypeInvoiceStatusChanged,
		TypeInvoiceFinanceRejected,
		TypeInvoicePMRejected,
		TypeInvoicePMApproved,
		TypeDelegationChanged:
		return true
	default:
		return false
	}
}

// IsNotification returns true for the event types delivered to people
func (t Type) IsNotification() bool {
	switch t {
	case TypeInvoiceFinanceRejected, TypeInvoicePMRejected, TypeInvoicePMApproved:
		return true
	default:
		return false
	}
}

// NotificationTypes lists the event types that carry recipients
func NotificationTypes() []Type {
	return []Type{TypeInvoiceFinanceRejected, TypeInvoicePMRejected, TypeInvoicePMApproved}
}
