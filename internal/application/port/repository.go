package port

import (
	"context"
	"errors"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// ErrVersionConflict is returned by versioned writes when the stored version
// no longer matches the version the caller read
var ErrVersionConflict = errors.New("version conflict")

// InvoiceRepository defines persistence operations for Invoice.
// Get methods return (nil, nil) when the row does not exist.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)

	// Update writes the invoice only if the stored version equals expectedVersion.
	// On success inv.Version is advanced; otherwise ErrVersionConflict.
	Update(ctx context.Context, inv *entity.Invoice, expectedVersion int64) error

	List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error)
	// ListByStatus returns the oldest invoices first; limit <= 0 means no limit
	ListByStatus(ctx context.Context, status workflow.Status, limit, offset int) ([]*entity.Invoice, error)

	// DistinctStatuses returns every raw status string stored, canonical or not
	DistinctStatuses(ctx context.Context) ([]string, error)
	// RewriteStatus replaces a raw status string on all rows and bumps their version
	RewriteStatus(ctx context.Context, from string, to workflow.Status) (int64, error)
}

// DelegationRepository stores one versioned delegation record per source actor
type DelegationRepository interface {
	Get(ctx context.Context, fromActorID string) (*entity.Delegation, error)

	// Save inserts when expectedVersion is 0, otherwise replaces the record
	// only if its version equals expectedVersion. Loss is ErrVersionConflict.
	Save(ctx context.Context, rec *entity.Delegation, expectedVersion int64) error

	// ListActiveTo returns active records targeting the actor, expired or not
	ListActiveTo(ctx context.Context, toActorID string) ([]*entity.Delegation, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.AuditEntry, error)
}

// ProcurementRepository reads purchase orders and goods receipts
type ProcurementRepository interface {
	GetPurchaseOrder(ctx context.Context, number string) (*entity.PurchaseOrder, error)
	GetGoodsReceipt(ctx context.Context, poNumber string) (*entity.GoodsReceipt, error)
}

// ActorRepository defines persistence operations for Actor
type ActorRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Actor, error)
	Upsert(ctx context.Context, actor *entity.Actor) error
}

// DocumentRepository defines persistence operations for DocumentRecord
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.DocumentRecord) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.DocumentRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
