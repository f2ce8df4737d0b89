package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
)

const invoiceColumns = `
	id, vendor_id, submitted_by_user_id, amount, currency, invoice_date,
	po_number, project_id, line_items, status, finance_approval, pm_approval,
	matching, assigned_pm_id, source_document, extracted_fields, version,
	created_at, updated_at`

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) port.InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// invoiceRow holds the encoded column values of an invoice
type invoiceRow struct {
	lineItems       string
	financeApproval string
	pmApproval      string
	matching        sql.NullString
	extractedFields sql.NullString
}

func encodeInvoice(inv *entity.Invoice) (*invoiceRow, error) {
	var (
		row invoiceRow
		err error
	)
	lines := inv.LineItems
	if lines == nil {
		lines = []entity.LineItem{}
	}
	if row.lineItems, err = toJSON(lines); err != nil {
		return nil, err
	}
	if row.financeApproval, err = toJSON(inv.FinanceApproval); err != nil {
		return nil, err
	}
	if row.pmApproval, err = toJSON(inv.PMApproval); err != nil {
		return nil, err
	}
	if row.matching, err = toNullJSON(inv.Matching, inv.Matching == nil); err != nil {
		return nil, err
	}
	if row.extractedFields, err = toNullJSON(inv.ExtractedFields, len(inv.ExtractedFields) == 0); err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a new invoice
func (r *InvoiceRepository) Create(ctx context.Context, inv *entity.Invoice) error {
	row, err := encodeInvoice(inv)
	if err != nil {
		return err
	}

	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.getExecutor(ctx).ExecContext(ctx, query,
		inv.ID,
		inv.VendorID,
		inv.SubmittedByUserID,
		inv.Amount,
		inv.Currency,
		nullTime(inv.InvoiceDate),
		inv.PONumber,
		inv.ProjectID,
		row.lineItems,
		string(inv.Status),
		row.financeApproval,
		row.pmApproval,
		row.matching,
		inv.AssignedPMID,
		inv.SourceDocument,
		row.extractedFields,
		inv.Version,
		inv.CreatedAt.UTC(),
		inv.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.String("invoice_id", inv.ID), zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	inv, err := r.scanInvoice(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice by ID", zap.String("invoice_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// Update writes every mutable column if the stored version still equals expectedVersion
func (r *InvoiceRepository) Update(ctx context.Context, inv *entity.Invoice, expectedVersion int64) error {
	row, err := encodeInvoice(inv)
	if err != nil {
		return err
	}

	query := `
		UPDATE invoices
		SET vendor_id = ?, amount = ?, currency = ?, invoice_date = ?, po_number = ?,
			project_id = ?, line_items = ?, status = ?, finance_approval = ?,
			pm_approval = ?, matching = ?, assigned_pm_id = ?, source_document = ?,
			extracted_fields = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		inv.VendorID,
		inv.Amount,
		inv.Currency,
		nullTime(inv.InvoiceDate),
		inv.PONumber,
		inv.ProjectID,
		row.lineItems,
		string(inv.Status),
		row.financeApproval,
		row.pmApproval,
		row.matching,
		inv.AssignedPMID,
		inv.SourceDocument,
		row.extractedFields,
		inv.UpdatedAt.UTC(),
		inv.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice", zap.String("invoice_id", inv.ID), zap.Error(err))
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return port.ErrVersionConflict
	}

	inv.Version = expectedVersion + 1
	return nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	return r.scanInvoices(rows)
}

// ListByStatus returns invoices in a status, oldest first
func (r *InvoiceRepository) ListByStatus(ctx context.Context, status workflow.Status, limit, offset int) ([]*entity.Invoice, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status = ? ORDER BY created_at, id LIMIT ? OFFSET ?`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, string(status), limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices by status", zap.String("status", string(status)), zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices by status: %w", err)
	}
	defer rows.Close()

	return r.scanInvoices(rows)
}

// DistinctStatuses returns the raw stored status strings
func (r *InvoiceRepository) DistinctStatuses(ctx context.Context) ([]string, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `SELECT DISTINCT status FROM invoices ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// RewriteStatus replaces a raw status on every row holding it
func (r *InvoiceRepository) RewriteStatus(ctx context.Context, from string, to workflow.Status) (int64, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE invoices SET status = ?, version = version + 1 WHERE status = ?`,
		string(to), from,
	)
	if err != nil {
		r.logger.Error("Failed to rewrite status", zap.String("from", from), zap.String("to", string(to)), zap.Error(err))
		return 0, fmt.Errorf("failed to rewrite status: %w", err)
	}
	return result.RowsAffected()
}

func (r *InvoiceRepository) scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var (
		inv             entity.Invoice
		status          string
		invoiceDate     sql.NullTime
		lineItems       sql.NullString
		financeApproval sql.NullString
		pmApproval      sql.NullString
		matching        sql.NullString
		extractedFields sql.NullString
	)

	err := row.Scan(
		&inv.ID,
		&inv.VendorID,
		&inv.SubmittedByUserID,
		&inv.Amount,
		&inv.Currency,
		&invoiceDate,
		&inv.PONumber,
		&inv.ProjectID,
		&lineItems,
		&status,
		&financeApproval,
		&pmApproval,
		&matching,
		&inv.AssignedPMID,
		&inv.SourceDocument,
		&extractedFields,
		&inv.Version,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Legacy spellings must be rewritten by normalize-status before they can be read
	inv.Status, err = workflow.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	if invoiceDate.Valid {
		inv.InvoiceDate = invoiceDate.Time
	}

	if err := fromJSON(lineItems, &inv.LineItems); err != nil {
		return nil, err
	}
	if err := fromJSON(financeApproval, &inv.FinanceApproval); err != nil {
		return nil, err
	}
	if err := fromJSON(pmApproval, &inv.PMApproval); err != nil {
		return nil, err
	}
	if matching.Valid {
		inv.Matching = &entity.MatchResult{}
		if err := fromJSON(matching, inv.Matching); err != nil {
			return nil, err
		}
	}
	if err := fromJSON(extractedFields, &inv.ExtractedFields); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) scanInvoices(rows *sql.Rows) ([]*entity.Invoice, error) {
	invoices := make([]*entity.Invoice, 0)
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *InvoiceRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
