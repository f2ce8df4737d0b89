package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
)

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a document record with its validation report
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.DocumentRecord) error {
	validation, err := toNullJSON(doc.Validation, doc.Validation == nil)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO documents (id, invoice_id, kind, path, validation, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.InvoiceID, string(doc.Kind), doc.Path, validation, doc.UploadedBy, doc.CreatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to create document", zap.String("invoice_id", doc.InvoiceID), zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// ListByInvoice returns an invoice's documents, oldest first
func (r *DocumentRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.DocumentRecord, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, invoice_id, kind, path, validation, uploaded_by, created_at
		FROM documents
		WHERE invoice_id = ?
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list documents", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*entity.DocumentRecord, 0)
	for rows.Next() {
		var (
			doc        entity.DocumentRecord
			kind       string
			validation sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.InvoiceID, &kind, &doc.Path, &validation, &doc.UploadedBy, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Kind = entity.DocumentKind(kind)
		if validation.Valid {
			doc.Validation = &entity.ValidationReport{}
			if err := fromJSON(validation, doc.Validation); err != nil {
				return nil, err
			}
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.DocumentRepository = (*DocumentRepository)(nil)
