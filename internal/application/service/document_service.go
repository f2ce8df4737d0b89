package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// maxDocumentSize bounds a single upload
const maxDocumentSize = 20 << 20

var spreadsheetExtensions = map[string]bool{".xlsx": true, ".xlsm": true}

// UploadDocumentInput carries one uploaded supporting document
type UploadDocumentInput struct {
	Kind     entity.DocumentKind
	FileName string
	Content  []byte
}

// InvoiceReader resolves an invoice the actor may see
type InvoiceReader interface {
	GetInvoice(ctx context.Context, actor *entity.Actor, invoiceID string) (*entity.Invoice, error)
}

// DocumentService stores supporting documents and validates spreadsheets.
// The validation report is metadata; it never changes the invoice status.
type DocumentService interface {
	ValidateSpreadsheet(ctx context.Context, actor *entity.Actor, invoiceID string, input UploadDocumentInput) (*entity.DocumentRecord, error)
	ListDocuments(ctx context.Context, actor *entity.Actor, invoiceID string) ([]*entity.DocumentRecord, error)
}

type documentServiceImpl struct {
	invoices  InvoiceReader
	repo      port.DocumentRepository
	storage   port.FileStorage
	validator port.SpreadsheetValidator
	audit     AuditService
	logger    Logger
	now       func() time.Time
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	invoices InvoiceReader,
	repo port.DocumentRepository,
	storage port.FileStorage,
	validator port.SpreadsheetValidator,
	audit AuditService,
	logger Logger,
) DocumentService {
	return &documentServiceImpl{
		invoices:  invoices,
		repo:      repo,
		storage:   storage,
		validator: validator,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *documentServiceImpl) ValidateSpreadsheet(ctx context.Context, actor *entity.Actor, invoiceID string, input UploadDocumentInput) (*entity.DocumentRecord, error) {
	cmd := workflow.CommandUploadDocument

	if _, err := s.invoices.GetInvoice(ctx, actor, invoiceID); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(input.FileName))
	switch {
	case len(input.Content) == 0:
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "document is empty")
	case len(input.Content) > maxDocumentSize:
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "document exceeds %d bytes", maxDocumentSize)
	case input.Kind.IsSpreadsheet() && !spreadsheetExtensions[ext]:
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "%s must be an .xlsx workbook, got %q", input.Kind, input.FileName)
	case !input.Kind.IsSpreadsheet() && input.Kind != entity.DocumentSourceInvoice:
		return nil, workflow.NewError(workflow.KindValidation, invoiceID, cmd, "unknown document kind %q", input.Kind)
	}

	doc := &entity.DocumentRecord{
		ID:         uuid.NewString(),
		InvoiceID:  invoiceID,
		Kind:       input.Kind,
		UploadedBy: actor.ID,
		CreatedAt:  s.now(),
	}
	doc.Path = port.DocumentPath(invoiceID, doc.ID, input.FileName)

	if err := s.storage.Save(ctx, doc.Path, input.Content); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	if input.Kind.IsSpreadsheet() {
		report, err := s.validator.Validate(ctx, input.Kind, s.storage.GetFullPath(doc.Path))
		if err != nil {
			s.logger.Error("Spreadsheet validation failed", "error", err, "invoice_id", invoiceID, "kind", input.Kind)
			s.discard(ctx, doc.Path)
			return nil, fmt.Errorf("validate %s: %w", input.Kind, err)
		}
		doc.Validation = report
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		s.logger.Error("Failed to create document record", "error", err, "invoice_id", invoiceID)
		s.discard(ctx, doc.Path)
		return nil, fmt.Errorf("create document record: %w", err)
	}

	details := fmt.Sprintf("%s %s uploaded", input.Kind, input.FileName)
	if doc.Validation != nil {
		details += fmt.Sprintf(", valid=%t, %d errors, %d warnings",
			doc.Validation.IsValid, len(doc.Validation.Errors), len(doc.Validation.Warnings))
	}
	s.audit.Record(ctx, &entity.AuditEntry{
		InvoiceID: invoiceID,
		ActorName: actor.DisplayName(),
		Action:    entity.ActionDocumentValidated,
		Details:   details,
		Timestamp: doc.CreatedAt,
	})

	s.logger.Info("Document uploaded", "invoice_id", invoiceID, "document_id", doc.ID, "kind", input.Kind)
	return doc, nil
}

// discard removes an upload whose record was never written
func (s *documentServiceImpl) discard(ctx context.Context, path string) {
	if err := s.storage.Delete(ctx, path); err != nil {
		s.logger.Error("Failed to remove orphaned upload", "error", err, "path", path)
	}
}

func (s *documentServiceImpl) ListDocuments(ctx context.Context, actor *entity.Actor, invoiceID string) ([]*entity.DocumentRecord, error) {
	if _, err := s.invoices.GetInvoice(ctx, actor, invoiceID); err != nil {
		return nil, err
	}
	docs, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
