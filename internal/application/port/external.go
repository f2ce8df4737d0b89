package port

import (
	"context"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// SpreadsheetValidator checks the structure of an uploaded timesheet or rate card
type SpreadsheetValidator interface {
	Validate(ctx context.Context, kind entity.DocumentKind, path string) (*entity.ValidationReport, error)
}

// TextExtractor pulls plain text out of a source document
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// FieldExtractor turns invoice text into extracted fields:
// amount, currency, invoice_date, po_number, project_id and line_items
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string) (map[string]interface{}, error)
}

// MessageSender delivers a plain text message to a chat user
type MessageSender interface {
	SendMessage(ctx context.Context, openID string, content string) error
}
