package port

import (
	"context"
	"path"
	"path/filepath"
	"strings"
)

// FileStorage stores invoice sources and supporting documents under
// slash-separated relative paths
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error

	// GetFullPath maps a relative path to one readers outside the storage can open
	GetFullPath(relativePath string) string
}

// SourceInvoicePath is where the submitted invoice file is kept:
// invoices/<id>/source<ext>
func SourceInvoicePath(invoiceID, fileName string) string {
	return path.Join("invoices", invoiceID, "source"+lowerExt(fileName))
}

// DocumentPath is where a supporting document is kept:
// invoices/<id>/documents/<documentID><ext>
func DocumentPath(invoiceID, documentID, fileName string) string {
	return path.Join("invoices", invoiceID, "documents", documentID+lowerExt(fileName))
}

func lowerExt(fileName string) string {
	return strings.ToLower(filepath.Ext(fileName))
}
