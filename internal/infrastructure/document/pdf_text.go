package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
)

// defaultMaxPages limits how much of a long PDF is read
const defaultMaxPages = 5

// PDFTextExtractor implements port.TextExtractor with mupdf
type PDFTextExtractor struct {
	maxPages int
	logger   *zap.Logger
}

// NewPDFTextExtractor creates a text extractor reading at most maxPages
// pages; zero or less uses the default.
func NewPDFTextExtractor(maxPages int, logger *zap.Logger) *PDFTextExtractor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &PDFTextExtractor{
		maxPages: maxPages,
		logger:   logger,
	}
}

// ExtractText returns the text of the first pages, separated by form feeds
func (e *PDFTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("PDF file not found: %w", err)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > e.maxPages {
		pages = e.maxPages
	}

	var b strings.Builder
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", n+1, err)
		}
		if n > 0 {
			b.WriteString("\f")
		}
		b.WriteString(text)
	}

	e.logger.Info("Extracted PDF text",
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("chars", b.Len()))
	return b.String(), nil
}

// Verify interface compliance
var _ port.TextExtractor = (*PDFTextExtractor)(nil)
