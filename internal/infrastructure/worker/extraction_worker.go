package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// ExtractionWorkerConfig holds configuration for the extraction worker
type ExtractionWorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
	// MaxAttempts bounds retries of an invoice stuck in DIGITIZING
	MaxAttempts int
}

// DefaultExtractionWorkerConfig returns default configuration
func DefaultExtractionWorkerConfig() ExtractionWorkerConfig {
	return ExtractionWorkerConfig{
		PollInterval:   15 * time.Second,
		BatchSize:      5,
		ProcessTimeout: 2 * time.Minute,
		MaxAttempts:    3,
	}
}

// ExtractionApplier accepts extraction progress reports
type ExtractionApplier interface {
	ApplyExtractionEvent(ctx context.Context, evt service.ExtractionEvent) (*entity.Invoice, error)
}

// ExtractionWorker digitizes submitted invoices that carry a source PDF:
// RECEIVED → DIGITIZING → VALIDATION_REQUIRED with the extracted fields.
// A failed extraction leaves the invoice in DIGITIZING for the next poll.
type ExtractionWorker struct {
	config ExtractionWorkerConfig

	invoiceRepo port.InvoiceRepository
	applier     ExtractionApplier
	storage     port.FileStorage
	text        port.TextExtractor
	fields      port.FieldExtractor
	logger      *zap.Logger

	mu             sync.RWMutex
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	attempts       map[string]int
	processedCount int
	failedCount    int
	lastError      error
}

// NewExtractionWorker creates a new extraction worker
func NewExtractionWorker(
	config ExtractionWorkerConfig,
	invoiceRepo port.InvoiceRepository,
	applier ExtractionApplier,
	storage port.FileStorage,
	text port.TextExtractor,
	fields port.FieldExtractor,
	logger *zap.Logger,
) *ExtractionWorker {
	defaults := DefaultExtractionWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = defaults.ProcessTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &ExtractionWorker{
		config:      config,
		invoiceRepo: invoiceRepo,
		applier:     applier,
		storage:     storage,
		text:        text,
		fields:      fields,
		logger:      logger,
		attempts:    make(map[string]int),
	}
}

// Name returns the worker name for identification
func (w *ExtractionWorker) Name() string {
	return "ExtractionWorker"
}

// Start begins the polling loop
func (w *ExtractionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("extraction worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ExtractionWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current batch to finish
func (w *ExtractionWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	w.logger.Info("ExtractionWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))
	w.mu.RUnlock()
	return nil
}

// Stats returns counters for health reporting
func (w *ExtractionWorker) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := map[string]interface{}{
		"running":   w.isRunning,
		"processed": w.processedCount,
		"failed":    w.failedCount,
	}
	if w.lastError != nil {
		stats["last_error"] = w.lastError.Error()
	}
	return stats
}

func (w *ExtractionWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce processes one batch: invoices already DIGITIZING are retried
// first, then newly RECEIVED ones are picked up.
func (w *ExtractionWorker) RunOnce(ctx context.Context) (processed, failed int) {
	for _, status := range []workflow.Status{workflow.StatusDigitizing, workflow.StatusReceived} {
		// Invoices without a source document stay RECEIVED, so filter before batching
		invoices, err := w.invoiceRepo.ListByStatus(ctx, status, 0, 0)
		if err != nil {
			w.recordError(err)
			w.logger.Error("Failed to list invoices", zap.String("status", status.String()), zap.Error(err))
			return processed, failed
		}

		for _, inv := range invoices {
			if ctx.Err() != nil {
				return processed, failed
			}
			if !w.eligible(inv) {
				continue
			}
			if processed+failed >= w.config.BatchSize {
				return processed, failed
			}
			if err := w.process(ctx, inv); err != nil {
				failed++
				w.recordFailure(inv.ID, err)
				w.logger.Error("Extraction failed",
					zap.String("invoice_id", inv.ID),
					zap.Int("attempt", w.attemptsFor(inv.ID)),
					zap.Error(err))
				continue
			}
			processed++
			w.recordSuccess(inv.ID)
		}
	}
	return processed, failed
}

func (w *ExtractionWorker) eligible(inv *entity.Invoice) bool {
	if inv.SourceDocument == "" {
		return false
	}
	return w.attemptsFor(inv.ID) < w.config.MaxAttempts
}

func (w *ExtractionWorker) process(ctx context.Context, inv *entity.Invoice) error {
	processCtx, cancel := context.WithTimeout(ctx, w.config.ProcessTimeout)
	defer cancel()

	if inv.Status == workflow.StatusReceived {
		if _, err := w.applier.ApplyExtractionEvent(processCtx, service.ExtractionEvent{
			InvoiceID: inv.ID,
			Status:    workflow.StatusDigitizing,
		}); err != nil {
			return fmt.Errorf("begin digitizing: %w", err)
		}
	}

	if ext := strings.ToLower(filepath.Ext(inv.SourceDocument)); ext != ".pdf" {
		return fmt.Errorf("unsupported source document type %q", ext)
	}

	text, err := w.text.ExtractText(processCtx, w.storage.GetFullPath(inv.SourceDocument))
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	fields, err := w.fields.ExtractFields(processCtx, text)
	if err != nil {
		return fmt.Errorf("extract fields: %w", err)
	}

	if _, err := w.applier.ApplyExtractionEvent(processCtx, service.ExtractionEvent{
		InvoiceID:       inv.ID,
		Status:          workflow.StatusValidationRequired,
		ExtractedFields: fields,
	}); err != nil {
		return fmt.Errorf("complete extraction: %w", err)
	}

	w.logger.Info("Invoice digitized", zap.String("invoice_id", inv.ID), zap.Int("fields", len(fields)))
	return nil
}

func (w *ExtractionWorker) attemptsFor(id string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.attempts[id]
}

func (w *ExtractionWorker) recordFailure(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[id]++
	w.failedCount++
	w.lastError = err
	if w.attempts[id] == w.config.MaxAttempts {
		w.logger.Error("Giving up on invoice extraction", zap.String("invoice_id", id), zap.Int("attempts", w.attempts[id]))
	}
}

func (w *ExtractionWorker) recordSuccess(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, id)
	w.processedCount++
}

func (w *ExtractionWorker) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastError = err
}
