package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// StatusRewrite is one legacy spelling rewritten to its canonical status
type StatusRewrite struct {
	From     string          `json:"from"`
	To       workflow.Status `json:"to"`
	Invoices int64           `json:"invoices"`
}

// NormalizationReport summarises a normalization run
type NormalizationReport struct {
	Rewrites []StatusRewrite `json:"rewrites"`
	DryRun   bool            `json:"dry_run"`
}

// Total returns the number of invoices rewritten (or that would be)
func (r *NormalizationReport) Total() int64 {
	var n int64
	for _, rw := range r.Rewrites {
		n += rw.Invoices
	}
	return n
}

// StatusNormalizer rewrites stored legacy status spellings to canonical values
type StatusNormalizer interface {
	Normalize(ctx context.Context, dryRun bool) (*NormalizationReport, error)
}

type statusNormalizerImpl struct {
	invoiceRepo port.InvoiceRepository
	txManager   port.TransactionManager
	audit       AuditService
	logger      Logger
}

// NewStatusNormalizer creates a new StatusNormalizer
func NewStatusNormalizer(invoiceRepo port.InvoiceRepository, txManager port.TransactionManager, audit AuditService, logger Logger) StatusNormalizer {
	return &statusNormalizerImpl{
		invoiceRepo: invoiceRepo,
		txManager:   txManager,
		audit:       audit,
		logger:      logger,
	}
}

// Normalize runs in a single transaction. Any stored value with no canonical
// mapping aborts the run before anything is rewritten.
func (s *statusNormalizerImpl) Normalize(ctx context.Context, dryRun bool) (*NormalizationReport, error) {
	report := &NormalizationReport{DryRun: dryRun, Rewrites: []StatusRewrite{}}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		stored, err := s.invoiceRepo.DistinctStatuses(txCtx)
		if err != nil {
			return fmt.Errorf("list stored statuses: %w", err)
		}
		sort.Strings(stored)

		var unknown []string
		var plan []StatusRewrite
		for _, raw := range stored {
			if workflow.Status(raw).IsValid() {
				continue
			}
			canonical, err := workflow.NormalizeLegacyStatus(raw)
			if err != nil {
				unknown = append(unknown, fmt.Sprintf("%q", raw))
				continue
			}
			plan = append(plan, StatusRewrite{From: raw, To: canonical})
		}
		if len(unknown) > 0 {
			return fmt.Errorf("%w: no canonical mapping for %s", workflow.ErrInvalidStatus, strings.Join(unknown, ", "))
		}

		for _, rw := range plan {
			if dryRun {
				report.Rewrites = append(report.Rewrites, rw)
				continue
			}
			n, err := s.invoiceRepo.RewriteStatus(txCtx, rw.From, rw.To)
			if err != nil {
				return fmt.Errorf("rewrite status %q: %w", rw.From, err)
			}
			rw.Invoices = n
			report.Rewrites = append(report.Rewrites, rw)

			s.audit.Record(txCtx, &entity.AuditEntry{
				ActorName: entity.SystemActorName,
				Action:    entity.ActionStatusNormalized,
				Details:   fmt.Sprintf("rewrote %d invoices from %q to %s", n, rw.From, rw.To),
			})
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Status normalization failed", "error", err)
		return nil, err
	}

	s.logger.Info("Status normalization finished", "rewrites", len(report.Rewrites), "invoices", report.Total(), "dry_run", dryRun)
	return report, nil
}
