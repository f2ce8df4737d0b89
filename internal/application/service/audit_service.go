package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// AuditService records accepted commands. Recording is best effort.
type AuditService interface {
	// Record appends the entry; failures are logged and never returned
	Record(ctx context.Context, entry *entity.AuditEntry)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.AuditEntry, error)
}

type auditServiceImpl struct {
	repo   port.AuditRepository
	logger Logger
	now    func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(repo port.AuditRepository, logger Logger) AuditService {
	return &auditServiceImpl{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *auditServiceImpl) Record(ctx context.Context, entry *entity.AuditEntry) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.ActorName == "" {
		entry.ActorName = entity.SystemActorName
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to record audit entry",
			"error", err,
			"invoice_id", entry.InvoiceID,
			"action", entry.Action,
			"actor", entry.ActorName,
		)
	}
}

func (s *auditServiceImpl) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.AuditEntry, error) {
	entries, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
