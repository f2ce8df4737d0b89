package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
)

// ProcurementRepository reads purchase orders and goods receipts.
// The Save methods load reference data; the lifecycle never writes it.
type ProcurementRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProcurementRepository creates a new procurement repository
func NewProcurementRepository(db *sql.DB, logger *zap.Logger) *ProcurementRepository {
	return &ProcurementRepository{
		db:     db,
		logger: logger,
	}
}

// GetPurchaseOrder retrieves a purchase order by number
func (r *ProcurementRepository) GetPurchaseOrder(ctx context.Context, number string) (*entity.PurchaseOrder, error) {
	var (
		po    entity.PurchaseOrder
		lines sql.NullString
	)

	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT number, vendor_id, lines FROM purchase_orders WHERE number = ?`, number,
	).Scan(&po.Number, &po.VendorID, &lines)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get purchase order", zap.String("po_number", number), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}

	if err := fromJSON(lines, &po.Lines); err != nil {
		return nil, err
	}
	return &po, nil
}

// GetGoodsReceipt retrieves the goods receipt recorded against a purchase order
func (r *ProcurementRepository) GetGoodsReceipt(ctx context.Context, poNumber string) (*entity.GoodsReceipt, error) {
	var (
		gr         entity.GoodsReceipt
		lines      sql.NullString
		receivedAt sql.NullTime
	)

	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT id, po_number, lines, received_at FROM goods_receipts WHERE po_number = ?`, poNumber,
	).Scan(&gr.ID, &gr.PONumber, &lines, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get goods receipt", zap.String("po_number", poNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get goods receipt: %w", err)
	}

	if err := fromJSON(lines, &gr.Lines); err != nil {
		return nil, err
	}
	if receivedAt.Valid {
		gr.ReceivedAt = receivedAt.Time
	}
	return &gr, nil
}

// SavePurchaseOrder inserts or replaces a purchase order
func (r *ProcurementRepository) SavePurchaseOrder(ctx context.Context, po *entity.PurchaseOrder) error {
	lines, err := toJSON(nonNilLines(po.Lines))
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO purchase_orders (number, vendor_id, lines) VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET vendor_id = excluded.vendor_id, lines = excluded.lines
	`, po.Number, po.VendorID, lines)
	if err != nil {
		r.logger.Error("Failed to save purchase order", zap.String("po_number", po.Number), zap.Error(err))
		return fmt.Errorf("failed to save purchase order: %w", err)
	}
	return nil
}

// SaveGoodsReceipt inserts or replaces the goods receipt of a purchase order
func (r *ProcurementRepository) SaveGoodsReceipt(ctx context.Context, gr *entity.GoodsReceipt) error {
	lines, err := toJSON(nonNilLines(gr.Lines))
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO goods_receipts (id, po_number, lines, received_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(po_number) DO UPDATE SET id = excluded.id, lines = excluded.lines, received_at = excluded.received_at
	`, gr.ID, gr.PONumber, lines, nullTime(gr.ReceivedAt))
	if err != nil {
		r.logger.Error("Failed to save goods receipt", zap.String("po_number", gr.PONumber), zap.Error(err))
		return fmt.Errorf("failed to save goods receipt: %w", err)
	}
	return nil
}

func nonNilLines(lines []entity.LineItem) []entity.LineItem {
	if lines == nil {
		return []entity.LineItem{}
	}
	return lines
}

func (r *ProcurementRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.ProcurementRepository = (*ProcurementRepository)(nil)
