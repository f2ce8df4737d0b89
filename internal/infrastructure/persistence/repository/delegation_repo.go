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

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sql.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the delegation record of a source actor
func (r *DelegationRepository) Get(ctx context.Context, fromActorID string) (*entity.Delegation, error) {
	query := `
		SELECT from_actor_id, to_actor_id, expires_at, active, version, created_at
		FROM delegations
		WHERE from_actor_id = ?
	`

	rec, err := scanDelegation(r.getExecutor(ctx).QueryRowContext(ctx, query, fromActorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delegation", zap.String("from_actor_id", fromActorID), zap.Error(err))
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return rec, nil
}

// Save inserts (expectedVersion 0) or replaces the record under a version check
func (r *DelegationRepository) Save(ctx context.Context, rec *entity.Delegation, expectedVersion int64) error {
	var (
		result sql.Result
		err    error
	)

	if expectedVersion == 0 {
		result, err = r.getExecutor(ctx).ExecContext(ctx, `
			INSERT INTO delegations (from_actor_id, to_actor_id, expires_at, active, version, created_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(from_actor_id) DO NOTHING
		`, rec.FromActorID, rec.ToActorID, rec.ExpiresAt.UTC(), rec.Active, rec.CreatedAt.UTC())
	} else {
		result, err = r.getExecutor(ctx).ExecContext(ctx, `
			UPDATE delegations
			SET to_actor_id = ?, expires_at = ?, active = ?, created_at = ?, version = version + 1
			WHERE from_actor_id = ? AND version = ?
		`, rec.ToActorID, rec.ExpiresAt.UTC(), rec.Active, rec.CreatedAt.UTC(), rec.FromActorID, expectedVersion)
	}
	if err != nil {
		r.logger.Error("Failed to save delegation", zap.String("from_actor_id", rec.FromActorID), zap.Error(err))
		return fmt.Errorf("failed to save delegation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return port.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	return nil
}

// ListActiveTo returns active records targeting the actor; expiry is the caller's check
func (r *DelegationRepository) ListActiveTo(ctx context.Context, toActorID string) ([]*entity.Delegation, error) {
	query := `
		SELECT from_actor_id, to_actor_id, expires_at, active, version, created_at
		FROM delegations
		WHERE to_actor_id = ? AND active = 1
		ORDER BY from_actor_id
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, toActorID)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.String("to_actor_id", toActorID), zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var records []*entity.Delegation
	for rows.Next() {
		rec, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDelegation(row rowScanner) (*entity.Delegation, error) {
	var rec entity.Delegation
	if err := row.Scan(&rec.FromActorID, &rec.ToActorID, &rec.ExpiresAt, &rec.Active, &rec.Version, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DelegationRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
