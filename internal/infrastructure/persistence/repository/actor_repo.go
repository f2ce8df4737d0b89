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

// ActorRepository implements port.ActorRepository
type ActorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActorRepository creates a new actor repository
func NewActorRepository(db *sql.DB, logger *zap.Logger) port.ActorRepository {
	return &ActorRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an actor by ID
func (r *ActorRepository) GetByID(ctx context.Context, id string) (*entity.Actor, error) {
	var (
		actor    entity.Actor
		role     string
		projects sql.NullString
	)

	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, name, role, assigned_projects, vendor_id, lark_open_id
		FROM actors
		WHERE id = ?
	`, id).Scan(&actor.ID, &actor.Name, &role, &projects, &actor.VendorID, &actor.LarkOpenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get actor", zap.String("actor_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}

	actor.Role = entity.Role(role)
	if err := fromJSON(projects, &actor.AssignedProjects); err != nil {
		return nil, err
	}
	return &actor, nil
}

// Upsert inserts the actor or replaces its attributes
func (r *ActorRepository) Upsert(ctx context.Context, actor *entity.Actor) error {
	if !actor.Role.IsValid() {
		return fmt.Errorf("actor %s has unknown role %q", actor.ID, actor.Role)
	}

	projects := actor.AssignedProjects
	if projects == nil {
		projects = []string{}
	}
	encoded, err := toJSON(projects)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO actors (id, name, role, assigned_projects, vendor_id, lark_open_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			assigned_projects = excluded.assigned_projects,
			vendor_id = excluded.vendor_id,
			lark_open_id = excluded.lark_open_id,
			updated_at = CURRENT_TIMESTAMP
	`, actor.ID, actor.Name, string(actor.Role), encoded, actor.VendorID, actor.LarkOpenID)
	if err != nil {
		r.logger.Error("Failed to upsert actor", zap.String("actor_id", actor.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert actor: %w", err)
	}
	return nil
}

func (r *ActorRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.ActorRepository = (*ActorRepository)(nil)
