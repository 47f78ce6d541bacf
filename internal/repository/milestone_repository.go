package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

const milestoneInsert = `INSERT INTO milestones (id, order_id, title, description, amount, sort_order, due_date, status)`

type MilestoneRepository struct {
	db sqlx.ExtContext
}

func NewMilestoneRepository(db sqlx.ExtContext) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

var _ repository.MilestoneRepository = (*MilestoneRepository)(nil)

// CreateBatch вставляет все этапы заказа одним запросом.
func (r *MilestoneRepository) CreateBatch(ctx context.Context, milestones []models.Milestone) error {
	inserter := common.NewBatchInserter(r.db, milestoneInsert, 8, len(milestones))
	for i := range milestones {
		m := &milestones[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if err := inserter.Add(ctx, m.ID, m.OrderID, m.Title, m.Description, m.Amount, m.SortOrder, m.DueDate, m.Status); err != nil {
			return fmt.Errorf("milestone repository: create batch %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("milestone repository: create batch %w", err)
	}
	return nil
}

func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return common.GetByID[models.Milestone](ctx, r.db, "milestones", id, apperror.ErrMilestoneNotFound)
}

func (r *MilestoneRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := sqlx.SelectContext(ctx, r.db, &milestones, `
		SELECT * FROM milestones WHERE order_id = $1 ORDER BY sort_order ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: list %w", err)
	}
	return milestones, nil
}

func (r *MilestoneRepository) Transition(ctx context.Context, id uuid.UUID, from []valueobject.MilestoneStatus, to valueobject.MilestoneStatus) (*models.Milestone, error) {
	query := `
		UPDATE milestones SET
			status = $3::text,
			funded_at = CASE WHEN $3::text = 'funded' THEN NOW() ELSE funded_at END,
			delivered_at = CASE WHEN $3::text = 'delivered' THEN NOW() ELSE delivered_at END,
			released_at = CASE WHEN $3::text = 'released' THEN NOW() ELSE released_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`
	var m models.Milestone
	err := sqlx.GetContext(ctx, r.db, &m, query, id, common.StatusArray(from), to)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("milestone repository: transition %w", err)
	}

	var cur valueobject.MilestoneStatus
	err = sqlx.GetContext(ctx, r.db, &cur, `SELECT status FROM milestones WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMilestoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("milestone repository: reread status %w", err)
	}
	return nil, apperror.IllegalTransition("milestone", string(cur), string(to))
}
