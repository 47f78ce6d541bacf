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

type DisputeRepository struct {
	db sqlx.ExtContext
}

func NewDisputeRepository(db sqlx.ExtContext) *DisputeRepository {
	return &DisputeRepository{db: db}
}

var _ repository.DisputeRepository = (*DisputeRepository)(nil)

func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	query := `
		INSERT INTO disputes (id, order_id, buyer_id, seller_id, opened_by, category, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, d.ID, d.OrderID, d.BuyerID, d.SellerID, d.OpenedBy, d.Category, d.Description, d.Status).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, apperror.ErrDisputeNotFound)
}

func (r *DisputeRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := sqlx.SelectContext(ctx, r.db, &disputes, `
		SELECT * FROM disputes WHERE order_id = $1 ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by order %w", err)
	}
	return disputes, nil
}

func (r *DisputeRepository) Transition(ctx context.Context, id uuid.UUID, from []valueobject.DisputeStatus, to valueobject.DisputeStatus, patch repository.DisputePatch) (*models.Dispute, error) {
	query := `
		UPDATE disputes SET
			status = $3,
			resolution = COALESCE($4, resolution),
			resolution_amount = COALESCE($5, resolution_amount),
			resolution_notes = COALESCE($6, resolution_notes),
			resolved_by = COALESCE($7, resolved_by),
			resolved_at = COALESCE($8, resolved_at),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`
	var d models.Dispute
	err := sqlx.GetContext(ctx, r.db, &d, query,
		id, common.StatusArray(from), to,
		patch.Resolution, patch.ResolutionAmount, patch.ResolutionNotes, patch.ResolvedBy, patch.ResolvedAt,
	)
	if err == nil {
		return &d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dispute repository: transition %w", err)
	}

	var cur valueobject.DisputeStatus
	err = sqlx.GetContext(ctx, r.db, &cur, `SELECT status FROM disputes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: reread status %w", err)
	}
	return nil, apperror.IllegalTransition("dispute", string(cur), string(to))
}

func (r *DisputeRepository) AddEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO dispute_evidence (id, dispute_id, uploader_id, kind, content, file_name, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.DisputeID, e.UploaderID, e.Kind, e.Content, e.FileName, e.MimeType).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: add evidence %w", err)
	}
	return nil
}

func (r *DisputeRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	var evidence []models.DisputeEvidence
	err := sqlx.SelectContext(ctx, r.db, &evidence, `
		SELECT * FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at ASC
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list evidence %w", err)
	}
	return evidence, nil
}
