package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

// CatalogRepository читает услуги, проекты и ставки, которыми управляет каталог.
type CatalogRepository struct {
	db sqlx.ExtContext
}

func NewCatalogRepository(db sqlx.ExtContext) *CatalogRepository {
	return &CatalogRepository{db: db}
}

var _ repository.CatalogRepository = (*CatalogRepository)(nil)

func (r *CatalogRepository) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	return common.GetByID[models.Service](ctx, r.db, "services", id, apperror.ErrServiceNotFound)
}

func (r *CatalogRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return common.GetByID[models.Project](ctx, r.db, "projects", id, apperror.ErrProjectNotFound)
}

func (r *CatalogRepository) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return common.GetByID[models.Bid](ctx, r.db, "bids", id, apperror.ErrBidNotFound)
}

// AcceptBid принимает ставку, если она ещё не принята и не отклонена.
func (r *CatalogRepository) AcceptBid(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bids SET status = 'accepted' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("catalog repository: accept bid %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog repository: accept bid %w", err)
	}
	if n == 1 {
		return nil
	}

	var cur string
	err = sqlx.GetContext(ctx, r.db, &cur, `SELECT status FROM bids WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.ErrBidNotFound
	}
	if err != nil {
		return fmt.Errorf("catalog repository: reread bid %w", err)
	}
	return apperror.IllegalTransition("bid", cur, models.BidStatusAccepted)
}
