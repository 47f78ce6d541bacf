package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

type OrderHistoryRepository struct {
	db sqlx.ExtContext
}

func NewOrderHistoryRepository(db sqlx.ExtContext) *OrderHistoryRepository {
	return &OrderHistoryRepository{db: db}
}

var _ repository.HistoryRepository = (*OrderHistoryRepository)(nil)

func (r *OrderHistoryRepository) Add(ctx context.Context, h *models.OrderHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO order_history (id, order_id, user_id, action, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, h.ID, h.OrderID, h.UserID, h.Action, nullJSON(h.OldValue), nullJSON(h.NewValue)).Scan(&h.CreatedAt)
	if err != nil {
		return fmt.Errorf("order history repository: add %w", err)
	}
	return nil
}

func (r *OrderHistoryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	var history []models.OrderHistory
	err := sqlx.SelectContext(ctx, r.db, &history, `
		SELECT * FROM order_history WHERE order_id = $1 ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order history repository: list %w", err)
	}
	return history, nil
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
