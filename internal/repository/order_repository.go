package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

type OrderRepository struct {
	db sqlx.ExtContext
}

func NewOrderRepository(db sqlx.ExtContext) *OrderRepository {
	return &OrderRepository{db: db}
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	query := `
		INSERT INTO orders (
			id, order_number, buyer_id, seller_id, order_type, service_id, project_id, bid_id, tier, title,
			subtotal, buyer_fee, seller_fee, total_amount, seller_earnings, currency,
			delivery_days, revisions_allowed, revisions_used, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.Type, o.ServiceID, o.ProjectID, o.BidID, o.Tier, o.Title,
		o.Subtotal, o.BuyerFee, o.SellerFee, o.TotalAmount, o.SellerEarnings, o.Currency,
		o.DeliveryDays, o.RevisionsAllowed, o.RevisionsUsed, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return apperror.Wrap(err, apperror.ErrCodeConflict, "номер заказа уже занят")
		}
		return fmt.Errorf("order repository: create %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, r.db, "orders", id, apperror.ErrOrderNotFound)
}

func (r *OrderRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, r.db, &orders, `
		SELECT * FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("order repository: list by participant %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []valueobject.OrderStatus, to valueobject.OrderStatus, patch repository.OrderPatch) (*models.Order, error) {
	query := `
		UPDATE orders SET
			status = $3,
			delivery_deadline = COALESCE($4, delivery_deadline),
			requirements = COALESCE($5, requirements),
			revisions_used = revisions_used + CASE WHEN $6::boolean THEN 1 ELSE 0 END,
			cancelled_by = COALESCE($7, cancelled_by),
			cancellation_reason = COALESCE($8, cancellation_reason),
			cancelled_at = CASE WHEN $7::uuid IS NOT NULL THEN NOW() ELSE cancelled_at END,
			completed_at = CASE WHEN $9::boolean THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
			AND (NOT $6::boolean OR revisions_used < revisions_allowed)
		RETURNING *
	`
	var o models.Order
	err := sqlx.GetContext(ctx, r.db, &o, query,
		id, common.StatusArray(from), to,
		patch.DeliveryDeadline, patch.Requirements, patch.IncrementRevisions,
		patch.CancelledBy, patch.CancellationReason, patch.Complete,
	)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order repository: transition %w", err)
	}

	// Строка не подошла под условие: выясняем почему
	var cur struct {
		Status           valueobject.OrderStatus `db:"status"`
		RevisionsUsed    int                     `db:"revisions_used"`
		RevisionsAllowed int                     `db:"revisions_allowed"`
	}
	err = sqlx.GetContext(ctx, r.db, &cur, `SELECT status, revisions_used, revisions_allowed FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order repository: reread status %w", err)
	}
	if patch.IncrementRevisions && cur.Status.In(from...) && cur.RevisionsUsed >= cur.RevisionsAllowed {
		return nil, apperror.ErrRevisionLimit
	}
	return nil, apperror.IllegalTransition("order", string(cur.Status), string(to))
}

func (r *OrderRepository) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Attachments == nil {
		d.Attachments = pq.StringArray{}
	}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO order_deliveries (id, order_id, milestone_id, seller_id, message, attachments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, d.ID, d.OrderID, d.MilestoneID, d.SellerID, d.Message, d.Attachments).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("order repository: create delivery %w", err)
	}
	return nil
}

func (r *OrderRepository) ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := sqlx.SelectContext(ctx, r.db, &deliveries, `
		SELECT * FROM order_deliveries WHERE order_id = $1 ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: list deliveries %w", err)
	}
	return deliveries, nil
}
