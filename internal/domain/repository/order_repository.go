package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

// OrderPatch дополнительные поля, которые меняются вместе со статусом.
type OrderPatch struct {
	DeliveryDeadline   *time.Time
	Requirements       *string
	IncrementRevisions bool
	CancelledBy        *uuid.UUID
	CancellationReason *string
	Complete           bool
}

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error)
	// TransitionStatus атомарно переводит заказ в статус to, если текущий входит в from.
	// Иначе возвращает ILLEGAL_TRANSITION с фактическим статусом.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []valueobject.OrderStatus, to valueobject.OrderStatus, patch OrderPatch) (*models.Order, error)

	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error)
}

type MilestoneRepository interface {
	CreateBatch(ctx context.Context, milestones []models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Milestone, error)
	Transition(ctx context.Context, id uuid.UUID, from []valueobject.MilestoneStatus, to valueobject.MilestoneStatus) (*models.Milestone, error)
}

type HistoryRepository interface {
	Add(ctx context.Context, entry *models.OrderHistory) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error)
}
