package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Order описывает покупку услуги или проектного заказа по ставке.
// Все денежные поля хранятся в минорных единицах.
type Order struct {
	ID                 uuid.UUID               `db:"id" json:"id"`
	OrderNumber        string                  `db:"order_number" json:"order_number"`
	BuyerID            uuid.UUID               `db:"buyer_id" json:"buyer_id"`
	SellerID           uuid.UUID               `db:"seller_id" json:"seller_id"`
	Type               valueobject.OrderType   `db:"order_type" json:"order_type"`
	ServiceID          *uuid.UUID              `db:"service_id" json:"service_id,omitempty"`
	ProjectID          *uuid.UUID              `db:"project_id" json:"project_id,omitempty"`
	BidID              *uuid.UUID              `db:"bid_id" json:"bid_id,omitempty"`
	Tier               *string                 `db:"tier" json:"tier,omitempty"`
	Title              string                  `db:"title" json:"title"`
	Subtotal           int64                   `db:"subtotal" json:"subtotal"`
	BuyerFee           int64                   `db:"buyer_fee" json:"buyer_fee"`
	SellerFee          int64                   `db:"seller_fee" json:"seller_fee"`
	TotalAmount        int64                   `db:"total_amount" json:"total_amount"`
	SellerEarnings     int64                   `db:"seller_earnings" json:"seller_earnings"`
	Currency           string                  `db:"currency" json:"currency"`
	DeliveryDays       int                     `db:"delivery_days" json:"delivery_days"`
	DeliveryDeadline   *time.Time              `db:"delivery_deadline" json:"delivery_deadline,omitempty"`
	RevisionsAllowed   int                     `db:"revisions_allowed" json:"revisions_allowed"`
	RevisionsUsed      int                     `db:"revisions_used" json:"revisions_used"`
	Requirements       *string                 `db:"requirements" json:"requirements,omitempty"`
	Status             valueobject.OrderStatus `db:"status" json:"status"`
	CancelledBy        *uuid.UUID              `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string                 `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time              `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time              `db:"completed_at" json:"completed_at,omitempty"`
	BuyerReviewed      bool                    `db:"buyer_reviewed" json:"buyer_reviewed"`
	SellerReviewed     bool                    `db:"seller_reviewed" json:"seller_reviewed"`
	CreatedAt          time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at" json:"updated_at"`
	Milestones         []Milestone             `db:"-" json:"milestones,omitempty"`
}

// IsParticipant сообщает, является ли пользователь покупателем или продавцом.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// Counterparty возвращает вторую сторону сделки.
func (o *Order) Counterparty(userID uuid.UUID) uuid.UUID {
	if o.BuyerID == userID {
		return o.SellerID
	}
	return o.BuyerID
}

// CheckTotals проверяет денежный инвариант заказа.
func (o *Order) CheckTotals() error {
	if o.TotalAmount != o.Subtotal+o.BuyerFee || o.SellerEarnings != o.Subtotal-o.SellerFee {
		return apperror.New(apperror.ErrCodeInvariant, "суммы заказа не сходятся")
	}
	return nil
}

// Milestone этап проектного заказа с собственным эскроу.
type Milestone struct {
	ID          uuid.UUID                   `db:"id" json:"id"`
	OrderID     uuid.UUID                   `db:"order_id" json:"order_id"`
	Title       string                      `db:"title" json:"title"`
	Description *string                     `db:"description" json:"description,omitempty"`
	Amount      int64                       `db:"amount" json:"amount"`
	SortOrder   int                         `db:"sort_order" json:"sort_order"`
	DueDate     *time.Time                  `db:"due_date" json:"due_date,omitempty"`
	Status      valueobject.MilestoneStatus `db:"status" json:"status"`
	FundedAt    *time.Time                  `db:"funded_at" json:"funded_at,omitempty"`
	DeliveredAt *time.Time                  `db:"delivered_at" json:"delivered_at,omitempty"`
	ReleasedAt  *time.Time                  `db:"released_at" json:"released_at,omitempty"`
	CreatedAt   time.Time                   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                   `db:"updated_at" json:"updated_at"`
}

// Delivery запись о сдаче работы продавцом.
type Delivery struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	OrderID     uuid.UUID      `db:"order_id" json:"order_id"`
	MilestoneID *uuid.UUID     `db:"milestone_id" json:"milestone_id,omitempty"`
	SellerID    uuid.UUID      `db:"seller_id" json:"seller_id"`
	Message     string         `db:"message" json:"message"`
	Attachments pq.StringArray `db:"attachments" json:"attachments"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
