package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

// Transaction запись журнала движения денег. После перехода из pending не меняется.
type Transaction struct {
	ID                    uuid.UUID                     `db:"id" json:"id"`
	UserID                uuid.UUID                     `db:"user_id" json:"user_id"`
	OrderID               *uuid.UUID                    `db:"order_id" json:"order_id,omitempty"`
	MilestoneID           *uuid.UUID                    `db:"milestone_id" json:"milestone_id,omitempty"`
	Type                  valueobject.TransactionType   `db:"type" json:"type"`
	Amount                int64                         `db:"amount" json:"amount"`
	Currency              string                        `db:"currency" json:"currency"`
	Provider              *valueobject.Provider         `db:"provider" json:"provider,omitempty"`
	ProviderReference     *string                       `db:"provider_reference" json:"provider_reference,omitempty"`
	ProviderTransactionID *string                       `db:"provider_transaction_id" json:"provider_transaction_id,omitempty"`
	Status                valueobject.TransactionStatus `db:"status" json:"status"`
	ErrorMessage          *string                       `db:"error_message" json:"error_message,omitempty"`
	Description           *string                       `db:"description" json:"description,omitempty"`
	CreatedAt             time.Time                     `db:"created_at" json:"created_at"`
	CompletedAt           *time.Time                    `db:"completed_at" json:"completed_at,omitempty"`
}

// IsPending сообщает, ждёт ли запись подтверждения от провайдера.
func (t *Transaction) IsPending() bool {
	return t.Status == valueobject.TransactionStatusPending
}
