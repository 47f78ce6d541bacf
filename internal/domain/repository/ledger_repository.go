package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

// LedgerRepository журнал транзакций. Записи только добавляются,
// единственное изменение: pending -> completed | failed.
type LedgerRepository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// GetByReference при forUpdate блокирует строку до конца транзакции.
	GetByReference(ctx context.Context, provider valueobject.Provider, reference string, forUpdate bool) (*models.Transaction, error)
	Complete(ctx context.Context, id uuid.UUID, providerTransactionID *string) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	ExpirePending(ctx context.Context, createdBefore time.Time, message string) (int64, error)
}
