package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

// ErrDuplicateEntry повторная запись по уникальному ключу журнала:
// (provider, provider_reference) или второй escrow_release по этапу.
var ErrDuplicateEntry = apperror.New(apperror.ErrCodeInvariant, "запись журнала уже существует")

type LedgerRepository struct {
	db sqlx.ExtContext
}

func NewLedgerRepository(db sqlx.ExtContext) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ repository.LedgerRepository = (*LedgerRepository)(nil)

func (r *LedgerRepository) Create(ctx context.Context, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO transactions (
			id, user_id, order_id, milestone_id, type, amount, currency,
			provider, provider_reference, provider_transaction_id, status, error_message, description, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		t.ID, t.UserID, t.OrderID, t.MilestoneID, t.Type, t.Amount, t.Currency,
		t.Provider, t.ProviderReference, t.ProviderTransactionID, t.Status, t.ErrorMessage, t.Description, t.CompletedAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return apperror.Wrap(err, ErrDuplicateEntry.Code, ErrDuplicateEntry.Message)
		}
		return fmt.Errorf("ledger repository: create %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return common.GetByID[models.Transaction](ctx, r.db, "transactions", id, apperror.ErrTransactionNotFound)
}

func (r *LedgerRepository) GetByReference(ctx context.Context, provider valueobject.Provider, reference string, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT * FROM transactions WHERE provider = $1 AND provider_reference = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var t models.Transaction
	err := sqlx.GetContext(ctx, r.db, &t, query, provider, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get by reference %w", err)
	}
	return &t, nil
}

func (r *LedgerRepository) Complete(ctx context.Context, id uuid.UUID, providerTransactionID *string) (*models.Transaction, error) {
	var t models.Transaction
	err := sqlx.GetContext(ctx, r.db, &t, `
		UPDATE transactions
		SET status = 'completed', completed_at = NOW(),
			provider_transaction_id = COALESCE($2, provider_transaction_id)
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id, providerTransactionID)
	if err != nil {
		return nil, r.settleError(ctx, err, id, valueobject.TransactionStatusCompleted)
	}
	return &t, nil
}

func (r *LedgerRepository) Fail(ctx context.Context, id uuid.UUID, message string) (*models.Transaction, error) {
	var t models.Transaction
	err := sqlx.GetContext(ctx, r.db, &t, `
		UPDATE transactions SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id, message)
	if err != nil {
		return nil, r.settleError(ctx, err, id, valueobject.TransactionStatusFailed)
	}
	return &t, nil
}

// settleError отличает уже закрытую запись от ошибки БД.
func (r *LedgerRepository) settleError(ctx context.Context, err error, id uuid.UUID, to valueobject.TransactionStatus) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger repository: settle %w", err)
	}
	var cur valueobject.TransactionStatus
	err = sqlx.GetContext(ctx, r.db, &cur, `SELECT status FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger repository: reread status %w", err)
	}
	return apperror.IllegalTransition("transaction", string(cur), string(to))
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := sqlx.SelectContext(ctx, r.db, &txns, `
		SELECT * FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list by user %w", err)
	}
	return txns, nil
}

func (r *LedgerRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := sqlx.SelectContext(ctx, r.db, &txns, `
		SELECT * FROM transactions WHERE order_id = $1 ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list by order %w", err)
	}
	return txns, nil
}

// ExpirePending переводит в failed только зависшие pending-записи.
func (r *LedgerRepository) ExpirePending(ctx context.Context, createdBefore time.Time, message string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET status = 'failed', error_message = $2
		WHERE status = 'pending' AND created_at < $1
	`, createdBefore, message)
	if err != nil {
		return 0, fmt.Errorf("ledger repository: expire pending %w", err)
	}
	return res.RowsAffected()
}
