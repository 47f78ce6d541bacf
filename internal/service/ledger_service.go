package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const expiredMessage = "expired: no confirmation from provider"

// LedgerService чтение журнала и обслуживание зависших платежей.
type LedgerService struct {
	base
}

func NewLedgerService(store repository.Store, m *metrics.Collector) *LedgerService {
	return &LedgerService{base: newBase(store, nil, m)}
}

// ListTransactions транзакции пользователя, новые сверху.
func (s *LedgerService) ListTransactions(ctx context.Context, actor Actor, limit, offset int) ([]models.Transaction, error) {
	limit, offset = normalizePage(limit, offset)
	return s.store.Ledger().ListByUser(ctx, actor.ID, limit, offset)
}

// ListOrderTransactions транзакции заказа. Видны участникам и администратору.
func (s *LedgerService) ListOrderTransactions(ctx context.Context, actor Actor, orderID uuid.UUID) ([]models.Transaction, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.store.Ledger().ListByOrder(ctx, orderID)
}

// EscrowedAmount сумма, которая сейчас удерживается по заказу.
func (s *LedgerService) EscrowedAmount(ctx context.Context, actor Actor, orderID uuid.UUID) (int64, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if !order.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return 0, apperror.ErrForbidden
	}
	var milestones []models.Milestone
	if order.Type == valueobject.OrderTypeProject {
		if milestones, err = s.store.Milestones().ListByOrder(ctx, order.ID); err != nil {
			return 0, err
		}
	}
	return EscrowedAmount(order, milestones), nil
}

// ExpireStalePending переводит в failed ожидающие записи старше olderThan.
// Завершёнными такие записи не становятся никогда.
func (s *LedgerService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperror.New(apperror.ErrCodeValidation, "порог устаревания должен быть положительным")
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.store.Ledger().ExpirePending(ctx, cutoff, expiredMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.L().WithFields(logrus.Fields{
			"expired": n,
			"cutoff":  cutoff,
		}).Info("Устаревшие платежи переведены в failed")
	}
	s.metrics.PendingExpired(n)
	return n, nil
}

// RunReaper раз в interval вызывает ExpireStalePending, пока не отменён ctx.
func (s *LedgerService) RunReaper(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStalePending(ctx, olderThan); err != nil && ctx.Err() == nil {
				logger.L().WithError(err).Error("Не удалось закрыть устаревшие платежи")
			}
		}
	}
}
