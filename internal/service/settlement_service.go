package service

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Исходы обработки уведомления провайдера.
const (
	OutcomeApplied     = "applied"
	OutcomeReplay      = "replay"
	OutcomeFailed      = "failed"
	OutcomePending     = "pending"
	OutcomeUnknown     = "unknown"
	OutcomeIgnored     = "ignored"
	OutcomeCompensated = "compensated"
	OutcomeRejected    = "rejected"
)

const amountMismatchMessage = "amount mismatch"

type SettlementResult struct {
	Outcome       string `json:"outcome"`
	TransactionID string `json:"transaction_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
}

// SettlementService превращает проверенные уведомления шлюзов в записи журнала
// и переходы заказа или этапа. Повторная доставка ничего не меняет.
type SettlementService struct {
	base
	gateways gateway.Registry
}

func NewSettlementService(store repository.Store, gateways gateway.Registry, notifier Notifier, m *metrics.Collector) *SettlementService {
	return &SettlementService{base: newBase(store, notifier, m), gateways: gateways}
}

// HandleGatewayA обрабатывает уведомление первого шлюза.
func (s *SettlementService) HandleGatewayA(ctx context.Context, form url.Values) (*SettlementResult, error) {
	return s.HandleWebhook(ctx, valueobject.ProviderGatewayA, gateway.Webhook{Form: form})
}

// HandleGatewayB обрабатывает ITN второго шлюза с проверкой адреса отправителя.
func (s *SettlementService) HandleGatewayB(ctx context.Context, form url.Values, sourceIP string) (*SettlementResult, error) {
	return s.HandleWebhook(ctx, valueobject.ProviderGatewayB, gateway.Webhook{Form: form, SourceIP: sourceIP})
}

// HandleWebhook проверяет подпись уведомления и применяет его.
func (s *SettlementService) HandleWebhook(ctx context.Context, provider valueobject.Provider, wh gateway.Webhook) (*SettlementResult, error) {
	adapter, ok := s.gateways.Get(provider)
	if !ok {
		s.metrics.WebhookProcessed(string(provider), OutcomeRejected)
		return nil, apperror.ErrGatewayNotConfigured
	}

	ev, err := adapter.VerifyWebhook(ctx, wh)
	if err != nil {
		logger.L().WithFields(logrus.Fields{
			"provider":  provider,
			"source_ip": wh.SourceIP,
		}).WithError(err).Warn("Уведомление провайдера отклонено")
		s.metrics.WebhookProcessed(string(provider), OutcomeRejected)
		return nil, err
	}

	return s.Reconcile(ctx, ev)
}

// Reconcile применяет нормализованное событие. Поиск по референсу и
// условное обновление идут в одной транзакции под блокировкой строки.
func (s *SettlementService) Reconcile(ctx context.Context, ev *gateway.Event) (*SettlementResult, error) {
	log := logger.L().WithFields(logrus.Fields{
		"provider":  ev.Provider,
		"reference": ev.Reference,
	})

	result := &SettlementResult{}
	ac := &afterCommit{}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		txn, err := tx.Ledger().GetByReference(ctx, ev.Provider, ev.Reference, true)
		if err != nil {
			if apperror.IsNotFound(err) {
				result.Outcome = OutcomeUnknown
				return apperror.ErrUnknownTransaction
			}
			return err
		}
		result.TransactionID = txn.ID.String()
		if txn.OrderID != nil {
			result.OrderID = txn.OrderID.String()
		}

		switch txn.Status {
		case valueobject.TransactionStatusCompleted:
			result.Outcome = OutcomeReplay
			return nil
		case valueobject.TransactionStatusFailed:
			result.Outcome = OutcomeIgnored
			return nil
		}

		if !sameTarget(ev, txn) {
			log.WithFields(logrus.Fields{
				"order_id":     ev.OrderID,
				"milestone_id": ev.MilestoneID,
			}).Warn("Уведомление относится к другому заказу или этапу")
			result.Outcome = OutcomeRejected
			return nil
		}

		switch ev.Status {
		case gateway.StatusPending:
			result.Outcome = OutcomePending
			return nil
		case gateway.StatusFailed:
			msg := ev.Message
			if msg == "" {
				msg = ev.RawStatus
			}
			if _, err := tx.Ledger().Fail(ctx, txn.ID, msg); err != nil {
				return err
			}
			result.Outcome = OutcomeFailed
			ac.add(func() { s.metrics.LedgerEntry(string(txn.Type), string(valueobject.TransactionStatusFailed)) })
			s.notify(ac, txn.UserID, models.NotificationPaymentFailed, map[string]interface{}{
				"transaction_id": txn.ID,
				"order_id":       txn.OrderID,
				"message":        msg,
			})
			return nil
		}

		if ev.Amount != txn.Amount {
			log.WithFields(logrus.Fields{
				"expected": txn.Amount,
				"received": ev.Amount,
			}).Warn("Сумма уведомления не совпадает с ожидаемой")
			if _, err := tx.Ledger().Fail(ctx, txn.ID, amountMismatchMessage); err != nil {
				return err
			}
			result.Outcome = OutcomeRejected
			ac.add(func() { s.metrics.LedgerEntry(string(txn.Type), string(valueobject.TransactionStatusFailed)) })
			return nil
		}

		var providerTxID *string
		if ev.ProviderTransactionID != "" {
			id := ev.ProviderTransactionID
			providerTxID = &id
		}
		completed, err := tx.Ledger().Complete(ctx, txn.ID, providerTxID)
		if err != nil {
			return err
		}
		ac.add(func() { s.metrics.LedgerEntry(string(completed.Type), string(completed.Status)) })

		result.Outcome, err = s.applyPayment(ctx, tx, ac, completed)
		return err
	})

	if err != nil {
		if result.Outcome == OutcomeUnknown {
			log.Warn("Уведомление по неизвестному референсу")
		} else {
			log.WithError(err).Error("Не удалось применить уведомление")
		}
		outcome := result.Outcome
		if outcome == "" {
			outcome = "error"
		}
		s.metrics.WebhookProcessed(string(ev.Provider), outcome)
		return result, err
	}

	switch result.Outcome {
	case OutcomeReplay:
		log.Info("Повторное уведомление, изменений нет")
	case OutcomeCompensated:
		log.Warn("Оплата пришла по заказу, который уже нельзя оплатить: оформлен возврат")
	default:
		log.WithField("outcome", result.Outcome).Info("Уведомление обработано")
	}
	ac.run()
	s.metrics.WebhookProcessed(string(ev.Provider), result.Outcome)
	return result, nil
}

// applyPayment переводит заказ или этап после успешной оплаты. Если заказ уже
// нельзя оплатить, деньги возвращаются покупателю отдельной записью.
func (s *SettlementService) applyPayment(ctx context.Context, tx repository.Store, ac *afterCommit, txn *models.Transaction) (string, error) {
	if txn.OrderID == nil {
		return OutcomeApplied, nil
	}
	order, err := tx.Orders().GetByID(ctx, *txn.OrderID)
	if err != nil {
		return "", err
	}

	if txn.MilestoneID == nil {
		updated, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
			from: []valueobject.OrderStatus{valueobject.OrderStatusPendingPayment},
			to:   valueobject.OrderStatusPendingRequirements,
		})
		if err != nil {
			if isTransitionError(err) {
				return s.compensate(ctx, tx, ac, order, txn)
			}
			return "", err
		}
		payload := orderPayload(updated)
		s.notify(ac, order.BuyerID, models.NotificationOrderPaid, payload)
		s.notify(ac, order.SellerID, models.NotificationOrderPaid, payload)
		return OutcomeApplied, nil
	}

	if order.Status.IsTerminal() || order.Status == valueobject.OrderStatusDisputed {
		return s.compensate(ctx, tx, ac, order, txn)
	}
	milestone, err := tx.Milestones().Transition(ctx, *txn.MilestoneID,
		[]valueobject.MilestoneStatus{valueobject.MilestoneStatusPending}, valueobject.MilestoneStatusFunded)
	if err != nil {
		if isTransitionError(err) {
			return s.compensate(ctx, tx, ac, order, txn)
		}
		return "", err
	}
	if milestone.Amount != txn.Amount {
		return "", apperror.New(apperror.ErrCodeInvariant, "сумма взноса не равна сумме этапа")
	}

	if order.Status == valueobject.OrderStatusPendingPayment {
		deadline := s.now().Add(time.Duration(order.DeliveryDays) * 24 * time.Hour)
		if _, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
			from:  []valueobject.OrderStatus{valueobject.OrderStatusPendingPayment},
			to:    valueobject.OrderStatusInProgress,
			patch: repository.OrderPatch{DeliveryDeadline: &deadline},
		}); err != nil {
			return "", err
		}
	}

	payload := map[string]interface{}{
		"order_id":     order.ID,
		"milestone_id": milestone.ID,
		"amount":       milestone.Amount,
	}
	s.notify(ac, order.BuyerID, models.NotificationMilestoneFunded, payload)
	s.notify(ac, order.SellerID, models.NotificationMilestoneFunded, payload)
	return OutcomeApplied, nil
}

func (s *SettlementService) compensate(ctx context.Context, tx repository.Store, ac *afterCommit, order *models.Order, txn *models.Transaction) (string, error) {
	if _, err := s.recordMovement(ctx, tx, ac, order, txn.MilestoneID, txn.UserID,
		valueobject.TransactionTypeRefund, txn.Amount, "Возврат оплаты по заказу "+order.OrderNumber); err != nil {
		return "", err
	}
	s.notify(ac, txn.UserID, models.NotificationPaymentRefunded, map[string]interface{}{
		"order_id":       order.ID,
		"transaction_id": txn.ID,
		"amount":         txn.Amount,
	})
	return OutcomeCompensated, nil
}

func isTransitionError(err error) bool {
	return apperror.HasCode(err, apperror.ErrCodeIllegalTransition)
}

// sameTarget сверяет заказ и этап из уведомления с записью журнала.
// Провайдер может их не передавать, тогда сверять нечего.
func sameTarget(ev *gateway.Event, txn *models.Transaction) bool {
	if ev.OrderID != nil && (txn.OrderID == nil || *txn.OrderID != *ev.OrderID) {
		return false
	}
	if ev.MilestoneID != nil && (txn.MilestoneID == nil || *txn.MilestoneID != *ev.MilestoneID) {
		return false
	}
	return true
}
