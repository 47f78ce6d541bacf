package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

type InitiatePaymentInput struct {
	Provider   valueobject.Provider
	BuyerEmail string
}

// PaymentInitiation ссылка на оплату и ожидающая запись журнала под неё.
type PaymentInitiation struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Reference     string               `json:"reference"`
	Provider      valueobject.Provider `json:"provider"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	RedirectURL   string               `json:"redirect_url,omitempty"`
}

// PaymentService создаёт ожидающие платежи и ссылки на оплату у шлюзов.
type PaymentService struct {
	base
	gateways    gateway.Registry
	settlement  *SettlementService
	allowManual bool
}

func NewPaymentService(store repository.Store, gateways gateway.Registry, settlement *SettlementService, notifier Notifier, m *metrics.Collector, allowManual bool) *PaymentService {
	return &PaymentService{
		base:        newBase(store, notifier, m),
		gateways:    gateways,
		settlement:  settlement,
		allowManual: allowManual,
	}
}

// payable что именно оплачивается: заказ услуги целиком или этап проекта.
type payable struct {
	order     *models.Order
	milestone *models.Milestone
	txType    valueobject.TransactionType
	amount    int64
	itemName  string
}

// InitiateOrderPayment оплата заказа услуги целиком.
func (s *PaymentService) InitiateOrderPayment(ctx context.Context, actor Actor, orderID uuid.UUID, in InitiatePaymentInput) (*PaymentInitiation, error) {
	adapter, ok := s.gateways.Get(in.Provider)
	if !ok {
		return nil, apperror.ErrGatewayNotConfigured
	}
	p, err := s.resolve(ctx, actor, orderID, nil)
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, adapter, actor, p, in.BuyerEmail)
}

// InitiateMilestonePayment внесение суммы этапа в эскроу.
func (s *PaymentService) InitiateMilestonePayment(ctx context.Context, actor Actor, orderID, milestoneID uuid.UUID, in InitiatePaymentInput) (*PaymentInitiation, error) {
	adapter, ok := s.gateways.Get(in.Provider)
	if !ok {
		return nil, apperror.ErrGatewayNotConfigured
	}
	p, err := s.resolve(ctx, actor, orderID, &milestoneID)
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, adapter, actor, p, in.BuyerEmail)
}

// SettleManually проводит оплату без внешнего шлюза через тот же путь сверки.
// Доступно, только если ручные расчёты разрешены конфигурацией.
func (s *PaymentService) SettleManually(ctx context.Context, actor Actor, orderID uuid.UUID, milestoneID *uuid.UUID) (*SettlementResult, error) {
	if !s.allowManual {
		return nil, apperror.ErrGatewayNotConfigured
	}
	p, err := s.resolve(ctx, actor, orderID, milestoneID)
	if err != nil {
		return nil, err
	}
	txn, err := s.createPending(ctx, actor, p, valueobject.ProviderManual)
	if err != nil {
		return nil, err
	}

	return s.settlement.Reconcile(ctx, &gateway.Event{
		Provider:              valueobject.ProviderManual,
		Reference:             *txn.ProviderReference,
		ProviderTransactionID: "manual-" + txn.ID.String(),
		Amount:                txn.Amount,
		Status:                gateway.StatusSuccess,
		RawStatus:             "manual",
		OrderID:               txn.OrderID,
		MilestoneID:           txn.MilestoneID,
	})
}

// resolve проверяет, что покупатель может оплатить заказ или этап прямо сейчас.
// Все проверки идут до записи в журнал.
func (s *PaymentService) resolve(ctx context.Context, actor Actor, orderID uuid.UUID, milestoneID *uuid.UUID) (*payable, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.ID {
		return nil, apperror.ErrForbidden
	}

	if order.Type == valueobject.OrderTypeService {
		if milestoneID != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "у заказа услуги нет этапов")
		}
		if order.Status != valueobject.OrderStatusPendingPayment {
			return nil, apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusPendingRequirements))
		}
		return &payable{
			order:    order,
			txType:   valueobject.TransactionTypePayment,
			amount:   order.TotalAmount,
			itemName: order.Title,
		}, nil
	}

	if milestoneID == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите этап для оплаты")
	}
	if order.Status.IsTerminal() || order.Status == valueobject.OrderStatusDisputed {
		return nil, apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusInProgress))
	}
	milestone, err := s.store.Milestones().GetByID(ctx, *milestoneID)
	if err != nil {
		return nil, err
	}
	if milestone.OrderID != order.ID {
		return nil, apperror.ErrMilestoneNotFound
	}
	if milestone.Status != valueobject.MilestoneStatusPending {
		return nil, apperror.IllegalTransition("milestone", string(milestone.Status), string(valueobject.MilestoneStatusFunded))
	}
	return &payable{
		order:     order,
		milestone: milestone,
		txType:    valueobject.TransactionTypeEscrowFund,
		amount:    milestone.Amount,
		itemName:  order.Title + ": " + milestone.Title,
	}, nil
}

func (s *PaymentService) createPending(ctx context.Context, actor Actor, p *payable, provider valueobject.Provider) (*models.Transaction, error) {
	reference := newPaymentReference()
	orderID := p.order.ID
	description := "Оплата: " + p.itemName
	txn := &models.Transaction{
		UserID:            actor.ID,
		OrderID:           &orderID,
		Type:              p.txType,
		Amount:            p.amount,
		Currency:          p.order.Currency,
		Provider:          &provider,
		ProviderReference: &reference,
		Status:            valueobject.TransactionStatusPending,
		Description:       &description,
	}
	if p.milestone != nil {
		id := p.milestone.ID
		txn.MilestoneID = &id
	}
	if err := s.store.Ledger().Create(ctx, txn); err != nil {
		return nil, err
	}
	s.metrics.LedgerEntry(string(txn.Type), string(txn.Status))
	return txn, nil
}

func (s *PaymentService) initiate(ctx context.Context, adapter gateway.Adapter, actor Actor, p *payable, email string) (*PaymentInitiation, error) {
	txn, err := s.createPending(ctx, actor, p, adapter.Provider())
	if err != nil {
		return nil, err
	}

	redirect, err := adapter.Initiate(ctx, gateway.PaymentRequest{
		Reference:   *txn.ProviderReference,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		ItemName:    p.itemName,
		OrderID:     p.order.ID,
		MilestoneID: txn.MilestoneID,
		BuyerID:     actor.ID,
		BuyerEmail:  email,
	})
	if err != nil {
		// запись остаётся pending, её закроет сборщик устаревших платежей
		logger.L().WithFields(logrus.Fields{
			"provider":  adapter.Provider(),
			"reference": *txn.ProviderReference,
			"order_id":  p.order.ID,
		}).WithError(err).Error("Шлюз не принял платёж")
		return nil, apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёж не может быть обработан")
	}

	return &PaymentInitiation{
		TransactionID: txn.ID,
		Reference:     *txn.ProviderReference,
		Provider:      adapter.Provider(),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		RedirectURL:   redirect,
	}, nil
}
