package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/fees"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/validation"
)

type CreateServiceOrderInput struct {
	ServiceID uuid.UUID
	Tier      string
}

type MilestoneInput struct {
	Title       string
	Description *string
	Amount      int64
	DueDate     *time.Time
}

type CreateProjectOrderInput struct {
	ProjectID  uuid.UUID
	BidID      uuid.UUID
	Milestones []MilestoneInput
}

type DeliverInput struct {
	MilestoneID *uuid.UUID
	Message     string
	Attachments []string
}

// OrderService ведёт заказ по жизненному циклу: создание, сдача работы,
// доработки, приёмка и отмена.
type OrderService struct {
	base
	fees     *fees.Calculator
	currency string
}

func NewOrderService(store repository.Store, calc *fees.Calculator, notifier Notifier, m *metrics.Collector, currency string) *OrderService {
	if calc == nil {
		calc = fees.Default()
	}
	if currency == "" {
		currency = "ZAR"
	}
	return &OrderService{base: newBase(store, notifier, m), fees: calc, currency: currency}
}

// CreateServiceOrder создаёт заказ на тариф услуги в статусе pending_payment.
func (s *OrderService) CreateServiceOrder(ctx context.Context, actor Actor, in CreateServiceOrderInput) (*models.Order, error) {
	svc, err := s.store.Catalog().GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, apperror.ErrServiceNotFound
	}
	if svc.SellerID == actor.ID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "нельзя заказать собственную услугу")
	}
	tier, ok := svc.Tiers.Find(in.Tier)
	if !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "тариф не найден")
	}

	breakdown, err := s.fees.Calculate(tier.Price)
	if err != nil {
		return nil, err
	}

	serviceID := svc.ID
	tierName := tier.Name
	order := &models.Order{
		OrderNumber:      newOrderNumber(s.now()),
		BuyerID:          actor.ID,
		SellerID:         svc.SellerID,
		Type:             valueobject.OrderTypeService,
		ServiceID:        &serviceID,
		Tier:             &tierName,
		Title:            svc.Title,
		DeliveryDays:     tier.DeliveryDays,
		RevisionsAllowed: tier.Revisions,
		Status:           valueobject.OrderStatusPendingPayment,
	}
	s.applyFees(order, breakdown)

	return s.createOrder(ctx, actor, order, nil, nil)
}

// CreateProjectOrder создаёт заказ по принятой ставке вместе со всеми этапами.
func (s *OrderService) CreateProjectOrder(ctx context.Context, actor Actor, in CreateProjectOrderInput) (*models.Order, error) {
	project, err := s.store.Catalog().GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != actor.ID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "принять ставку может только владелец проекта")
	}
	bid, err := s.store.Catalog().GetBid(ctx, in.BidID)
	if err != nil {
		return nil, err
	}
	if bid.ProjectID != project.ID {
		return nil, apperror.New(apperror.ErrCodeValidation, "ставка не относится к проекту")
	}
	if bid.SellerID == actor.ID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "нельзя принять собственную ставку")
	}

	inputs := in.Milestones
	if len(inputs) == 0 {
		inputs = []MilestoneInput{{Title: project.Title, Amount: bid.Amount}}
	}

	var subtotal int64
	milestones := make([]models.Milestone, 0, len(inputs))
	for i, mi := range inputs {
		if mi.Amount <= 0 {
			return nil, apperror.ErrInvalidAmount
		}
		title, err := validation.Text("название этапа", mi.Title, validation.MaxMilestoneTitleLength)
		if err != nil {
			return nil, err
		}
		subtotal += mi.Amount
		milestones = append(milestones, models.Milestone{
			Title:       title,
			Description: mi.Description,
			Amount:      mi.Amount,
			SortOrder:   i + 1,
			DueDate:     mi.DueDate,
			Status:      valueobject.MilestoneStatusPending,
		})
	}

	breakdown, err := s.fees.Calculate(subtotal)
	if err != nil {
		return nil, err
	}

	projectID, bidID := project.ID, bid.ID
	order := &models.Order{
		OrderNumber:      newOrderNumber(s.now()),
		BuyerID:          actor.ID,
		SellerID:         bid.SellerID,
		Type:             valueobject.OrderTypeProject,
		ProjectID:        &projectID,
		BidID:            &bidID,
		Title:            project.Title,
		DeliveryDays:     bid.DeliveryDays,
		RevisionsAllowed: bid.Revisions,
		Status:           valueobject.OrderStatusPendingPayment,
	}
	s.applyFees(order, breakdown)

	return s.createOrder(ctx, actor, order, milestones, &bidID)
}

func (s *OrderService) applyFees(order *models.Order, b fees.Breakdown) {
	order.Subtotal = b.Gross
	order.BuyerFee = b.BuyerFee
	order.SellerFee = b.SellerFee
	order.TotalAmount = b.BuyerTotal
	order.SellerEarnings = b.SellerNet
	order.Currency = s.currency
}

func (s *OrderService) createOrder(ctx context.Context, actor Actor, order *models.Order, milestones []models.Milestone, acceptBid *uuid.UUID) (*models.Order, error) {
	if err := order.CheckTotals(); err != nil {
		return nil, err
	}

	ac := &afterCommit{}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if acceptBid != nil {
			if err := tx.Catalog().AcceptBid(ctx, *acceptBid); err != nil {
				return err
			}
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		if len(milestones) > 0 {
			for i := range milestones {
				milestones[i].OrderID = order.ID
			}
			if err := tx.Milestones().CreateBatch(ctx, milestones); err != nil {
				return err
			}
			order.Milestones = milestones
		}
		return s.addHistory(ctx, tx, order.ID, actorRef(actor), models.HistoryActionCreated, nil, map[string]interface{}{
			"status":       order.Status,
			"total_amount": order.TotalAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ac, order.SellerID, models.NotificationOrderCreated, orderPayload(order))
	ac.run()
	return order, nil
}

// SubmitRequirements покупатель передаёт требования, заказ уходит в работу.
func (s *OrderService) SubmitRequirements(ctx context.Context, actor Actor, orderID uuid.UUID, requirements string) (*models.Order, error) {
	requirements, err := validation.Text("требования", requirements, validation.MaxRequirementsLength)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID {
			return apperror.ErrForbidden
		}

		deadline := s.deliveryDeadline(order)
		result, err = s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  []valueobject.OrderStatus{valueobject.OrderStatusPendingRequirements},
			to:    valueobject.OrderStatusInProgress,
			patch: repository.OrderPatch{Requirements: &requirements, DeliveryDeadline: &deadline},
		})
		if err != nil {
			return err
		}
		s.notify(ac, order.SellerID, models.NotificationOrderStarted, orderPayload(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// Deliver продавец сдаёт работу. Для проекта этап переходит в delivered вместе с заказом.
func (s *OrderService) Deliver(ctx context.Context, actor Actor, orderID uuid.UUID, in DeliverInput) (*models.Order, error) {
	message, err := validation.Text("описание результата", in.Message, validation.MaxDeliveryMessageLength)
	if err != nil {
		return nil, err
	}
	attachments, err := validation.ValidateAttachments(in.Attachments)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.SellerID != actor.ID {
			return apperror.ErrForbidden
		}
		deliverable := []valueobject.OrderStatus{valueobject.OrderStatusInProgress, valueobject.OrderStatusRevisionRequested}
		if !order.Status.In(deliverable...) {
			return apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusDelivered))
		}

		var milestoneID *uuid.UUID
		switch order.Type {
		case valueobject.OrderTypeProject:
			inFlight := []valueobject.MilestoneStatus{valueobject.MilestoneStatusFunded, valueobject.MilestoneStatusInProgress}
			m, err := pickMilestone(ctx, tx, order, in.MilestoneID, valueobject.MilestoneStatusDelivered, inFlight...)
			if err != nil {
				return err
			}
			if _, err := tx.Milestones().Transition(ctx, m.ID, inFlight, valueobject.MilestoneStatusDelivered); err != nil {
				return err
			}
			milestoneID = &m.ID
		default:
			if in.MilestoneID != nil {
				return apperror.New(apperror.ErrCodeValidation, "у заказа услуги нет этапов")
			}
		}

		delivery := &models.Delivery{
			OrderID:     order.ID,
			MilestoneID: milestoneID,
			SellerID:    actor.ID,
			Message:     message,
			Attachments: attachments,
		}
		if err := tx.Orders().CreateDelivery(ctx, delivery); err != nil {
			return err
		}
		if err := s.addHistory(ctx, tx, order.ID, actorRef(actor), models.HistoryActionDelivered, nil,
			map[string]interface{}{"delivery_id": delivery.ID, "milestone_id": milestoneID}); err != nil {
			return err
		}

		result, err = s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  deliverable,
			to:    valueobject.OrderStatusDelivered,
		})
		if err != nil {
			return err
		}
		s.notify(ac, order.BuyerID, models.NotificationOrderDelivered, map[string]interface{}{
			"order_id":     order.ID,
			"milestone_id": milestoneID,
			"delivery_id":  delivery.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// RequestRevision возвращает сданную работу на доработку в пределах лимита.
func (s *OrderService) RequestRevision(ctx context.Context, actor Actor, orderID uuid.UUID, note string) (*models.Order, error) {
	note, err := validation.OptionalText("комментарий", note, validation.MaxNoteLength)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID {
			return apperror.ErrForbidden
		}
		if order.Status != valueobject.OrderStatusDelivered {
			return apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusRevisionRequested))
		}
		if order.RevisionsUsed >= order.RevisionsAllowed {
			return apperror.ErrRevisionLimit
		}

		if order.Type == valueobject.OrderTypeProject {
			m, err := pickMilestone(ctx, tx, order, nil, valueobject.MilestoneStatusInProgress, valueobject.MilestoneStatusDelivered)
			if err != nil {
				return err
			}
			if _, err := tx.Milestones().Transition(ctx, m.ID,
				[]valueobject.MilestoneStatus{valueobject.MilestoneStatusDelivered}, valueobject.MilestoneStatusInProgress); err != nil {
				return err
			}
		}

		result, err = s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  []valueobject.OrderStatus{valueobject.OrderStatusDelivered},
			to:    valueobject.OrderStatusRevisionRequested,
			patch: repository.OrderPatch{IncrementRevisions: true},
			note:  note,
		})
		if err != nil {
			return err
		}
		s.notify(ac, order.SellerID, models.NotificationRevisionRequested, orderPayload(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// AcceptDelivery приёмка работы: выплата продавцу из эскроу.
// Для проекта выплачивается только принятый этап.
func (s *OrderService) AcceptDelivery(ctx context.Context, actor Actor, orderID uuid.UUID, milestoneID *uuid.UUID) (*models.Order, error) {
	var result *models.Order
	ac := &afterCommit{}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID {
			return apperror.ErrForbidden
		}
		if order.Status != valueobject.OrderStatusDelivered {
			return apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusCompleted))
		}

		if order.Type == valueobject.OrderTypeProject {
			result, err = s.acceptMilestone(ctx, tx, ac, actor, order, milestoneID)
			return err
		}
		if milestoneID != nil {
			return apperror.New(apperror.ErrCodeValidation, "у заказа услуги нет этапов")
		}

		// CAS до записи в журнал: второй конкурентный вызов упадёт здесь
		result, err = s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  []valueobject.OrderStatus{valueobject.OrderStatusDelivered},
			to:    valueobject.OrderStatusCompleted,
			patch: repository.OrderPatch{Complete: true},
		})
		if err != nil {
			return err
		}
		if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.SellerID,
			valueobject.TransactionTypeEscrowRelease, order.SellerEarnings, "Выплата за заказ "+order.OrderNumber); err != nil {
			return err
		}
		s.notify(ac, order.SellerID, models.NotificationOrderCompleted, orderPayload(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

func (s *OrderService) acceptMilestone(ctx context.Context, tx repository.Store, ac *afterCommit, actor Actor, order *models.Order, milestoneID *uuid.UUID) (*models.Order, error) {
	m, err := pickMilestone(ctx, tx, order, milestoneID, valueobject.MilestoneStatusReleased, valueobject.MilestoneStatusDelivered)
	if err != nil {
		return nil, err
	}
	released, err := tx.Milestones().Transition(ctx, m.ID,
		[]valueobject.MilestoneStatus{valueobject.MilestoneStatusDelivered}, valueobject.MilestoneStatusReleased)
	if err != nil {
		return nil, err
	}
	if _, err := s.recordMovement(ctx, tx, ac, order, &released.ID, order.SellerID,
		valueobject.TransactionTypeEscrowRelease, released.Amount, "Выплата за этап «"+released.Title+"»"); err != nil {
		return nil, err
	}

	milestones, err := tx.Milestones().ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	next := valueobject.OrderStatusCompleted
	for _, other := range milestones {
		if !other.Status.IsTerminal() {
			next = valueobject.OrderStatusInProgress
			break
		}
	}

	updated, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
		actor: actorRef(actor),
		from:  []valueobject.OrderStatus{valueobject.OrderStatusDelivered},
		to:    next,
		patch: repository.OrderPatch{Complete: next == valueobject.OrderStatusCompleted},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ac, order.SellerID, models.NotificationMilestoneReleased, map[string]interface{}{
		"order_id":     order.ID,
		"milestone_id": released.ID,
		"amount":       released.Amount,
	})
	if next == valueobject.OrderStatusCompleted {
		s.notify(ac, order.SellerID, models.NotificationOrderCompleted, orderPayload(updated))
	}
	return updated, nil
}

// Cancel отмена заказа любой из сторон, пока деньги не в работе.
// Оплаченный заказ услуги (pending_requirements) возвращается покупателю полностью.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	reason, err := validation.OptionalText("причина отмены", reason, validation.MaxNoteLength)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.IsParticipant(actor.ID) {
			return apperror.ErrForbidden
		}
		if !order.Status.In(valueobject.OrderStatusPendingPayment, valueobject.OrderStatusPendingRequirements) {
			return apperror.IllegalTransition("order", string(order.Status), string(valueobject.OrderStatusCancelled))
		}

		patch := repository.OrderPatch{CancelledBy: actorRef(actor)}
		if reason != "" {
			patch.CancellationReason = &reason
		}
		// CAS по наблюдаемому статусу: от него зависит, нужен ли возврат
		result, err = s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  []valueobject.OrderStatus{order.Status},
			to:    valueobject.OrderStatusCancelled,
			patch: patch,
			note:  reason,
		})
		if err != nil {
			return err
		}

		if order.Status == valueobject.OrderStatusPendingRequirements {
			if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.BuyerID,
				valueobject.TransactionTypeRefund, order.TotalAmount, "Возврат при отмене заказа "+order.OrderNumber); err != nil {
				return err
			}
		}
		s.notify(ac, order.Counterparty(actor.ID), models.NotificationOrderCancelled, orderPayload(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// GetOrder заказ вместе с этапами. Доступен участникам и администратору.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if order.Type == valueobject.OrderTypeProject {
		milestones, err := s.store.Milestones().ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Milestones = milestones
	}
	return order, nil
}

// ListOrders заказы, где пользователь покупатель или продавец.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, limit, offset int) ([]models.Order, error) {
	limit, offset = normalizePage(limit, offset)
	return s.store.Orders().ListByParticipant(ctx, actor.ID, limit, offset)
}

func (s *OrderService) deliveryDeadline(order *models.Order) time.Time {
	return s.now().Add(time.Duration(order.DeliveryDays) * 24 * time.Hour)
}

func orderPayload(o *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"status":       o.Status,
	}
}
