package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func TestOrderService_ServiceOrderHappyPath(t *testing.T) {
	e := newTestEnv(t)

	order := e.newServiceOrder(t, 50000, 1)
	assert.Equal(t, valueobject.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, int64(50000), order.Subtotal)
	assert.Equal(t, int64(1500), order.BuyerFee)
	assert.Equal(t, int64(4000), order.SellerFee)
	assert.Equal(t, int64(51500), order.TotalAmount)
	assert.Equal(t, int64(46000), order.SellerEarnings)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{6}$`, order.OrderNumber)

	init := e.payViaGateway(t, order)
	assert.Equal(t, int64(51500), init.Amount)
	assert.Equal(t, valueobject.OrderStatusPendingRequirements, e.order(t, order.ID).Status)

	started, err := e.orders.SubmitRequirements(e.ctx, e.buyer, order.ID, "Синий логотип")
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusInProgress, started.Status)
	require.NotNil(t, started.DeliveryDeadline)

	escrowed, err := e.ledger.EscrowedAmount(e.ctx, e.buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(46000), escrowed)

	delivered, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Готово", Attachments: []string{"logo.svg"}})
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusDelivered, delivered.Status)

	history, err := e.store.History().ListByOrder(e.ctx, order.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Contains(t, actions, models.HistoryActionDelivered)

	completed, err := e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	payments := e.entries(t, order.ID, valueobject.TransactionTypePayment)
	require.Len(t, payments, 1)
	assert.Equal(t, valueobject.TransactionStatusCompleted, payments[0].Status)
	assert.Equal(t, int64(51500), payments[0].Amount)

	releases := e.entries(t, order.ID, valueobject.TransactionTypeEscrowRelease)
	require.Len(t, releases, 1)
	assert.Equal(t, int64(46000), releases[0].Amount)
	assert.Equal(t, e.seller.ID, releases[0].UserID)
	assert.Nil(t, releases[0].Provider)

	escrowed, err = e.ledger.EscrowedAmount(e.ctx, e.buyer, order.ID)
	require.NoError(t, err)
	assert.Zero(t, escrowed)

	assert.Contains(t, e.notifier.kinds(e.seller.ID), models.NotificationOrderCreated)
	assert.Contains(t, e.notifier.kinds(e.seller.ID), models.NotificationOrderCompleted)
	assert.Contains(t, e.notifier.kinds(e.buyer.ID), models.NotificationOrderDelivered)
}

func TestOrderService_CreateServiceOrder_Validation(t *testing.T) {
	e := newTestEnv(t)
	serviceID := e.seedService(10000, 1)

	_, err := e.orders.CreateServiceOrder(e.ctx, e.seller, CreateServiceOrderInput{ServiceID: serviceID, Tier: "basic"})
	requireCode(t, err, apperror.ErrCodeForbidden)

	_, err = e.orders.CreateServiceOrder(e.ctx, e.buyer, CreateServiceOrderInput{ServiceID: serviceID, Tier: "premium"})
	requireCode(t, err, apperror.ErrCodeValidation)

	_, err = e.orders.CreateServiceOrder(e.ctx, e.buyer, CreateServiceOrderInput{ServiceID: uuid.New(), Tier: "basic"})
	requireCode(t, err, apperror.ErrCodeNotFound)

	svc := e.store.data.services[serviceID]
	svc.IsActive = false
	e.store.data.services[serviceID] = svc
	_, err = e.orders.CreateServiceOrder(e.ctx, e.buyer, CreateServiceOrderInput{ServiceID: serviceID, Tier: "basic"})
	requireCode(t, err, apperror.ErrCodeNotFound)

	assert.Empty(t, e.store.data.orders)
}

func TestOrderService_RevisionLimit(t *testing.T) {
	e := newTestEnv(t)
	order := e.startedServiceOrder(t, 20000, 1)

	_, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "v1"})
	require.NoError(t, err)

	revised, err := e.orders.RequestRevision(e.ctx, e.buyer, order.ID, "Другой цвет")
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusRevisionRequested, revised.Status)
	assert.Equal(t, 1, revised.RevisionsUsed)

	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "v2"})
	require.NoError(t, err)

	_, err = e.orders.RequestRevision(e.ctx, e.buyer, order.ID, "Ещё раз")
	requireCode(t, err, apperror.ErrCodeRevisionLimitExceeded)
	assert.Equal(t, valueobject.OrderStatusDelivered, e.order(t, order.ID).Status)

	deliveries, err := e.store.Orders().ListDeliveries(e.ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestOrderService_AcceptDelivery_Twice(t *testing.T) {
	e := newTestEnv(t)
	order := e.startedServiceOrder(t, 30000, 0)
	_, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Готово"})
	require.NoError(t, err)

	_, err = e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, nil)
	require.NoError(t, err)

	_, err = e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, nil)
	requireCode(t, err, apperror.ErrCodeIllegalTransition)
	te, ok := apperror.AsTransition(err)
	require.True(t, ok)
	assert.Equal(t, string(valueobject.OrderStatusCompleted), te.From)

	assert.Len(t, e.entries(t, order.ID, valueobject.TransactionTypeEscrowRelease), 1)
}

func TestOrderService_PermissionChecks(t *testing.T) {
	e := newTestEnv(t)
	order := e.startedServiceOrder(t, 30000, 1)

	_, err := e.orders.Deliver(e.ctx, e.buyer, order.ID, DeliverInput{Message: "не моё"})
	requireCode(t, err, apperror.ErrCodeForbidden)

	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "  "})
	requireCode(t, err, apperror.ErrCodeValidation)

	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Готово"})
	require.NoError(t, err)

	_, err = e.orders.AcceptDelivery(e.ctx, e.seller, order.ID, nil)
	requireCode(t, err, apperror.ErrCodeForbidden)

	_, err = e.orders.GetOrder(e.ctx, e.stranger, order.ID)
	requireCode(t, err, apperror.ErrCodeForbidden)

	got, err := e.orders.GetOrder(e.ctx, e.admin, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestOrderService_Cancel(t *testing.T) {
	t.Run("unpaid order cancels without ledger writes", func(t *testing.T) {
		e := newTestEnv(t)
		order := e.newServiceOrder(t, 10000, 1)

		cancelled, err := e.orders.Cancel(e.ctx, e.seller, order.ID, "Нет времени")
		require.NoError(t, err)
		assert.Equal(t, valueobject.OrderStatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancelledBy)
		assert.Equal(t, e.seller.ID, *cancelled.CancelledBy)
		assert.Empty(t, e.entries(t, order.ID, valueobject.TransactionTypeRefund))
		assert.Contains(t, e.notifier.kinds(e.buyer.ID), models.NotificationOrderCancelled)
	})

	t.Run("paid order is refunded in full", func(t *testing.T) {
		e := newTestEnv(t)
		order := e.newServiceOrder(t, 10000, 1)
		e.payViaGateway(t, order)

		_, err := e.orders.Cancel(e.ctx, e.buyer, order.ID, "")
		require.NoError(t, err)

		refunds := e.entries(t, order.ID, valueobject.TransactionTypeRefund)
		require.Len(t, refunds, 1)
		assert.Equal(t, order.TotalAmount, refunds[0].Amount)
		assert.Equal(t, e.buyer.ID, refunds[0].UserID)
	})

	t.Run("work in progress cannot be cancelled", func(t *testing.T) {
		e := newTestEnv(t)
		order := e.startedServiceOrder(t, 10000, 1)

		_, err := e.orders.Cancel(e.ctx, e.buyer, order.ID, "Передумал")
		requireCode(t, err, apperror.ErrCodeIllegalTransition)
		assert.Equal(t, valueobject.OrderStatusInProgress, e.order(t, order.ID).Status)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		e := newTestEnv(t)
		order := e.newServiceOrder(t, 10000, 1)

		_, err := e.orders.Cancel(e.ctx, e.stranger, order.ID, "")
		requireCode(t, err, apperror.ErrCodeForbidden)
	})
}

func TestOrderService_ProjectMilestones(t *testing.T) {
	e := newTestEnv(t)
	order, milestones := e.newProjectOrder(t, 20000, 30000)
	assert.Equal(t, int64(50000), order.Subtotal)
	assert.Equal(t, int64(51500), order.TotalAmount)
	assert.Equal(t, models.BidStatusAccepted, e.store.data.bids[*order.BidID].Status)
	m1, m2 := milestones[0], milestones[1]

	// этап без оплаты сдать нельзя
	_, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{MilestoneID: &m1.ID, Message: "рано"})
	requireCode(t, err, apperror.ErrCodeIllegalTransition)

	e.fundMilestone(t, order.ID, m1.ID)
	assert.Equal(t, valueobject.OrderStatusInProgress, e.order(t, order.ID).Status)
	assert.Equal(t, valueobject.MilestoneStatusFunded, e.milestone(t, m1.ID).Status)

	escrowed, err := e.ledger.EscrowedAmount(e.ctx, e.seller, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), escrowed)

	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{MilestoneID: &m1.ID, Message: "Макеты"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusDelivered, e.milestone(t, m1.ID).Status)

	updated, err := e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, &m1.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusInProgress, updated.Status)
	assert.Equal(t, valueobject.MilestoneStatusReleased, e.milestone(t, m1.ID).Status)

	// второй этап ещё не оплачен: сдавать нечего
	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "без оплаты"})
	requireCode(t, err, apperror.ErrCodeIllegalTransition)
	te, ok := apperror.AsTransition(err)
	require.True(t, ok)
	assert.Equal(t, "milestone", te.Entity)
	assert.Equal(t, string(valueobject.MilestoneStatusPending), te.From)
	assert.Equal(t, string(valueobject.MilestoneStatusDelivered), te.To)

	e.fundMilestone(t, order.ID, m2.ID)
	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Вёрстка"})
	require.NoError(t, err)
	completed, err := e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusCompleted, completed.Status)

	funds := e.entries(t, order.ID, valueobject.TransactionTypeEscrowFund)
	require.Len(t, funds, 2)
	releases := e.entries(t, order.ID, valueobject.TransactionTypeEscrowRelease)
	require.Len(t, releases, 2)
	assert.Equal(t, int64(20000), releases[0].Amount)
	assert.Equal(t, m1.ID, *releases[0].MilestoneID)
	assert.Equal(t, int64(30000), releases[1].Amount)
	assert.Equal(t, m2.ID, *releases[1].MilestoneID)

	// выпущенный этап неизменен
	_, err = e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, &m1.ID)
	requireCode(t, err, apperror.ErrCodeIllegalTransition)
}

func TestOrderService_ProjectRevisionReturnsMilestoneToWork(t *testing.T) {
	e := newTestEnv(t)
	order, milestones := e.newProjectOrder(t, 40000)
	m := milestones[0]
	e.fundMilestone(t, order.ID, m.ID)

	_, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Черновик"})
	require.NoError(t, err)
	_, err = e.orders.RequestRevision(e.ctx, e.buyer, order.ID, "Поправить шапку")
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusInProgress, e.milestone(t, m.ID).Status)

	_, err = e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{MilestoneID: &m.ID, Message: "Исправлено"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusDelivered, e.milestone(t, m.ID).Status)
}

func TestOrderService_CreateProjectOrder_Guards(t *testing.T) {
	e := newTestEnv(t)
	project, bid := e.seedBid(10000)

	_, err := e.orders.CreateProjectOrder(e.ctx, e.stranger, CreateProjectOrderInput{ProjectID: project.ID, BidID: bid.ID})
	requireCode(t, err, apperror.ErrCodeForbidden)

	_, err = e.orders.CreateProjectOrder(e.ctx, e.buyer, CreateProjectOrderInput{
		ProjectID:  project.ID,
		BidID:      bid.ID,
		Milestones: []MilestoneInput{{Title: "Ноль", Amount: 0}},
	})
	requireCode(t, err, apperror.ErrCodeInvalidAmount)

	// без этапов создаётся один на сумму ставки
	order, err := e.orders.CreateProjectOrder(e.ctx, e.buyer, CreateProjectOrderInput{ProjectID: project.ID, BidID: bid.ID})
	require.NoError(t, err)
	require.Len(t, order.Milestones, 1)
	assert.Equal(t, int64(10000), order.Milestones[0].Amount)

	// повторное принятие ставки откатывает всю транзакцию
	_, err = e.orders.CreateProjectOrder(e.ctx, e.buyer, CreateProjectOrderInput{ProjectID: project.ID, BidID: bid.ID})
	requireCode(t, err, apperror.ErrCodeIllegalTransition)
	assert.Len(t, e.store.data.orders, 1)
	assert.Len(t, e.store.data.milestones, 1)
}

func TestOrderService_ListOrders(t *testing.T) {
	e := newTestEnv(t)
	e.newServiceOrder(t, 10000, 1)
	e.newServiceOrder(t, 20000, 1)

	mine, err := e.orders.ListOrders(e.ctx, e.seller, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := e.orders.ListOrders(e.ctx, e.stranger, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOrderService_FailedWriteRollsBackTransition(t *testing.T) {
	e := newTestEnv(t)
	order := e.startedServiceOrder(t, 10000, 1)
	_, err := e.orders.Deliver(e.ctx, e.seller, order.ID, DeliverInput{Message: "Готово"})
	require.NoError(t, err)

	e.store.failHistory = true
	_, err = e.orders.AcceptDelivery(e.ctx, e.buyer, order.ID, nil)
	requireCode(t, err, apperror.ErrCodeDatabaseError)

	assert.Equal(t, valueobject.OrderStatusDelivered, e.order(t, order.ID).Status)
	assert.Empty(t, e.entries(t, order.ID, valueobject.TransactionTypeEscrowRelease))
	assert.NotContains(t, e.notifier.kinds(e.seller.ID), models.NotificationOrderCompleted)
}
