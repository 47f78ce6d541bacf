package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func TestLedgerService_ExpireStalePending(t *testing.T) {
	e := newTestEnv(t)
	stale := e.newServiceOrder(t, 10000, 1)
	fresh := e.newServiceOrder(t, 20000, 1)
	paid := e.newServiceOrder(t, 30000, 1)

	staleInit := initiate(t, e, stale)
	freshInit := initiate(t, e, fresh)
	e.payViaGateway(t, paid)

	// состарить всё, кроме свежего платежа
	for id, txn := range e.store.data.txns {
		if id != freshInit.TransactionID {
			txn.CreatedAt = time.Now().Add(-100 * time.Hour)
			e.store.data.txns[id] = txn
		}
	}

	n, err := e.ledger.ExpireStalePending(e.ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	txn, err := e.store.Ledger().GetByID(e.ctx, staleInit.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusFailed, txn.Status)
	assert.Equal(t, expiredMessage, *txn.ErrorMessage)

	txn, err = e.store.Ledger().GetByID(e.ctx, freshInit.TransactionID)
	require.NoError(t, err)
	assert.True(t, txn.IsPending())

	completed := e.entries(t, paid.ID, valueobject.TransactionTypePayment)
	require.Len(t, completed, 1)
	assert.Equal(t, valueobject.TransactionStatusCompleted, completed[0].Status)

	// истёкший платёж уже не применяется
	res, err := e.settlement.HandleGatewayA(e.ctx, webhookForm(staleInit.Reference, staleInit.Amount, "success"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, valueobject.OrderStatusPendingPayment, e.order(t, stale.ID).Status)

	_, err = e.ledger.ExpireStalePending(e.ctx, 0)
	requireCode(t, err, apperror.ErrCodeValidation)
}

func TestLedgerService_RunReaper(t *testing.T) {
	e := newTestEnv(t)
	order := e.newServiceOrder(t, 10000, 1)
	init := initiate(t, e, order)

	txn := e.store.data.txns[init.TransactionID]
	txn.CreatedAt = time.Now().Add(-2 * time.Hour)
	e.store.data.txns[init.TransactionID] = txn

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	go func() {
		e.ledger.RunReaper(ctx, 10*time.Millisecond, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := e.store.Ledger().GetByID(e.ctx, init.TransactionID)
		return err == nil && got.Status == valueobject.TransactionStatusFailed
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestLedgerService_Views(t *testing.T) {
	e := newTestEnv(t)
	order := e.newServiceOrder(t, 10000, 1)
	e.payViaGateway(t, order)

	mine, err := e.ledger.ListTransactions(e.ctx, e.buyer, 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, valueobject.TransactionTypePayment, mine[0].Type)

	sellers, err := e.ledger.ListTransactions(e.ctx, e.seller, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sellers)

	byOrder, err := e.ledger.ListOrderTransactions(e.ctx, e.seller, order.ID)
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)

	_, err = e.ledger.ListOrderTransactions(e.ctx, e.stranger, order.ID)
	requireCode(t, err, apperror.ErrCodeForbidden)

	_, err = e.ledger.EscrowedAmount(e.ctx, e.stranger, order.ID)
	requireCode(t, err, apperror.ErrCodeForbidden)
}

func TestEscrowedAmount(t *testing.T) {
	service := &models.Order{Type: valueobject.OrderTypeService, SellerEarnings: 46000}
	for status, want := range map[valueobject.OrderStatus]int64{
		valueobject.OrderStatusPendingPayment:      0,
		valueobject.OrderStatusPendingRequirements: 46000,
		valueobject.OrderStatusInProgress:          46000,
		valueobject.OrderStatusDelivered:           46000,
		valueobject.OrderStatusRevisionRequested:   46000,
		valueobject.OrderStatusDisputed:            46000,
		valueobject.OrderStatusCompleted:           0,
		valueobject.OrderStatusCancelled:           0,
		valueobject.OrderStatusRefunded:            0,
	} {
		service.Status = status
		assert.Equal(t, want, EscrowedAmount(service, nil), status)
	}

	project := &models.Order{Type: valueobject.OrderTypeProject, Status: valueobject.OrderStatusInProgress}
	milestones := []models.Milestone{
		{Amount: 100, Status: valueobject.MilestoneStatusPending},
		{Amount: 200, Status: valueobject.MilestoneStatusFunded},
		{Amount: 400, Status: valueobject.MilestoneStatusInProgress},
		{Amount: 800, Status: valueobject.MilestoneStatusDelivered},
		{Amount: 1600, Status: valueobject.MilestoneStatusDisputed},
		{Amount: 3200, Status: valueobject.MilestoneStatusReleased},
		{Amount: 6400, Status: valueobject.MilestoneStatusRefunded},
	}
	assert.Equal(t, int64(3000), EscrowedAmount(project, milestones))
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(0, -5)
	assert.Equal(t, defaultListLimit, limit)
	assert.Zero(t, offset)

	limit, _ = normalizePage(1000, 0)
	assert.Equal(t, maxListLimit, limit)

	limit, offset = normalizePage(15, 30)
	assert.Equal(t, 15, limit)
	assert.Equal(t, 30, offset)
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	a, b := newOrderNumber(now), newOrderNumber(now)
	assert.Regexp(t, `^ORD-20261018-[0-9A-F]{6}$`, a)
	assert.NotEqual(t, a, b)
}
