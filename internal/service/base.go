package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Actor текущий пользователь, полученный от сервиса идентификации.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Notifier доставляет уведомления пользователям. Ошибки доставки не влияют
// на уже закоммиченные переходы.
type Notifier interface {
	Notify(userID uuid.UUID, kind string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Notify(uuid.UUID, string, interface{}) {}

// afterCommit копит побочные эффекты, которые выполняются только после коммита.
type afterCommit struct {
	fns []func()
}

func (a *afterCommit) add(fn func()) {
	a.fns = append(a.fns, fn)
}

func (a *afterCommit) run() {
	for _, fn := range a.fns {
		fn()
	}
}

// base общие зависимости и переходы, которыми пользуются все сервисы движка.
type base struct {
	store    repository.Store
	notifier Notifier
	metrics  *metrics.Collector
	now      func() time.Time
}

func newBase(store repository.Store, notifier Notifier, m *metrics.Collector) base {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return base{store: store, notifier: notifier, metrics: m, now: time.Now}
}

func (b *base) notify(ac *afterCommit, userID uuid.UUID, kind string, payload interface{}) {
	ac.add(func() { b.notifier.Notify(userID, kind, payload) })
}

type orderTransition struct {
	actor *uuid.UUID
	from  []valueobject.OrderStatus
	to    valueobject.OrderStatus
	patch repository.OrderPatch
	note  string
}

// transitionOrder выполняет CAS-переход заказа и пишет его в историю.
func (b *base) transitionOrder(ctx context.Context, tx repository.Store, ac *afterCommit, order *models.Order, t orderTransition) (*models.Order, error) {
	updated, err := tx.Orders().TransitionStatus(ctx, order.ID, t.from, t.to, t.patch)
	if err != nil {
		return nil, err
	}

	newValue := map[string]interface{}{"status": t.to}
	if t.note != "" {
		newValue["note"] = t.note
	}
	if err := b.addHistory(ctx, tx, order.ID, t.actor, models.HistoryActionStatusChanged,
		map[string]interface{}{"status": order.Status}, newValue); err != nil {
		return nil, err
	}

	ac.add(func() { b.metrics.OrderTransition(string(t.to)) })
	return updated, nil
}

func (b *base) addHistory(ctx context.Context, tx repository.Store, orderID uuid.UUID, actor *uuid.UUID, action string, oldValue, newValue interface{}) error {
	entry := &models.OrderHistory{
		OrderID: orderID,
		UserID:  actor,
		Action:  action,
	}
	if oldValue != nil {
		raw, err := json.Marshal(oldValue)
		if err != nil {
			return fmt.Errorf("history: marshal old value %w", err)
		}
		entry.OldValue = raw
	}
	if newValue != nil {
		raw, err := json.Marshal(newValue)
		if err != nil {
			return fmt.Errorf("history: marshal new value %w", err)
		}
		entry.NewValue = raw
	}
	return tx.History().Add(ctx, entry)
}

// recordMovement пишет в журнал завершённое внутреннее движение денег.
func (b *base) recordMovement(ctx context.Context, tx repository.Store, ac *afterCommit, order *models.Order, milestoneID *uuid.UUID, userID uuid.UUID, txType valueobject.TransactionType, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}
	now := b.now()
	orderID := order.ID
	txn := &models.Transaction{
		UserID:      userID,
		OrderID:     &orderID,
		MilestoneID: milestoneID,
		Type:        txType,
		Amount:      amount,
		Currency:    order.Currency,
		Status:      valueobject.TransactionStatusCompleted,
		Description: &description,
		CompletedAt: &now,
	}
	if err := tx.Ledger().Create(ctx, txn); err != nil {
		return nil, err
	}

	if err := b.addHistory(ctx, tx, order.ID, nil, models.HistoryActionFundsMoved, nil, map[string]interface{}{
		"transaction_id": txn.ID,
		"type":           txType,
		"amount":         amount,
		"milestone_id":   milestoneID,
	}); err != nil {
		return nil, err
	}

	ac.add(func() { b.metrics.LedgerEntry(string(txType), string(txn.Status)) })
	return txn, nil
}

// pickMilestone возвращает указанный этап заказа или первый по порядку в одном из статусов want.
func pickMilestone(ctx context.Context, tx repository.Store, order *models.Order, requested *uuid.UUID, target valueobject.MilestoneStatus, want ...valueobject.MilestoneStatus) (*models.Milestone, error) {
	if requested != nil {
		m, err := tx.Milestones().GetByID(ctx, *requested)
		if err != nil {
			return nil, err
		}
		if m.OrderID != order.ID {
			return nil, apperror.ErrMilestoneNotFound
		}
		if !m.Status.In(want...) {
			return nil, apperror.IllegalTransition("milestone", string(m.Status), string(target))
		}
		return m, nil
	}

	milestones, err := tx.Milestones().ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		if milestones[i].Status.In(want...) {
			return &milestones[i], nil
		}
	}
	return nil, apperror.IllegalTransition("milestone", observedMilestoneStatus(milestones), string(target))
}

// observedMilestoneStatus статус первого незавершённого этапа, иначе последнего.
func observedMilestoneStatus(milestones []models.Milestone) string {
	if len(milestones) == 0 {
		return "none"
	}
	for _, m := range milestones {
		if !m.Status.IsTerminal() {
			return string(m.Status)
		}
	}
	return string(milestones[len(milestones)-1].Status)
}

// EscrowedAmount сумма, удерживаемая в эскроу по заказу.
// Для услуги это заработок продавца, пока заказ оплачен и не завершён;
// для проекта сумма этапов, деньги которых внесены и ещё не выданы.
func EscrowedAmount(order *models.Order, milestones []models.Milestone) int64 {
	if order.Type == valueobject.OrderTypeService {
		if order.Status.In(
			valueobject.OrderStatusPendingRequirements,
			valueobject.OrderStatusInProgress,
			valueobject.OrderStatusDelivered,
			valueobject.OrderStatusRevisionRequested,
			valueobject.OrderStatusDisputed,
		) {
			return order.SellerEarnings
		}
		return 0
	}

	var total int64
	for _, m := range milestones {
		if m.Status.IsEscrowed() {
			total += m.Amount
		}
	}
	return total
}

// newOrderNumber формирует номер вида ORD-20261018-3FA9C1.
func newOrderNumber(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(fmt.Sprintf("%x", id[:3])))
}

func newPaymentReference() string {
	return uuid.NewString()
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func actorRef(a Actor) *uuid.UUID {
	id := a.ID
	return &id
}
