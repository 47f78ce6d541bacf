package valueobject

import "github.com/ignatzorin/escrow-engine/internal/pkg/apperror"

type OrderType string

const (
	OrderTypeService OrderType = "service"
	OrderTypeProject OrderType = "project"
)

func (t OrderType) IsValid() bool {
	return t == OrderTypeService || t == OrderTypeProject
}

type OrderStatus string

const (
	OrderStatusPendingPayment      OrderStatus = "pending_payment"
	OrderStatusPendingRequirements OrderStatus = "pending_requirements"
	OrderStatusInProgress          OrderStatus = "in_progress"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusRevisionRequested   OrderStatus = "revision_requested"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusDisputed            OrderStatus = "disputed"
	OrderStatusRefunded            OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:      {OrderStatusPendingRequirements, OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusPendingRequirements: {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress:          {OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusDelivered:           {OrderStatusRevisionRequested, OrderStatusCompleted, OrderStatusInProgress}, // in_progress: следующий этап
	OrderStatusRevisionRequested:   {OrderStatusDelivered},
	OrderStatusDisputed:            {OrderStatusCompleted, OrderStatusRefunded, OrderStatusInProgress},
	OrderStatusCompleted:           {},
	OrderStatusCancelled:           {},
	OrderStatusRefunded:            {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	return contains(orderTransitions[s], newStatus)
}

// In проверяет, входит ли статус в список.
func (s OrderStatus) In(statuses ...OrderStatus) bool {
	return contains(statuses, s)
}

func NewOrderStatus(status string) (OrderStatus, error) {
	s := OrderStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusFunded     MilestoneStatus = "funded"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusDelivered  MilestoneStatus = "delivered"
	MilestoneStatusReleased   MilestoneStatus = "released"
	MilestoneStatusDisputed   MilestoneStatus = "disputed"
	MilestoneStatusRefunded   MilestoneStatus = "refunded"
)

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:    {MilestoneStatusFunded},
	MilestoneStatusFunded:     {MilestoneStatusInProgress, MilestoneStatusDelivered, MilestoneStatusDisputed},
	MilestoneStatusInProgress: {MilestoneStatusDelivered, MilestoneStatusDisputed},
	MilestoneStatusDelivered:  {MilestoneStatusReleased, MilestoneStatusInProgress, MilestoneStatusDisputed},
	MilestoneStatusDisputed:   {MilestoneStatusReleased, MilestoneStatusRefunded, MilestoneStatusInProgress},
	MilestoneStatusReleased:   {},
	MilestoneStatusRefunded:   {},
}

// EscrowedMilestoneStatuses перечисляет статусы, в которых деньги этапа находятся в эскроу.
var EscrowedMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusFunded,
	MilestoneStatusInProgress,
	MilestoneStatusDelivered,
	MilestoneStatusDisputed,
}

func (s MilestoneStatus) IsValid() bool {
	_, ok := milestoneTransitions[s]
	return ok
}

func (s MilestoneStatus) IsTerminal() bool {
	return s == MilestoneStatusReleased || s == MilestoneStatusRefunded
}

func (s MilestoneStatus) IsEscrowed() bool {
	return contains(EscrowedMilestoneStatuses, s)
}

func (s MilestoneStatus) CanTransitionTo(newStatus MilestoneStatus) bool {
	return contains(milestoneTransitions[s], newStatus)
}

func (s MilestoneStatus) In(statuses ...MilestoneStatus) bool {
	return contains(statuses, s)
}

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusEscalated   DisputeStatus = "escalated"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusClosed      DisputeStatus = "closed"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:        {DisputeStatusUnderReview, DisputeStatusEscalated, DisputeStatusClosed, DisputeStatusResolved},
	DisputeStatusUnderReview: {DisputeStatusResolved, DisputeStatusEscalated, DisputeStatusClosed},
	DisputeStatusEscalated:   {DisputeStatusResolved, DisputeStatusClosed},
	DisputeStatusResolved:    {},
	DisputeStatusClosed:      {},
}

// ActiveDisputeStatuses статусы, в которых спор ещё можно дополнять и разрешать.
var ActiveDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusUnderReview,
	DisputeStatusEscalated,
}

func (s DisputeStatus) IsValid() bool {
	_, ok := disputeTransitions[s]
	return ok
}

func (s DisputeStatus) IsActive() bool {
	return contains(ActiveDisputeStatuses, s)
}

func (s DisputeStatus) CanTransitionTo(newStatus DisputeStatus) bool {
	return contains(disputeTransitions[s], newStatus)
}

type Resolution string

const (
	ResolutionRefundFull    Resolution = "refund_full"
	ResolutionRefundPartial Resolution = "refund_partial"
	ResolutionReleaseFunds  Resolution = "release_funds"
	ResolutionNoAction      Resolution = "no_action"
	ResolutionOther         Resolution = "other"
)

func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionRefundFull, ResolutionRefundPartial, ResolutionReleaseFunds, ResolutionNoAction, ResolutionOther:
		return true
	}
	return false
}

func NewResolution(value string) (Resolution, error) {
	r := Resolution(value)
	if !r.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный исход спора")
	}
	return r, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
