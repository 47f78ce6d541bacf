package models

// Роли пользователей, приходящие в access-токене
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Типы уведомлений
const (
	NotificationOrderCreated      = "order.created"
	NotificationOrderPaid         = "order.paid"
	NotificationOrderStarted      = "order.started"
	NotificationOrderDelivered    = "order.delivered"
	NotificationRevisionRequested = "order.revision_requested"
	NotificationOrderCompleted    = "order.completed"
	NotificationOrderCancelled    = "order.cancelled"
	NotificationMilestoneFunded   = "milestone.funded"
	NotificationMilestoneReleased = "milestone.released"
	NotificationPaymentFailed     = "payment.failed"
	NotificationPaymentRefunded   = "payment.refunded"
	NotificationDisputeOpened     = "dispute.opened"
	NotificationDisputeUpdated    = "dispute.updated"
	NotificationDisputeResolved   = "dispute.resolved"
)
