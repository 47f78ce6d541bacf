package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// PaymentHandler запуск оплаты заказа или этапа через провайдера.
type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type initiatePaymentRequest struct {
	Provider   string `json:"provider" binding:"required,oneof=gatewayA gatewayB"`
	BuyerEmail string `json:"buyer_email" binding:"omitempty,email"`
}

func (r initiatePaymentRequest) input() service.InitiatePaymentInput {
	return service.InitiatePaymentInput{
		Provider:   valueobject.Provider(r.Provider),
		BuyerEmail: r.BuyerEmail,
	}
}

// InitiateOrderPayment POST /api/orders/:id/payments
func (h *PaymentHandler) InitiateOrderPayment(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	init, err := h.payments.InitiateOrderPayment(c.Request.Context(), actor, orderID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, init)
}

// InitiateMilestonePayment POST /api/orders/:id/milestones/:milestoneId/payments
func (h *PaymentHandler) InitiateMilestonePayment(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}
	milestoneID, ok := common.PathUUID(c, "milestoneId")
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	init, err := h.payments.InitiateMilestonePayment(c.Request.Context(), actor, orderID, milestoneID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, init)
}

// SettleManually POST /api/orders/:id/payments/manual
// Подтверждение без провайдера, доступно только если включено в конфигурации.
func (h *PaymentHandler) SettleManually(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req milestoneRef
	if c.Request.ContentLength != 0 && !common.BindJSON(c, &req) {
		return
	}
	milestoneID, err := common.OptionalUUID(req.MilestoneID)
	if err != nil {
		response.BadRequest(c, "milestone_id: "+err.Error())
		return
	}

	result, err := h.payments.SettleManually(c.Request.Context(), actor, orderID, milestoneID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
