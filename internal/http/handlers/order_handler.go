package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// OrderHandler жизненный цикл заказа: создание, сдача, приёмка, отмена.
type OrderHandler struct {
	orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createServiceOrderRequest struct {
	ServiceID uuid.UUID `json:"service_id" binding:"required"`
	Tier      string    `json:"tier" binding:"required"`
}

type milestoneRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description *string    `json:"description"`
	Amount      int64      `json:"amount" binding:"required"`
	DueDate     *time.Time `json:"due_date"`
}

type createProjectOrderRequest struct {
	ProjectID  uuid.UUID          `json:"project_id" binding:"required"`
	BidID      uuid.UUID          `json:"bid_id" binding:"required"`
	Milestones []milestoneRequest `json:"milestones" binding:"required,min=1,dive"`
}

type deliverRequest struct {
	MilestoneID *string  `json:"milestone_id"`
	Message     string   `json:"message" binding:"required"`
	Attachments []string `json:"attachments"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type milestoneRef struct {
	MilestoneID *string `json:"milestone_id"`
}

// CreateServiceOrder POST /api/orders/service
func (h *OrderHandler) CreateServiceOrder(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req createServiceOrderRequest
	if !common.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateServiceOrder(c.Request.Context(), actor, service.CreateServiceOrderInput{
		ServiceID: req.ServiceID,
		Tier:      req.Tier,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// CreateProjectOrder POST /api/orders/project
func (h *OrderHandler) CreateProjectOrder(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req createProjectOrderRequest
	if !common.BindJSON(c, &req) {
		return
	}

	in := service.CreateProjectOrderInput{
		ProjectID:  req.ProjectID,
		BidID:      req.BidID,
		Milestones: make([]service.MilestoneInput, 0, len(req.Milestones)),
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, service.MilestoneInput{
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
		})
	}

	order, err := h.orders.CreateProjectOrder(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// ListOrders GET /api/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	orders, err := h.orders.ListOrders(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, orders)
}

// GetOrder GET /api/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// SubmitRequirements POST /api/orders/:id/requirements
func (h *OrderHandler) SubmitRequirements(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Requirements string `json:"requirements" binding:"required"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.SubmitRequirements(c.Request.Context(), actor, orderID, req.Requirements)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// Deliver POST /api/orders/:id/deliver
func (h *OrderHandler) Deliver(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req deliverRequest
	if !common.BindJSON(c, &req) {
		return
	}
	milestoneID, err := common.OptionalUUID(req.MilestoneID)
	if err != nil {
		response.BadRequest(c, "milestone_id: "+err.Error())
		return
	}

	order, err := h.orders.Deliver(c.Request.Context(), actor, orderID, service.DeliverInput{
		MilestoneID: milestoneID,
		Message:     req.Message,
		Attachments: req.Attachments,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// RequestRevision POST /api/orders/:id/revision
func (h *OrderHandler) RequestRevision(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req noteRequest
	if !common.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.RequestRevision(c.Request.Context(), actor, orderID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// AcceptDelivery POST /api/orders/:id/accept
// Для проектного заказа в теле передаётся milestone_id принимаемого этапа.
func (h *OrderHandler) AcceptDelivery(c *gin.Context) {
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

	order, err := h.orders.AcceptDelivery(c.Request.Context(), actor, orderID, milestoneID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// Cancel POST /api/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 && !common.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), actor, orderID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}
