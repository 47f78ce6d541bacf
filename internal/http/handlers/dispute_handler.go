package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

type DisputeHandler struct {
	svc            *service.DisputeService
	maxUploadBytes int64
}

func NewDisputeHandler(s *service.DisputeService, maxUploadMB int64) *DisputeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &DisputeHandler{svc: s, maxUploadBytes: maxUploadMB << 20}
}

// OpenDispute POST /api/orders/:id/disputes
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Category    string `json:"category" binding:"required"`
		Description string `json:"description" binding:"required"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	dispute, err := h.svc.OpenDispute(c.Request.Context(), actor, orderID, service.OpenDisputeInput{
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// ListOrderDisputes GET /api/orders/:id/disputes
func (h *DisputeHandler) ListOrderDisputes(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	disputes, err := h.svc.ListOrderDisputes(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, disputes)
}

// GetDispute GET /api/disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	disputeID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), actor, disputeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}

// AddEvidence POST /api/disputes/:id/evidence
// JSON {kind, content} для текста и ссылок, multipart с полем file для файлов.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	disputeID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
		fh, err := c.FormFile("file")
		if err != nil {
			response.BadRequest(c, "файл обязателен")
			return
		}
		if fh.Size > h.maxUploadBytes {
			response.BadRequest(c, "файл слишком большой")
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "не удалось прочитать файл")
			return
		}
		defer f.Close()

		evidence, err := h.svc.AddEvidenceFile(c.Request.Context(), actor, disputeID, fh.Filename, f)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Created(c, evidence)
		return
	}

	var req struct {
		Kind    string `json:"kind" binding:"required,oneof=text url"`
		Content string `json:"content" binding:"required"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	evidence, err := h.svc.AddEvidence(c.Request.Context(), actor, disputeID, service.EvidenceInput{
		Kind:    req.Kind,
		Content: req.Content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, evidence)
}

type disputeMove func(ctx context.Context, actor service.Actor, disputeID uuid.UUID) (*models.Dispute, error)

// Escalate POST /api/disputes/:id/escalate
func (h *DisputeHandler) Escalate(c *gin.Context) {
	h.move(c, h.svc.Escalate)
}

// StartReview POST /api/admin/disputes/:id/review
func (h *DisputeHandler) StartReview(c *gin.Context) {
	h.move(c, h.svc.StartReview)
}

// Close POST /api/admin/disputes/:id/close
func (h *DisputeHandler) Close(c *gin.Context) {
	h.move(c, h.svc.Close)
}

func (h *DisputeHandler) move(c *gin.Context, fn disputeMove) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	disputeID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	dispute, err := fn(c.Request.Context(), actor, disputeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}

// Resolve POST /api/admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	disputeID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Resolution string `json:"resolution" binding:"required,oneof=refund_full refund_partial release_funds no_action other"`
		Amount     *int64 `json:"amount"`
		Notes      string `json:"notes"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	dispute, err := h.svc.Resolve(c.Request.Context(), actor, disputeID, service.ResolveDisputeInput{
		Resolution: valueobject.Resolution(req.Resolution),
		Amount:     req.Amount,
		Notes:      req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}
