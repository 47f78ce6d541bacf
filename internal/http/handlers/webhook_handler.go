package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// maxWebhookBody уведомления провайдеров короткие, больше не читаем.
const maxWebhookBody = 64 << 10

// WebhookHandler принимает серверные уведомления провайдеров.
// Ответ провайдеру: 200 когда повторять не нужно, 4xx на плохую подпись, 5xx чтобы провайдер повторил.
type WebhookHandler struct {
	settlement *service.SettlementService
}

func NewWebhookHandler(settlement *service.SettlementService) *WebhookHandler {
	return &WebhookHandler{settlement: settlement}
}

// GatewayA POST /api/webhooks/gateway-a
func (h *WebhookHandler) GatewayA(c *gin.Context) {
	h.handle(c, valueobject.ProviderGatewayA)
}

// GatewayB POST /api/webhooks/gateway-b
func (h *WebhookHandler) GatewayB(c *gin.Context) {
	h.handle(c, valueobject.ProviderGatewayB)
}

func (h *WebhookHandler) handle(c *gin.Context, provider valueobject.Provider) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	result, err := h.settlement.HandleWebhook(c.Request.Context(), provider, gateway.Webhook{
		Form:     c.Request.PostForm,
		SourceIP: c.ClientIP(),
	})

	log := logger.L().WithFields(logrus.Fields{"provider": provider, "ip": c.ClientIP()})
	switch {
	case err == nil:
		log.WithField("outcome", result.Outcome).Info("webhook processed")
		c.String(http.StatusOK, "OK")
	case apperror.HasCode(err, apperror.ErrCodeUnknownTransaction):
		// повтор не поможет, подтверждаем получение
		log.WithError(err).Warn("webhook for unknown reference")
		c.String(http.StatusOK, "OK")
	case apperror.HasCode(err, apperror.ErrCodeInvalidSignature):
		c.String(http.StatusBadRequest, "invalid signature")
	case apperror.HasCode(err, apperror.ErrCodeGatewayNotConfigured),
		apperror.HasCode(err, apperror.ErrCodeGatewayUnavailable):
		c.String(http.StatusServiceUnavailable, "unavailable")
	default:
		log.WithError(err).Error("webhook processing failed")
		c.String(http.StatusInternalServerError, "error")
	}
}
