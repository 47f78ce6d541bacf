package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers"
	"github.com/ignatzorin/escrow-engine/internal/http/middleware"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// Handlers набор HTTP-хэндлеров сервиса.
type Handlers struct {
	Orders       *handlers.OrderHandler
	Payments     *handlers.PaymentHandler
	Webhooks     *handlers.WebhookHandler
	Disputes     *handlers.DisputeHandler
	Transactions *handlers.TransactionHandler
	Health       *handlers.HealthHandler
	WS           *handlers.WSHandler
}

// Deps инфраструктура, нужная middleware.
type Deps struct {
	Tokens     *service.TokenManager
	LimitStore limiter.Store
	Metrics    *metrics.Collector
	// Gatherer источник /metrics; nil отключает endpoint.
	Gatherer prometheus.Gatherer
}

func SetupRouter(cfg *config.Config, h Handlers, d Deps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// ClientIP() читает X-Forwarded-For только от перечисленных прокси.
	// От него зависит проверка адреса уведомлений провайдера.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.L().WithError(err).Error("Некорректный список доверенных прокси, заголовки прокси игнорируются")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger(d.Metrics))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	if h.Health != nil {
		r.GET("/health", h.Health.Health)
	}
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	// Уведомления провайдеров без JWT и без rate limit: повторы провайдера не должны упираться в лимит.
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/gateway-a", h.Webhooks.GatewayA)
		webhooks.POST("/gateway-b", h.Webhooks.GatewayB)
	}

	if h.WS != nil {
		api.GET("/ws", middleware.QueryTokenAuth(d.Tokens), h.WS.Handle)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(d.Tokens))
	protected.Use(middleware.RateLimitMiddleware(d.LimitStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))

	orders := protected.Group("/orders")
	{
		orders.POST("/service", h.Orders.CreateServiceOrder)
		orders.POST("/project", h.Orders.CreateProjectOrder)
		orders.GET("", h.Orders.ListOrders)

		byID := orders.Group("/:id", middleware.UUIDValidator("id"))
		byID.GET("", h.Orders.GetOrder)
		byID.POST("/requirements", h.Orders.SubmitRequirements)
		byID.POST("/deliver", h.Orders.Deliver)
		byID.POST("/revision", h.Orders.RequestRevision)
		byID.POST("/accept", h.Orders.AcceptDelivery)
		byID.POST("/cancel", h.Orders.Cancel)

		byID.POST("/payments", h.Payments.InitiateOrderPayment)
		byID.POST("/payments/manual", h.Payments.SettleManually)
		byID.POST("/milestones/:milestoneId/payments", middleware.UUIDValidator("milestoneId"), h.Payments.InitiateMilestonePayment)

		byID.GET("/transactions", h.Transactions.ListForOrder)
		byID.GET("/escrow", h.Transactions.Escrow)

		byID.POST("/disputes", h.Disputes.OpenDispute)
		byID.GET("/disputes", h.Disputes.ListOrderDisputes)
	}

	protected.GET("/transactions", h.Transactions.ListMine)

	disputes := protected.Group("/disputes/:id", middleware.UUIDValidator("id"))
	{
		disputes.GET("", h.Disputes.GetDispute)
		disputes.POST("/evidence", h.Disputes.AddEvidence)
		disputes.POST("/escalate", h.Disputes.Escalate)
	}

	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		adminDisputes := admin.Group("/disputes/:id", middleware.UUIDValidator("id"))
		adminDisputes.POST("/review", h.Disputes.StartReview)
		adminDisputes.POST("/close", h.Disputes.Close)
		adminDisputes.POST("/resolve", h.Disputes.Resolve)

		admin.POST("/transactions/expire", h.Transactions.ExpirePending)
	}

	return r
}
