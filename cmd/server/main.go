package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/db"
	"github.com/ignatzorin/escrow-engine/internal/fees"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/gateway/gatewaya"
	"github.com/ignatzorin/escrow-engine/internal/gateway/gatewayb"
	"github.com/ignatzorin/escrow-engine/internal/goroutine"
	httpHandlers "github.com/ignatzorin/escrow-engine/internal/http/handlers"
	"github.com/ignatzorin/escrow-engine/internal/http/middleware"
	httpRouter "github.com/ignatzorin/escrow-engine/internal/http/router"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/repository"
	"github.com/ignatzorin/escrow-engine/internal/service"
	"github.com/ignatzorin/escrow-engine/internal/storage"
	"github.com/ignatzorin/escrow-engine/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(dbConn); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к redis: %v", err)
		}
		defer rdb.Close()
	}

	limitStore, err := middleware.NewRateLimitStore(rdb)
	if err != nil {
		log.Fatalf("main: не удалось создать хранилище rate limit: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	calc, err := fees.NewCalculator(cfg.BuyerFeeBPS, cfg.SellerFeeBPS)
	if err != nil {
		log.Fatalf("main: некорректные ставки комиссии: %v", err)
	}

	gateways, err := buildGateways(cfg)
	if err != nil {
		log.Fatalf("main: ошибка настройки платёжных провайдеров: %v", err)
	}

	evidenceStorage, err := storage.NewEvidenceStorage(cfg.EvidenceStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)
	notifier := ws.NewNotifier(hub)

	// Сервисы.
	store := repository.NewStore(dbConn)
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	orderService := service.NewOrderService(store, calc, notifier, collector, cfg.Currency)
	settlementService := service.NewSettlementService(store, gateways, notifier, collector)
	paymentService := service.NewPaymentService(store, gateways, settlementService, notifier, collector, cfg.AllowManualSettlement)
	disputeService := service.NewDisputeService(store, evidenceStorage, notifier, collector)
	ledgerService := service.NewLedgerService(store, collector)

	if cfg.ReaperInterval > 0 {
		goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
			ledgerService.RunReaper(ctx, cfg.ReaperInterval, cfg.PendingExpiry)
		})
	}

	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Orders:       httpHandlers.NewOrderHandler(orderService),
		Payments:     httpHandlers.NewPaymentHandler(paymentService),
		Webhooks:     httpHandlers.NewWebhookHandler(settlementService),
		Disputes:     httpHandlers.NewDisputeHandler(disputeService, cfg.MaxUploadSizeMB),
		Transactions: httpHandlers.NewTransactionHandler(ledgerService, cfg.PendingExpiry),
		Health:       httpHandlers.NewHealthHandler(dbConn, rdb),
		WS:           httpHandlers.NewWSHandler(hub, cfg.AllowedOrigins),
	}, httpRouter.Deps{
		Tokens:     tokenManager,
		LimitStore: limitStore,
		Metrics:    collector,
		Gatherer:   registry,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	logger.L().WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// buildGateways собирает адаптеры провайдеров. Ненастроенный провайдер
// остаётся в реестре и отвечает GATEWAY_NOT_CONFIGURED.
func buildGateways(cfg *config.Config) (gateway.Registry, error) {
	a := gatewaya.New(gatewaya.Config{
		SiteCode:     cfg.GatewayA.SiteCode,
		PrivateKey:   cfg.GatewayA.PrivateKey,
		CountryCode:  cfg.GatewayA.CountryCode,
		CurrencyCode: cfg.Currency,
		PayURL:       cfg.GatewayA.PayURL,
		IsTest:       cfg.GatewayA.TestMode,
		SuccessURL:   cfg.FrontendBaseURL + "/payments/success",
		CancelURL:    cfg.FrontendBaseURL + "/payments/cancel",
		ErrorURL:     cfg.FrontendBaseURL + "/payments/error",
		NotifyURL:    cfg.PublicBaseURL + "/api/webhooks/gateway-a",
	})

	b, err := gatewayb.New(gatewayb.Config{
		MerchantID:      cfg.GatewayB.MerchantID,
		MerchantKey:     cfg.GatewayB.MerchantKey,
		Passphrase:      cfg.GatewayB.Passphrase,
		ProcessURL:      cfg.GatewayB.ProcessURL,
		ValidateURL:     cfg.GatewayB.ValidateURL,
		AllowedCIDRs:    cfg.GatewayB.AllowedCIDRs,
		SkipSourceCheck: !cfg.IsProduction() && len(cfg.GatewayB.AllowedCIDRs) == 0,
		ReturnURL:       cfg.FrontendBaseURL + "/payments/success",
		CancelURL:       cfg.FrontendBaseURL + "/payments/cancel",
		NotifyURL:       cfg.PublicBaseURL + "/api/webhooks/gateway-b",
		Timeout:         cfg.GatewayTimeout,
	}, nil)
	if err != nil {
		return nil, err
	}

	return gateway.NewRegistry(a, b), nil
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
