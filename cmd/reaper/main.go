// Команда reaper переводит в failed платежи, по которым провайдер так и не прислал уведомление.
// Предназначена для запуска по cron, когда встроенный тикер сервера выключен.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/db"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/repository"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

func main() {
	olderThan := pflag.DurationP("older-than", "o", 0, "порог устаревания pending-записи (по умолчанию PENDING_EXPIRY)")
	migrate := pflag.Bool("migrate", false, "накатить миграции перед запуском")
	timeout := pflag.Duration("timeout", time.Minute, "ограничение на время работы")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("reaper: ошибка загрузки конфигурации: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	threshold := cfg.PendingExpiry
	if *olderThan > 0 {
		threshold = *olderThan
	}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("reaper: ошибка подключения к базе: %v", err)
	}
	defer conn.Close()

	if *migrate {
		if err := db.RunMigrations(conn); err != nil {
			log.Fatalf("reaper: ошибка миграций: %v", err)
		}
	}

	ledger := service.NewLedgerService(repository.NewStore(conn), nil)
	n, err := ledger.ExpireStalePending(ctx, threshold)
	if err != nil {
		log.Fatalf("reaper: %v", err)
	}

	logger.L().WithField("expired", n).WithField("older_than", threshold.String()).Info("reaper: готово")
}
