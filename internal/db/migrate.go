package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/migrations"
)

// RunMigrations накатывает встроенные миграции до последней версии.
func RunMigrations(conn *sqlx.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migrate: не удалось открыть встроенные миграции: %w", err)
	}

	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate: не удалось создать драйвер: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		// dirty-состояние чиним вручную через migrate force, автоматически не трогаем
		return fmt.Errorf("migrate: не удалось применить миграции: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		logger.L().WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("migrate: схема актуальна")
	}
	return nil
}
