package repository

import "context"

// Store набор репозиториев, работающих в одном контексте выполнения.
type Store interface {
	Orders() OrderRepository
	Milestones() MilestoneRepository
	Ledger() LedgerRepository
	Disputes() DisputeRepository
	Catalog() CatalogRepository
	History() HistoryRepository

	// WithinTx выполняет fn в одной транзакции БД. Запись в журнал и смена
	// статуса, которую она обосновывает, всегда идут через один WithinTx.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
