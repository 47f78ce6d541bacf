package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

// Store собирает репозитории поверх *sqlx.DB или открытой *sqlx.Tx.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext

	orders     *OrderRepository
	milestones *MilestoneRepository
	ledger     *LedgerRepository
	disputes   *DisputeRepository
	catalog    *CatalogRepository
	history    *OrderHistoryRepository
}

func NewStore(db *sqlx.DB) *Store {
	return newStore(db, db)
}

func newStore(db *sqlx.DB, ext sqlx.ExtContext) *Store {
	return &Store{
		db:         db,
		ext:        ext,
		orders:     NewOrderRepository(ext),
		milestones: NewMilestoneRepository(ext),
		ledger:     NewLedgerRepository(ext),
		disputes:   NewDisputeRepository(ext),
		catalog:    NewCatalogRepository(ext),
		history:    NewOrderHistoryRepository(ext),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Orders() repository.OrderRepository         { return s.orders }
func (s *Store) Milestones() repository.MilestoneRepository { return s.milestones }
func (s *Store) Ledger() repository.LedgerRepository        { return s.ledger }
func (s *Store) Disputes() repository.DisputeRepository     { return s.disputes }
func (s *Store) Catalog() repository.CatalogRepository      { return s.catalog }
func (s *Store) History() repository.HistoryRepository      { return s.history }

// WithinTx открывает транзакцию. Вложенный вызов переиспользует текущую.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if _, inTx := s.ext.(*sqlx.Tx); inTx {
		return fn(s)
	}
	return common.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(newStore(s.db, tx))
	})
}
