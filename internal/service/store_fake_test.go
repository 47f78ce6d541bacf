package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// memData состояние in-memory хранилища. Копируется целиком для отката.
type memData struct {
	seq        int
	orders     map[uuid.UUID]models.Order
	milestones map[uuid.UUID]models.Milestone
	deliveries []models.Delivery
	txns       map[uuid.UUID]models.Transaction
	txnSeq     map[uuid.UUID]int
	disputes   map[uuid.UUID]models.Dispute
	evidence   []models.DisputeEvidence
	history    []models.OrderHistory
	services   map[uuid.UUID]models.Service
	projects   map[uuid.UUID]models.Project
	bids       map[uuid.UUID]models.Bid
}

func newMemData() *memData {
	return &memData{
		orders:     map[uuid.UUID]models.Order{},
		milestones: map[uuid.UUID]models.Milestone{},
		txns:       map[uuid.UUID]models.Transaction{},
		txnSeq:     map[uuid.UUID]int{},
		disputes:   map[uuid.UUID]models.Dispute{},
		services:   map[uuid.UUID]models.Service{},
		projects:   map[uuid.UUID]models.Project{},
		bids:       map[uuid.UUID]models.Bid{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	return &memData{
		seq:        d.seq,
		orders:     copyMap(d.orders),
		milestones: copyMap(d.milestones),
		deliveries: append([]models.Delivery(nil), d.deliveries...),
		txns:       copyMap(d.txns),
		txnSeq:     copyMap(d.txnSeq),
		disputes:   copyMap(d.disputes),
		evidence:   append([]models.DisputeEvidence(nil), d.evidence...),
		history:    append([]models.OrderHistory(nil), d.history...),
		services:   copyMap(d.services),
		projects:   copyMap(d.projects),
		bids:       copyMap(d.bids),
	}
}

// memStore реализует repository.Store в памяти с теми же CAS-гарантиями,
// что и SQL-версия. WithinTx сериализует транзакции и откатывает снимок при ошибке.
type memStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool

	// failHistory имитирует сбой записи истории для проверки отката
	failHistory bool
}

func newMemStore() *memStore {
	return &memStore{mu: &sync.Mutex{}, data: newMemData()}
}

var _ repository.Store = (*memStore)(nil)

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &memStore{mu: s.mu, data: s.data, inTx: true, failHistory: s.failHistory}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *memStore) Orders() repository.OrderRepository         { return memOrders{s} }
func (s *memStore) Milestones() repository.MilestoneRepository { return memMilestones{s} }
func (s *memStore) Ledger() repository.LedgerRepository        { return memLedger{s} }
func (s *memStore) Disputes() repository.DisputeRepository     { return memDisputes{s} }
func (s *memStore) Catalog() repository.CatalogRepository      { return memCatalog{s} }
func (s *memStore) History() repository.HistoryRepository      { return memHistory{s} }

// --- заказы ---

type memOrders struct{ s *memStore }

func (r memOrders) Create(_ context.Context, o *models.Order) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.orders {
		if existing.OrderNumber == o.OrderNumber {
			return apperror.New(apperror.ErrCodeConflict, "номер заказа уже занят")
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	stored.Milestones = nil
	r.s.data.orders[o.ID] = stored
	return nil
}

func (r memOrders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	defer r.s.lock()()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, apperror.ErrOrderNotFound
	}
	return &o, nil
}

func (r memOrders) ListByParticipant(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	defer r.s.lock()()
	var out []models.Order
	for _, o := range r.s.data.orders {
		if o.IsParticipant(userID) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memOrders) TransitionStatus(_ context.Context, id uuid.UUID, from []valueobject.OrderStatus, to valueobject.OrderStatus, patch repository.OrderPatch) (*models.Order, error) {
	defer r.s.lock()()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, apperror.ErrOrderNotFound
	}
	if !o.Status.In(from...) {
		return nil, apperror.IllegalTransition("order", string(o.Status), string(to))
	}
	if patch.IncrementRevisions {
		if o.RevisionsUsed >= o.RevisionsAllowed {
			return nil, apperror.ErrRevisionLimit
		}
		o.RevisionsUsed++
	}
	now := time.Now()
	if patch.DeliveryDeadline != nil {
		o.DeliveryDeadline = patch.DeliveryDeadline
	}
	if patch.Requirements != nil {
		o.Requirements = patch.Requirements
	}
	if patch.CancelledBy != nil {
		o.CancelledBy = patch.CancelledBy
		o.CancelledAt = &now
	}
	if patch.CancellationReason != nil {
		o.CancellationReason = patch.CancellationReason
	}
	if patch.Complete {
		o.CompletedAt = &now
	}
	o.Status = to
	o.UpdatedAt = now
	r.s.data.orders[id] = o
	return &o, nil
}

func (r memOrders) CreateDelivery(_ context.Context, d *models.Delivery) error {
	defer r.s.lock()()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	r.s.data.deliveries = append(r.s.data.deliveries, *d)
	return nil
}

func (r memOrders) ListDeliveries(_ context.Context, orderID uuid.UUID) ([]models.Delivery, error) {
	defer r.s.lock()()
	var out []models.Delivery
	for _, d := range r.s.data.deliveries {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	return out, nil
}

// --- этапы ---

type memMilestones struct{ s *memStore }

func (r memMilestones) CreateBatch(_ context.Context, milestones []models.Milestone) error {
	defer r.s.lock()()
	for i := range milestones {
		if milestones[i].Amount <= 0 {
			return apperror.New(apperror.ErrCodeInvariant, "сумма этапа должна быть положительной")
		}
		if milestones[i].ID == uuid.Nil {
			milestones[i].ID = uuid.New()
		}
		now := time.Now()
		milestones[i].CreatedAt, milestones[i].UpdatedAt = now, now
		r.s.data.milestones[milestones[i].ID] = milestones[i]
	}
	return nil
}

func (r memMilestones) GetByID(_ context.Context, id uuid.UUID) (*models.Milestone, error) {
	defer r.s.lock()()
	m, ok := r.s.data.milestones[id]
	if !ok {
		return nil, apperror.ErrMilestoneNotFound
	}
	return &m, nil
}

func (r memMilestones) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Milestone, error) {
	defer r.s.lock()()
	var out []models.Milestone
	for _, m := range r.s.data.milestones {
		if m.OrderID == orderID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (r memMilestones) Transition(_ context.Context, id uuid.UUID, from []valueobject.MilestoneStatus, to valueobject.MilestoneStatus) (*models.Milestone, error) {
	defer r.s.lock()()
	m, ok := r.s.data.milestones[id]
	if !ok {
		return nil, apperror.ErrMilestoneNotFound
	}
	if !m.Status.In(from...) {
		return nil, apperror.IllegalTransition("milestone", string(m.Status), string(to))
	}
	now := time.Now()
	switch to {
	case valueobject.MilestoneStatusFunded:
		m.FundedAt = &now
	case valueobject.MilestoneStatusDelivered:
		m.DeliveredAt = &now
	case valueobject.MilestoneStatusReleased:
		m.ReleasedAt = &now
	}
	m.Status = to
	m.UpdatedAt = now
	r.s.data.milestones[id] = m
	return &m, nil
}

// --- журнал ---

type memLedger struct{ s *memStore }

func (r memLedger) Create(_ context.Context, t *models.Transaction) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.txns {
		if t.Provider != nil && t.ProviderReference != nil && existing.Provider != nil && existing.ProviderReference != nil &&
			*existing.Provider == *t.Provider && *existing.ProviderReference == *t.ProviderReference {
			return apperror.New(apperror.ErrCodeInvariant, "запись журнала уже существует")
		}
		if t.Type == valueobject.TransactionTypeEscrowRelease && existing.Type == valueobject.TransactionTypeEscrowRelease &&
			t.MilestoneID != nil && existing.MilestoneID != nil && *t.MilestoneID == *existing.MilestoneID {
			return apperror.New(apperror.ErrCodeInvariant, "запись журнала уже существует")
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	r.s.data.seq++
	r.s.data.txnSeq[t.ID] = r.s.data.seq
	r.s.data.txns[t.ID] = *t
	return nil
}

func (r memLedger) GetByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	defer r.s.lock()()
	t, ok := r.s.data.txns[id]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	return &t, nil
}

func (r memLedger) GetByReference(_ context.Context, provider valueobject.Provider, reference string, _ bool) (*models.Transaction, error) {
	defer r.s.lock()()
	for _, t := range r.s.data.txns {
		if t.Provider != nil && t.ProviderReference != nil && *t.Provider == provider && *t.ProviderReference == reference {
			return &t, nil
		}
	}
	return nil, apperror.ErrTransactionNotFound
}

func (r memLedger) settle(id uuid.UUID, to valueobject.TransactionStatus, mutate func(t *models.Transaction)) (*models.Transaction, error) {
	defer r.s.lock()()
	t, ok := r.s.data.txns[id]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	if t.Status != valueobject.TransactionStatusPending {
		return nil, apperror.IllegalTransition("transaction", string(t.Status), string(to))
	}
	t.Status = to
	mutate(&t)
	r.s.data.txns[id] = t
	return &t, nil
}

func (r memLedger) Complete(_ context.Context, id uuid.UUID, providerTransactionID *string) (*models.Transaction, error) {
	return r.settle(id, valueobject.TransactionStatusCompleted, func(t *models.Transaction) {
		now := time.Now()
		t.CompletedAt = &now
		if providerTransactionID != nil {
			t.ProviderTransactionID = providerTransactionID
		}
	})
}

func (r memLedger) Fail(_ context.Context, id uuid.UUID, message string) (*models.Transaction, error) {
	return r.settle(id, valueobject.TransactionStatusFailed, func(t *models.Transaction) {
		t.ErrorMessage = &message
	})
}

func (r memLedger) sorted(keep func(t models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	for _, t := range r.s.data.txns {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.s.data.txnSeq[out[i].ID] < r.s.data.txnSeq[out[j].ID] })
	return out
}

func (r memLedger) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	defer r.s.lock()()
	out := r.sorted(func(t models.Transaction) bool { return t.UserID == userID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memLedger) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	defer r.s.lock()()
	return r.sorted(func(t models.Transaction) bool { return t.OrderID != nil && *t.OrderID == orderID }), nil
}

func (r memLedger) ExpirePending(_ context.Context, createdBefore time.Time, message string) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.data.txns {
		if t.Status == valueobject.TransactionStatusPending && t.CreatedAt.Before(createdBefore) {
			msg := message
			t.Status = valueobject.TransactionStatusFailed
			t.ErrorMessage = &msg
			r.s.data.txns[id] = t
			n++
		}
	}
	return n, nil
}

// --- споры ---

type memDisputes struct{ s *memStore }

func (r memDisputes) Create(_ context.Context, d *models.Dispute) error {
	defer r.s.lock()()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.data.disputes[d.ID] = *d
	return nil
}

func (r memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	defer r.s.lock()()
	d, ok := r.s.data.disputes[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	return &d, nil
}

func (r memDisputes) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Dispute, error) {
	defer r.s.lock()()
	var out []models.Dispute
	for _, d := range r.s.data.disputes {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r memDisputes) Transition(_ context.Context, id uuid.UUID, from []valueobject.DisputeStatus, to valueobject.DisputeStatus, patch repository.DisputePatch) (*models.Dispute, error) {
	defer r.s.lock()()
	d, ok := r.s.data.disputes[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	allowed := false
	for _, st := range from {
		if st == d.Status {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperror.IllegalTransition("dispute", string(d.Status), string(to))
	}
	if patch.Resolution != nil {
		d.Resolution = patch.Resolution
	}
	if patch.ResolutionAmount != nil {
		d.ResolutionAmount = patch.ResolutionAmount
	}
	if patch.ResolutionNotes != nil {
		d.ResolutionNotes = patch.ResolutionNotes
	}
	if patch.ResolvedBy != nil {
		d.ResolvedBy = patch.ResolvedBy
	}
	if patch.ResolvedAt != nil {
		d.ResolvedAt = patch.ResolvedAt
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	r.s.data.disputes[id] = d
	return &d, nil
}

func (r memDisputes) AddEvidence(_ context.Context, e *models.DisputeEvidence) error {
	defer r.s.lock()()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	r.s.data.evidence = append(r.s.data.evidence, *e)
	return nil
}

func (r memDisputes) ListEvidence(_ context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	defer r.s.lock()()
	var out []models.DisputeEvidence
	for _, e := range r.s.data.evidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- каталог и история ---

type memCatalog struct{ s *memStore }

func (r memCatalog) GetService(_ context.Context, id uuid.UUID) (*models.Service, error) {
	defer r.s.lock()()
	svc, ok := r.s.data.services[id]
	if !ok {
		return nil, apperror.ErrServiceNotFound
	}
	return &svc, nil
}

func (r memCatalog) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	defer r.s.lock()()
	p, ok := r.s.data.projects[id]
	if !ok {
		return nil, apperror.ErrProjectNotFound
	}
	return &p, nil
}

func (r memCatalog) GetBid(_ context.Context, id uuid.UUID) (*models.Bid, error) {
	defer r.s.lock()()
	b, ok := r.s.data.bids[id]
	if !ok {
		return nil, apperror.ErrBidNotFound
	}
	return &b, nil
}

func (r memCatalog) AcceptBid(_ context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	b, ok := r.s.data.bids[id]
	if !ok {
		return apperror.ErrBidNotFound
	}
	if b.Status != models.BidStatusPending {
		return apperror.IllegalTransition("bid", b.Status, models.BidStatusAccepted)
	}
	b.Status = models.BidStatusAccepted
	r.s.data.bids[id] = b
	return nil
}

type memHistory struct{ s *memStore }

func (r memHistory) Add(_ context.Context, entry *models.OrderHistory) error {
	defer r.s.lock()()
	if r.s.failHistory {
		return apperror.New(apperror.ErrCodeDatabaseError, "history unavailable")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	r.s.data.history = append(r.s.data.history, *entry)
	return nil
}

func (r memHistory) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	defer r.s.lock()()
	var out []models.OrderHistory
	for _, h := range r.s.data.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}
