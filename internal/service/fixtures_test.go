package service

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/fees"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

type sentNotification struct {
	userID uuid.UUID
	kind   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(userID uuid.UUID, kind string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, kind: kind})
}

func (n *recordingNotifier) kinds(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.userID == userID {
			out = append(out, s.kind)
		}
	}
	return out
}

// fakeGateway принимает уведомления с signature=valid и сумму в поле amount.
type fakeGateway struct {
	provider valueobject.Provider
}

func (g fakeGateway) Provider() valueobject.Provider { return g.provider }
func (g fakeGateway) Configured() bool               { return true }

func (g fakeGateway) Initiate(_ context.Context, req gateway.PaymentRequest) (string, error) {
	return "https://pay.test/?ref=" + req.Reference, nil
}

func (g fakeGateway) VerifyWebhook(_ context.Context, wh gateway.Webhook) (*gateway.Event, error) {
	if wh.Form.Get("signature") != "valid" {
		return nil, apperror.ErrInvalidSignature
	}
	amount, err := strconv.ParseInt(wh.Form.Get("amount"), 10, 64)
	if err != nil {
		return nil, apperror.ErrInvalidSignature
	}
	raw := wh.Form.Get("status")
	status := gateway.StatusPending
	switch raw {
	case "success":
		status = gateway.StatusSuccess
	case "failed":
		status = gateway.StatusFailed
	}
	return &gateway.Event{
		Provider:              g.provider,
		Reference:             wh.Form.Get("reference"),
		ProviderTransactionID: "ext-" + wh.Form.Get("reference"),
		Amount:                amount,
		Status:                status,
		RawStatus:             raw,
		Message:               wh.Form.Get("message"),
	}, nil
}

func webhookForm(reference string, amount int64, status string) url.Values {
	return url.Values{
		"reference": {reference},
		"amount":    {strconv.FormatInt(amount, 10)},
		"status":    {status},
		"signature": {"valid"},
	}
}

type fakeEvidenceStorage struct{}

func (fakeEvidenceStorage) Save(_ context.Context, disputeID uuid.UUID, name string, r io.Reader) (string, string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", "", err
	}
	return disputeID.String() + "/" + name, "image/png", nil
}

type testEnv struct {
	ctx        context.Context
	store      *memStore
	notifier   *recordingNotifier
	orders     *OrderService
	payments   *PaymentService
	settlement *SettlementService
	disputes   *DisputeService
	ledger     *LedgerService
	buyer      Actor
	seller     Actor
	admin      Actor
	stranger   Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	notifier := &recordingNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	registry := gateway.NewRegistry(fakeGateway{provider: valueobject.ProviderGatewayA})

	settlement := NewSettlementService(store, registry, notifier, m)
	return &testEnv{
		ctx:        context.Background(),
		store:      store,
		notifier:   notifier,
		orders:     NewOrderService(store, fees.Default(), notifier, m, "ZAR"),
		payments:   NewPaymentService(store, registry, settlement, notifier, m, true),
		settlement: settlement,
		disputes:   NewDisputeService(store, fakeEvidenceStorage{}, notifier, m),
		ledger:     NewLedgerService(store, m),
		buyer:      Actor{ID: uuid.New(), Role: models.RoleBuyer},
		seller:     Actor{ID: uuid.New(), Role: models.RoleSeller},
		admin:      Actor{ID: uuid.New(), Role: models.RoleAdmin},
		stranger:   Actor{ID: uuid.New(), Role: models.RoleBuyer},
	}
}

// seedService добавляет услугу продавца с тарифом basic.
func (e *testEnv) seedService(price int64, revisions int) uuid.UUID {
	svc := models.Service{
		ID:       uuid.New(),
		SellerID: e.seller.ID,
		Title:    "Логотип",
		Tiers:    models.ServiceTiers{{Name: "basic", Price: price, DeliveryDays: 3, Revisions: revisions}},
		IsActive: true,
	}
	e.store.data.services[svc.ID] = svc
	return svc.ID
}

func (e *testEnv) seedBid(amount int64) (models.Project, models.Bid) {
	project := models.Project{ID: uuid.New(), OwnerID: e.buyer.ID, Title: "Интернет-магазин"}
	bid := models.Bid{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		SellerID:     e.seller.ID,
		Amount:       amount,
		DeliveryDays: 14,
		Revisions:    2,
		Status:       models.BidStatusPending,
	}
	e.store.data.projects[project.ID] = project
	e.store.data.bids[bid.ID] = bid
	return project, bid
}

func (e *testEnv) newServiceOrder(t *testing.T, price int64, revisions int) *models.Order {
	t.Helper()
	order, err := e.orders.CreateServiceOrder(e.ctx, e.buyer, CreateServiceOrderInput{
		ServiceID: e.seedService(price, revisions),
		Tier:      "basic",
	})
	require.NoError(t, err)
	return order
}

// payViaGateway проводит оплату заказа услуги через фейковый шлюз.
func (e *testEnv) payViaGateway(t *testing.T, order *models.Order) *PaymentInitiation {
	t.Helper()
	init, err := e.payments.InitiateOrderPayment(e.ctx, e.buyer, order.ID, InitiatePaymentInput{Provider: valueobject.ProviderGatewayA})
	require.NoError(t, err)
	res, err := e.settlement.HandleGatewayA(e.ctx, webhookForm(init.Reference, init.Amount, "success"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	return init
}

// startedServiceOrder заказ услуги в статусе in_progress.
func (e *testEnv) startedServiceOrder(t *testing.T, price int64, revisions int) *models.Order {
	t.Helper()
	order := e.newServiceOrder(t, price, revisions)
	e.payViaGateway(t, order)
	started, err := e.orders.SubmitRequirements(e.ctx, e.buyer, order.ID, "Синий логотип, формат SVG")
	require.NoError(t, err)
	return started
}

func (e *testEnv) newProjectOrder(t *testing.T, amounts ...int64) (*models.Order, []models.Milestone) {
	t.Helper()
	var total int64
	inputs := make([]MilestoneInput, 0, len(amounts))
	for i, a := range amounts {
		total += a
		inputs = append(inputs, MilestoneInput{Title: "Этап " + strconv.Itoa(i+1), Amount: a})
	}
	project, bid := e.seedBid(total)
	order, err := e.orders.CreateProjectOrder(e.ctx, e.buyer, CreateProjectOrderInput{
		ProjectID:  project.ID,
		BidID:      bid.ID,
		Milestones: inputs,
	})
	require.NoError(t, err)
	require.Len(t, order.Milestones, len(amounts))
	return order, order.Milestones
}

func (e *testEnv) fundMilestone(t *testing.T, orderID, milestoneID uuid.UUID) {
	t.Helper()
	res, err := e.payments.SettleManually(e.ctx, e.buyer, orderID, &milestoneID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
}

func (e *testEnv) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	o, err := e.store.Orders().GetByID(e.ctx, id)
	require.NoError(t, err)
	return o
}

func (e *testEnv) milestone(t *testing.T, id uuid.UUID) *models.Milestone {
	t.Helper()
	m, err := e.store.Milestones().GetByID(e.ctx, id)
	require.NoError(t, err)
	return m
}

// entries записи журнала заказа заданного типа.
func (e *testEnv) entries(t *testing.T, orderID uuid.UUID, txType valueobject.TransactionType) []models.Transaction {
	t.Helper()
	all, err := e.store.Ledger().ListByOrder(e.ctx, orderID)
	require.NoError(t, err)
	var out []models.Transaction
	for _, txn := range all {
		if txn.Type == txType {
			out = append(out, txn)
		}
	}
	return out
}

func requireCode(t *testing.T, err error, code apperror.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperror.CodeOf(err), "unexpected error: %v", err)
}
