package settlement

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dvtran/cinema-ticketing/internal/gateway"
	"github.com/dvtran/cinema-ticketing/internal/hold"
	"github.com/dvtran/cinema-ticketing/internal/lease"
	"github.com/dvtran/cinema-ticketing/internal/model"
	"github.com/dvtran/cinema-ticketing/internal/notify"
	"github.com/dvtran/cinema-ticketing/internal/queue"
	"github.com/dvtran/cinema-ticketing/internal/repository"
	"github.com/dvtran/cinema-ticketing/internal/session"
)

// mockLedger stubs the durable store with per-test function fields. A
// nil field means the test does not expect that call and fails loudly.
type mockLedger struct {
	t                      *testing.T
	createCheckoutFn       func(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error
	createCashSaleFn       func(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error
	completeSettlementFn   func(ctx context.Context, o *model.Order, paymentID uint64, transactionNo string) (*repository.SettledOrder, error)
	failSettlementFn       func(ctx context.Context, orderID, paymentID uint64, transactionNo string) error
	paymentByTxnRefFn      func(ctx context.Context, txnRef string) (*model.Payment, error)
	orderByIDFn            func(ctx context.Context, id uint64) (*model.Order, error)
	failSettlementCalls    int
	completeSettlementCall int
}

func (m *mockLedger) CreateCheckout(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
	if m.createCheckoutFn == nil {
		m.t.Fatal("unexpected CreateCheckout call")
	}
	return m.createCheckoutFn(ctx, o, ticketIDs, lines, p)
}

func (m *mockLedger) CreateCashSale(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
	if m.createCashSaleFn == nil {
		m.t.Fatal("unexpected CreateCashSale call")
	}
	return m.createCashSaleFn(ctx, o, ticketIDs, lines, p)
}

func (m *mockLedger) CompleteSettlement(ctx context.Context, o *model.Order, paymentID uint64, transactionNo string) (*repository.SettledOrder, error) {
	m.completeSettlementCall++
	if m.completeSettlementFn == nil {
		m.t.Fatal("unexpected CompleteSettlement call")
	}
	return m.completeSettlementFn(ctx, o, paymentID, transactionNo)
}

func (m *mockLedger) FailSettlement(ctx context.Context, orderID, paymentID uint64, transactionNo string) error {
	m.failSettlementCalls++
	if m.failSettlementFn == nil {
		m.t.Fatal("unexpected FailSettlement call")
	}
	return m.failSettlementFn(ctx, orderID, paymentID, transactionNo)
}

func (m *mockLedger) PaymentByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error) {
	if m.paymentByTxnRefFn == nil {
		m.t.Fatal("unexpected PaymentByTxnRef call")
	}
	return m.paymentByTxnRefFn(ctx, txnRef)
}

func (m *mockLedger) OrderByID(ctx context.Context, id uint64) (*model.Order, error) {
	if m.orderByIDFn == nil {
		m.t.Fatal("unexpected OrderByID call")
	}
	return m.orderByIDFn(ctx, id)
}

func (m *mockLedger) UserByID(_ context.Context, id uint64) (*model.User, error) {
	return &model.User{ID: id, Email: "buyer@example.com"}, nil
}

func (m *mockLedger) ComboPrice(_ context.Context, _ uint64) (int64, error) {
	return 45000, nil
}

type settlementSeats struct{}

func (settlementSeats) TicketSeat(_ context.Context, ticketID uint64) (int, int, string, error) {
	return int(ticketID / 10), int(ticketID % 10), "STANDARD", nil
}

type settlementPrices struct{}

func (settlementPrices) TicketPrice(_ context.Context, _ uint64) (int64, error) { return 90000, nil }
func (settlementPrices) ComboPrice(_ context.Context, _ uint64) (int64, error)  { return 45000, nil }

type captureNotifier struct {
	updates []notify.SeatUpdate
}

func (n *captureNotifier) BroadcastSeatUpdate(_ context.Context, update notify.SeatUpdate) {
	n.updates = append(n.updates, update)
}

type captureReceipts struct {
	events []queue.OrderPaidEvent
}

func (r *captureReceipts) DispatchOrderPaid(event queue.OrderPaidEvent) {
	r.events = append(r.events, event)
}

type fixture struct {
	coord    *Coordinator
	ledger   *mockLedger
	store    *lease.MemoryStore
	holds    *hold.Registry
	sessions *session.Manager
	gw       *gateway.Client
	notifier *captureNotifier
	receipts *captureReceipts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := lease.NewMemoryStore()
	notifier := &captureNotifier{}
	receipts := &captureReceipts{}
	holds := hold.NewRegistry(store, settlementSeats{}, notifier, 5*time.Minute, 20*time.Minute, zap.NewNop())
	sessions := session.NewManager(store, settlementPrices{}, 10*time.Minute, 20*time.Minute, zap.NewNop())
	gw := gateway.NewClient(gateway.Config{
		TmnCode:    "TESTTMN",
		HashSecret: "supersecret",
		PayURL:     "https://pay.example.com/vpcpay.html",
		ReturnURL:  "https://cinema.example.com/v1/payment/return",
		Window:     20 * time.Minute,
	})
	ledger := &mockLedger{t: t}
	coord := NewCoordinator(ledger, holds, sessions, gw, notifier, receipts, zap.NewNop())
	return &fixture{
		coord:    coord,
		ledger:   ledger,
		store:    store,
		holds:    holds,
		sessions: sessions,
		gw:       gw,
		notifier: notifier,
		receipts: receipts,
	}
}

// signed produces a callback parameter set carrying a valid checksum.
func signed(gw *gateway.Client, kv map[string]string) map[string]string {
	out := make(map[string]string, len(kv)+1)
	for k, v := range kv {
		out[k] = v
	}
	out[gateway.ParamSecureHash] = gw.Sign(gateway.Canonicalize(kv))
	return out
}

func callbackParams(gw *gateway.Client, txnRef string, amountCents int64, rspCode string) map[string]string {
	return signed(gw, map[string]string{
		gateway.ParamTxnRef:        txnRef,
		gateway.ParamAmount:        strconv.FormatInt(amountCents, 10),
		gateway.ParamResponseCode:  rspCode,
		gateway.ParamTransactionNo: "14599000",
		"vnp_TmnCode":              "TESTTMN",
	})
}

// seedCart places a held cart for (showtime 7, user 1) so lease cleanup
// has something to delete.
func seedCart(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.holds.Select(ctx, 7, 1, []uint64{11, 12})
	require.NoError(t, err)
	_, err = f.sessions.UpsertTickets(ctx, 7, 1, []uint64{11, 12})
	require.NoError(t, err)
	f.notifier.updates = nil
}

func pendingPayment() *model.Payment {
	return &model.Payment{
		ID:          31,
		OrderID:     9,
		MethodCode:  MethodGateway,
		AmountCents: 27000000,
		TxnRef:      "order-code-1",
		Status:      model.PaymentPending,
	}
}

func pendingOrder() *model.Order {
	return &model.Order{
		ID:               9,
		Code:             "order-code-1",
		UserID:           1,
		ShowtimeID:       7,
		TotalAmountCents: 27000000,
		Status:           model.OrderPending,
	}
}

func TestHandleCallbackRejectsBadChecksum(t *testing.T) {
	f := newFixture(t)
	params := callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess)
	params[gateway.ParamAmount] = "1"

	// No ledger fields are set: any durable call fails the test.
	res := f.coord.HandleCallback(context.Background(), params)
	assert.Equal(t, AckBadChecksum, res.RspCode)
}

func TestHandleCallbackUnknownTxnRef(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, txnRef string) (*model.Payment, error) {
		return nil, repository.ErrPaymentNotFound
	}

	res := f.coord.HandleCallback(context.Background(), callbackParams(f.gw, "ghost", 1, gateway.CodeSuccess))
	assert.Equal(t, AckOrderNotFound, res.RspCode)
}

func TestHandleCallbackDuplicateIsAcknowledgedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	seedCart(t, f)
	payment := pendingPayment()
	payment.Status = model.PaymentCompleted
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return payment, nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }

	res := f.coord.HandleCallback(context.Background(), callbackParams(f.gw, payment.TxnRef, payment.AmountCents, gateway.CodeSuccess))
	assert.Equal(t, AckAlreadyDone, res.RspCode)
	assert.Zero(t, f.ledger.completeSettlementCall)
	assert.Zero(t, f.ledger.failSettlementCalls)

	// Identified order, so the retry still cleans up the leases.
	exists, err := f.store.Exists(context.Background(), "seat_hold:7:1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleCallbackAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }

	params := signed(f.gw, map[string]string{
		gateway.ParamTxnRef:       "order-code-1",
		gateway.ParamAmount:       "100",
		gateway.ParamResponseCode: gateway.CodeSuccess,
	})
	res := f.coord.HandleCallback(context.Background(), params)
	assert.Equal(t, AckInvalidAmount, res.RspCode)
	assert.Zero(t, f.ledger.completeSettlementCall)
}

func TestHandleCallbackGatewayFailureFailsSettlement(t *testing.T) {
	f := newFixture(t)
	seedCart(t, f)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }
	f.ledger.failSettlementFn = func(_ context.Context, orderID, paymentID uint64, transactionNo string) error {
		assert.Equal(t, uint64(9), orderID)
		assert.Equal(t, uint64(31), paymentID)
		assert.Equal(t, "14599000", transactionNo)
		return nil
	}

	res := f.coord.HandleCallback(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, "24"))
	assert.Equal(t, AckConfirmed, res.RspCode)
	assert.Equal(t, 1, f.ledger.failSettlementCalls)
	assert.Empty(t, f.notifier.updates, "a failed payment must not announce booked seats")
	assert.Empty(t, f.receipts.events)
}

func TestHandleCallbackSuccessSettlesOnceAndCleansUp(t *testing.T) {
	f := newFixture(t)
	seedCart(t, f)
	ctx := context.Background()
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }
	f.ledger.completeSettlementFn = func(_ context.Context, o *model.Order, paymentID uint64, transactionNo string) (*repository.SettledOrder, error) {
		assert.Equal(t, "order-code-1", o.Code)
		assert.Equal(t, uint64(31), paymentID)
		return &repository.SettledOrder{TicketIDs: []uint64{11, 12}}, nil
	}

	res := f.coord.HandleCallback(ctx, callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess))
	assert.Equal(t, AckConfirmed, res.RspCode)
	assert.Equal(t, 1, f.ledger.completeSettlementCall)

	require.Len(t, f.notifier.updates, 1)
	update := f.notifier.updates[0]
	assert.Equal(t, model.SeatBooked, update.Status)
	assert.Equal(t, uint64(7), update.ShowtimeID)
	require.Len(t, update.Seats, 2)
	assert.Equal(t, uint64(11), update.Seats[0].TicketID)
	assert.Equal(t, 1, update.Seats[0].RowIndex, "booked broadcast keeps the hold's seat coordinates")

	require.Len(t, f.receipts.events, 1)
	assert.Equal(t, "order-code-1", f.receipts.events[0].OrderCode)
	assert.Equal(t, "buyer@example.com", f.receipts.events[0].UserEmail)
	assert.Equal(t, MethodGateway, f.receipts.events[0].MethodCode)

	for _, key := range []string{"seat_hold:7:1", "order_session:7:1"} {
		exists, err := f.store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, "lease %s must be gone after settlement", key)
	}
}

func TestHandleCallbackRetryAfterResolvedPayment(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }
	f.ledger.completeSettlementFn = func(_ context.Context, _ *model.Order, _ uint64, _ string) (*repository.SettledOrder, error) {
		// Another delivery won the conditional update first.
		return nil, repository.ErrPaymentResolved
	}

	res := f.coord.HandleCallback(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess))
	assert.Equal(t, AckAlreadyDone, res.RspCode)
	assert.Empty(t, f.notifier.updates)
	assert.Empty(t, f.receipts.events)
}

func TestHandleCallbackBookingConflictCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }
	f.ledger.completeSettlementFn = func(_ context.Context, _ *model.Order, _ uint64, _ string) (*repository.SettledOrder, error) {
		return nil, repository.ErrTicketUnavailable
	}
	f.ledger.failSettlementFn = func(_ context.Context, _, _ uint64, _ string) error { return nil }

	res := f.coord.HandleCallback(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess))
	assert.Equal(t, AckConfirmed, res.RspCode, "a lost seat race is still acknowledged, not retried")
	assert.Equal(t, 1, f.ledger.failSettlementCalls)
	assert.Empty(t, f.notifier.updates)
}

func TestHandleReturnPendingUntilCallbackLands(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }

	res := f.coord.HandleReturn(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess))
	assert.False(t, res.Success, "gateway success alone never proves completion")
	assert.Equal(t, "order-code-1", res.OrderCode)
	assert.Contains(t, res.Message, "pending")
}

func TestHandleReturnCompleted(t *testing.T) {
	f := newFixture(t)
	payment := pendingPayment()
	payment.Status = model.PaymentCompleted
	order := pendingOrder()
	order.Status = model.OrderCompleted
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return payment, nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return order, nil }

	res := f.coord.HandleReturn(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, gateway.CodeSuccess))
	assert.True(t, res.Success)
	assert.Equal(t, "order-code-1", res.OrderCode)
}

func TestHandleReturnGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.paymentByTxnRefFn = func(_ context.Context, _ string) (*model.Payment, error) { return pendingPayment(), nil }
	f.ledger.orderByIDFn = func(_ context.Context, _ uint64) (*model.Order, error) { return pendingOrder(), nil }

	res := f.coord.HandleReturn(context.Background(), callbackParams(f.gw, "order-code-1", 27000000, "24"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "failed")
}

func TestInitiateCheckoutExtendsLeasesAndSignsRedirect(t *testing.T) {
	f := newFixture(t)
	seedCart(t, f)
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	f.store.SetClock(clock)
	f.holds.SetClock(clock)
	f.sessions.SetClock(clock)
	f.coord.SetClock(clock)
	f.gw.SetClock(clock)

	var created *model.Payment
	f.ledger.createCheckoutFn = func(_ context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
		assert.Equal(t, model.OrderPending, o.Status)
		assert.Equal(t, []uint64{11, 12}, ticketIDs)
		require.Len(t, lines, 1)
		assert.Equal(t, int64(45000), lines[0].UnitPriceCents)
		assert.Equal(t, o.Code, p.TxnRef)
		assert.Equal(t, model.PaymentPending, p.Status)
		created = p
		return nil
	}

	res, err := f.coord.InitiateCheckout(ctx, CheckoutInput{
		UserID:      1,
		ShowtimeID:  7,
		TicketIDs:   []uint64{11, 12},
		Concessions: []model.ConcessionLine{{ComboID: 3, Quantity: 2}},
		AmountCents: 27000000,
		OrderInfo:   "Thanh toan don hang",
		ClientIP:    "203.0.113.9",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, res.Order.Code)

	// The redirect URL must verify under the same checksum scheme the
	// callback uses.
	parsed, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://pay.example.com/vpcpay.html?"))
	params := map[string]string{}
	for k, vs := range parsed.Query() {
		params[k] = vs[0]
	}
	assert.True(t, f.gw.VerifyChecksum(params))
	assert.Equal(t, res.Order.Code, params[gateway.ParamTxnRef])
	assert.Equal(t, "27000000", params[gateway.ParamAmount])

	// Both leases now run on the payment window.
	for _, key := range []string{"seat_hold:7:1", "order_session:7:1"} {
		ttl, ok, err := f.store.RemainingTTL(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 20*time.Minute, ttl, "lease %s", key)
	}
}

func TestPayWithCashSettlesSynchronously(t *testing.T) {
	f := newFixture(t)
	seedCart(t, f)
	ctx := context.Background()

	f.ledger.createCashSaleFn = func(_ context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
		assert.Equal(t, model.OrderCompleted, o.Status)
		assert.Equal(t, model.PaymentCompleted, p.Status)
		assert.Equal(t, MethodCash, p.MethodCode)
		assert.Equal(t, []uint64{11, 12}, ticketIDs)
		return nil
	}

	order, err := f.coord.PayWithCash(ctx, CheckoutInput{
		UserID:      1,
		ShowtimeID:  7,
		TicketIDs:   []uint64{11, 12},
		AmountCents: 18000000,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)

	// The broadcast reads the hold before cleanup, so seat coordinates
	// survive into the BOOKED message.
	require.Len(t, f.notifier.updates, 1)
	assert.Equal(t, model.SeatBooked, f.notifier.updates[0].Status)
	require.Len(t, f.notifier.updates[0].Seats, 2)
	assert.Equal(t, 1, f.notifier.updates[0].Seats[0].RowIndex)

	for _, key := range []string{"seat_hold:7:1", "order_session:7:1"} {
		exists, err := f.store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	}

	require.Len(t, f.receipts.events, 1)
	assert.Equal(t, MethodCash, f.receipts.events[0].MethodCode)
}
