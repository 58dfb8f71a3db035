// Package settlement converts a held/sessioned cart into a durable paid
// order exactly once. It owns the checkout initiation, the idempotent
// gateway callback, the read-only browser-return check and the
// synchronous cash path, and it always releases the seat hold and order
// session leases when a settlement resolves, whichever branch ran.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dvtran/cinema-ticketing/internal/gateway"
	"github.com/dvtran/cinema-ticketing/internal/hold"
	"github.com/dvtran/cinema-ticketing/internal/model"
	"github.com/dvtran/cinema-ticketing/internal/notify"
	"github.com/dvtran/cinema-ticketing/internal/queue"
	"github.com/dvtran/cinema-ticketing/internal/repository"
	"github.com/dvtran/cinema-ticketing/internal/session"
)

// Payment method codes recorded on the payment row.
const (
	MethodGateway = "GATEWAY"
	MethodCash    = "CASH"
)

// IPN acknowledgment codes returned to the gateway. Anything but
// CodeConfirmed makes the gateway retry, so business rejections are
// acknowledged codes, never transport errors.
const (
	AckConfirmed     = "00"
	AckOrderNotFound = "01"
	AckAlreadyDone   = "02"
	AckInvalidAmount = "04"
	AckBadChecksum   = "97"
	AckUnknownError  = "99"
)

// Ledger is the durable-store surface the coordinator needs. Implemented
// by repository.OrderRepo; each mutating call is one atomic transaction.
type Ledger interface {
	CreateCheckout(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error
	CreateCashSale(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error
	CompleteSettlement(ctx context.Context, o *model.Order, paymentID uint64, transactionNo string) (*repository.SettledOrder, error)
	FailSettlement(ctx context.Context, orderID, paymentID uint64, transactionNo string) error
	PaymentByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error)
	OrderByID(ctx context.Context, id uint64) (*model.Order, error)
	UserByID(ctx context.Context, id uint64) (*model.User, error)
	ComboPrice(ctx context.Context, comboID uint64) (int64, error)
}

// ReceiptDispatcher sends the post-settlement notification. Fire and
// forget; implementations must never block the caller on failure.
type ReceiptDispatcher interface {
	DispatchOrderPaid(event queue.OrderPaidEvent)
}

// Coordinator drives the order state machine: PENDING until the gateway
// answers, then COMPLETED or CANCELED, terminal once resolved.
type Coordinator struct {
	ledger   Ledger
	holds    *hold.Registry
	sessions *session.Manager
	gw       *gateway.Client
	notifier notify.Notifier
	receipts ReceiptDispatcher
	log      *zap.Logger
	now      func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(ledger Ledger, holds *hold.Registry, sessions *session.Manager, gw *gateway.Client, notifier notify.Notifier, receipts ReceiptDispatcher, log *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		holds:    holds,
		sessions: sessions,
		gw:       gw,
		notifier: notifier,
		receipts: receipts,
		log:      log,
		now:      time.Now,
	}
}

// SetClock replaces the coordinator's time source. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// CheckoutInput describes the cart being paid for.
type CheckoutInput struct {
	UserID        uint64
	ShowtimeID    uint64
	TicketIDs     []uint64
	Concessions   []model.ConcessionLine
	AmountCents   int64
	DiscountCents int64
	OrderInfo     string
	ClientIP      string
}

// CheckoutResult carries the created order and the signed gateway
// redirect URL the client must be sent to.
type CheckoutResult struct {
	Order       *model.Order
	Payment     *model.Payment
	RedirectURL string
}

// InitiateCheckout creates the pending Order/Payment/ticket associations,
// extends both leases to the payment window so the cart cannot expire
// mid-redirect, and returns the signed gateway URL. Tickets are attached
// but not booked; nothing irreversible happens before the callback.
func (c *Coordinator) InitiateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if len(in.TicketIDs) == 0 {
		return nil, errors.New("settlement: no tickets in checkout")
	}
	now := c.now().UTC()
	order := &model.Order{
		Code:             uuid.NewString(),
		UserID:           in.UserID,
		ShowtimeID:       in.ShowtimeID,
		TotalAmountCents: in.AmountCents,
		DiscountCents:    in.DiscountCents,
		Status:           model.OrderPending,
		CreatedAt:        now,
	}
	lines, err := c.priceLines(ctx, in.Concessions)
	if err != nil {
		return nil, err
	}
	payment := &model.Payment{
		MethodCode:  MethodGateway,
		AmountCents: in.AmountCents,
		TxnRef:      order.Code,
		Status:      model.PaymentPending,
		CreatedAt:   now,
	}
	if err := c.ledger.CreateCheckout(ctx, order, in.TicketIDs, lines, payment); err != nil {
		return nil, err
	}

	// Keep the cart alive for the whole payment window. A missing lease
	// here is tolerable (the durable rows already exist); a store outage
	// is logged, not fatal for the checkout.
	if err := c.holds.ExtendForPayment(ctx, in.ShowtimeID, in.UserID); err != nil {
		c.log.Warn("seat hold extension failed", zap.String("order", order.Code), zap.Error(err))
	}
	if _, err := c.sessions.ExtendForPayment(ctx, in.ShowtimeID, in.UserID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		c.log.Warn("order session extension failed", zap.String("order", order.Code), zap.Error(err))
	}

	redirect, err := c.gw.BuildPaymentURL(order.Code, in.AmountCents, in.OrderInfo, in.ClientIP)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, Payment: payment, RedirectURL: redirect}, nil
}

// CallbackResult is the acknowledgment body returned to the gateway's
// IPN call.
type CallbackResult struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleCallback processes the gateway's server-to-server callback. It
// is safe under at-least-once delivery: the checksum gates everything,
// an already-resolved payment is acknowledged as a duplicate without any
// mutation, and the success path runs inside a single transaction keyed
// on the payment's PENDING state. Both leases are deleted on every path
// that identifies the order, including errors.
func (c *Coordinator) HandleCallback(ctx context.Context, params map[string]string) CallbackResult {
	if !c.gw.VerifyChecksum(params) {
		return CallbackResult{RspCode: AckBadChecksum, Message: "Invalid Checksum"}
	}
	txnRef := params[gateway.ParamTxnRef]
	payment, err := c.ledger.PaymentByTxnRef(ctx, txnRef)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return CallbackResult{RspCode: AckOrderNotFound, Message: "Order Not Found"}
		}
		c.log.Error("payment lookup failed", zap.String("txn_ref", txnRef), zap.Error(err))
		return CallbackResult{RspCode: AckUnknownError, Message: "Unknown Error"}
	}
	order, err := c.ledger.OrderByID(ctx, payment.OrderID)
	if err != nil {
		c.log.Error("order lookup failed", zap.String("txn_ref", txnRef), zap.Error(err))
		return CallbackResult{RspCode: AckUnknownError, Message: "Unknown Error"}
	}

	// The order is identified: whatever happens below, drop both leases.
	// A cleanup failure is logged only; it must never revert durable
	// state that already committed.
	defer c.releaseLeases(order)

	if payment.Status.Resolved() {
		return CallbackResult{RspCode: AckAlreadyDone, Message: "Order already confirmed"}
	}
	amount, err := gateway.Amount(params)
	if err != nil || amount != payment.AmountCents {
		return CallbackResult{RspCode: AckInvalidAmount, Message: "Invalid Amount"}
	}

	transactionNo := params[gateway.ParamTransactionNo]
	if params[gateway.ParamResponseCode] != gateway.CodeSuccess {
		if err := c.ledger.FailSettlement(ctx, order.ID, payment.ID, transactionNo); err != nil {
			if errors.Is(err, repository.ErrPaymentResolved) {
				return CallbackResult{RspCode: AckAlreadyDone, Message: "Order already confirmed"}
			}
			c.log.Error("settlement failure path errored", zap.String("txn_ref", txnRef), zap.Error(err))
			return CallbackResult{RspCode: AckUnknownError, Message: "Unknown Error"}
		}
		return CallbackResult{RspCode: AckConfirmed, Message: "Confirm Success"}
	}

	settled, err := c.ledger.CompleteSettlement(ctx, order, payment.ID, transactionNo)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentResolved) {
			return CallbackResult{RspCode: AckAlreadyDone, Message: "Order already confirmed"}
		}
		if errors.Is(err, repository.ErrTicketUnavailable) {
			// The cooperative hold race lost: someone else booked a seat
			// first. Cancel this order; the customer is refunded by the
			// gateway dispute flow rather than double-sold a seat.
			if failErr := c.ledger.FailSettlement(ctx, order.ID, payment.ID, transactionNo); failErr != nil {
				c.log.Error("cancel after booking conflict failed", zap.String("txn_ref", txnRef), zap.Error(failErr))
			}
			return CallbackResult{RspCode: AckConfirmed, Message: "Confirm Success"}
		}
		c.log.Error("settlement completion failed", zap.String("txn_ref", txnRef), zap.Error(err))
		return CallbackResult{RspCode: AckUnknownError, Message: "Unknown Error"}
	}

	c.broadcastBooked(ctx, order, settled.TicketIDs)
	c.dispatchReceipt(ctx, order, payment, settled.TicketIDs)
	return CallbackResult{RspCode: AckConfirmed, Message: "Confirm Success"}
}

// ReturnResult is what the browser-return endpoint reports.
type ReturnResult struct {
	Success   bool   `json:"success"`
	OrderCode string `json:"order_code,omitempty"`
	Message   string `json:"message"`
}

// HandleReturn is the read-only status check for the browser redirect.
// It reports success only when the gateway's embedded response code is
// success AND the durable rows already show COMPLETED. When the gateway
// claims success but the asynchronous callback has not landed yet, it
// reports pending rather than lying about completion.
func (c *Coordinator) HandleReturn(ctx context.Context, params map[string]string) ReturnResult {
	if !c.gw.VerifyChecksum(params) {
		return ReturnResult{Success: false, Message: "invalid checksum"}
	}
	txnRef := params[gateway.ParamTxnRef]
	payment, err := c.ledger.PaymentByTxnRef(ctx, txnRef)
	if err != nil {
		return ReturnResult{Success: false, Message: "order not found"}
	}
	order, err := c.ledger.OrderByID(ctx, payment.OrderID)
	if err != nil {
		return ReturnResult{Success: false, Message: "order not found"}
	}
	if params[gateway.ParamResponseCode] != gateway.CodeSuccess {
		return ReturnResult{Success: false, OrderCode: order.Code, Message: "payment failed"}
	}
	if payment.Status != model.PaymentCompleted || order.Status != model.OrderCompleted {
		return ReturnResult{Success: false, OrderCode: order.Code, Message: "payment pending confirmation"}
	}
	return ReturnResult{Success: true, OrderCode: order.Code, Message: "payment completed"}
}

// PayWithCash settles a cart synchronously at the box office: order,
// tickets and payment are created already completed, stock and loyalty
// are applied, and both leases are dropped. A single local call, so no
// idempotency machinery is involved.
func (c *Coordinator) PayWithCash(ctx context.Context, in CheckoutInput) (*model.Order, error) {
	if len(in.TicketIDs) == 0 {
		return nil, errors.New("settlement: no tickets in checkout")
	}
	now := c.now().UTC()
	order := &model.Order{
		Code:             uuid.NewString(),
		UserID:           in.UserID,
		ShowtimeID:       in.ShowtimeID,
		TotalAmountCents: in.AmountCents,
		DiscountCents:    in.DiscountCents,
		Status:           model.OrderCompleted,
		CreatedAt:        now,
	}
	lines, err := c.priceLines(ctx, in.Concessions)
	if err != nil {
		return nil, err
	}
	payment := &model.Payment{
		MethodCode:  MethodCash,
		AmountCents: in.AmountCents,
		TxnRef:      order.Code,
		Status:      model.PaymentCompleted,
		CreatedAt:   now,
	}
	if err := c.ledger.CreateCashSale(ctx, order, in.TicketIDs, lines, payment); err != nil {
		return nil, err
	}
	c.broadcastBooked(ctx, order, in.TicketIDs)
	c.releaseLeases(order)
	c.dispatchReceipt(ctx, order, payment, in.TicketIDs)
	return order, nil
}

// priceLines snapshots current catalog prices onto the requested
// concession lines.
func (c *Coordinator) priceLines(ctx context.Context, lines []model.ConcessionLine) ([]model.OrderConcession, error) {
	out := make([]model.OrderConcession, 0, len(lines))
	for _, line := range lines {
		if line.ComboID == 0 || line.Quantity == 0 {
			continue
		}
		price, err := c.ledger.ComboPrice(ctx, line.ComboID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.OrderConcession{
			ComboID:        line.ComboID,
			Quantity:       line.Quantity,
			UnitPriceCents: price,
		})
	}
	return out, nil
}

// releaseLeases drops the seat hold and order session for the order's
// (showtime, user). Failures are logged only; the durable outcome stands.
func (c *Coordinator) releaseLeases(order *model.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.holds.Release(ctx, order.ShowtimeID, order.UserID); err != nil {
		c.log.Warn("seat hold cleanup failed", zap.String("order", order.Code), zap.Error(err))
	}
	if err := c.sessions.Delete(ctx, order.ShowtimeID, order.UserID); err != nil {
		c.log.Warn("order session cleanup failed", zap.String("order", order.Code), zap.Error(err))
	}
}

// broadcastBooked tells every seat-map viewer the tickets are gone for
// good. Seat metadata comes from the buyer's hold when it is still
// readable; tickets without metadata are still announced by ID.
func (c *Coordinator) broadcastBooked(ctx context.Context, order *model.Order, ticketIDs []uint64) {
	meta := make(map[uint64]model.HeldSeat)
	if h, err := c.holds.CurrentHold(ctx, order.ShowtimeID, order.UserID); err == nil && h != nil {
		for _, s := range h.Seats {
			meta[s.TicketID] = s
		}
	}
	seats := make([]model.HeldSeat, 0, len(ticketIDs))
	for _, id := range ticketIDs {
		seat, ok := meta[id]
		if !ok {
			seat = model.HeldSeat{TicketID: id}
		}
		seat.Status = model.SeatBooked
		seats = append(seats, seat)
	}
	c.notifier.BroadcastSeatUpdate(ctx, notify.SeatUpdate{
		Seats:      seats,
		Status:     model.SeatBooked,
		UserID:     order.UserID,
		ShowtimeID: order.ShowtimeID,
	})
}

// dispatchReceipt emits the order.paid event. Best effort by contract.
func (c *Coordinator) dispatchReceipt(ctx context.Context, order *model.Order, payment *model.Payment, ticketIDs []uint64) {
	email := ""
	if user, err := c.ledger.UserByID(ctx, order.UserID); err == nil {
		email = user.Email
	}
	c.receipts.DispatchOrderPaid(queue.OrderPaidEvent{
		OrderID:          order.ID,
		OrderCode:        order.Code,
		UserID:           order.UserID,
		UserEmail:        email,
		ShowtimeID:       order.ShowtimeID,
		TicketIDs:        ticketIDs,
		TotalAmountCents: order.TotalAmountCents,
		DiscountCents:    order.DiscountCents,
		PaidAt:           c.now().UTC().Format(time.RFC3339),
		MethodCode:       payment.MethodCode,
	})
}
