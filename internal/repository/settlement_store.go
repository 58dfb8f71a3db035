package repository

import (
	"context"
	"database/sql"

	"github.com/dvtran/cinema-ticketing/internal/model"
)

// This file composes the fine-grained ...Tx methods into the
// whole-transaction operations the settlement coordinator consumes. Each
// method owns its transaction: it commits on success and rolls back on
// any error, so a partially applied settlement can never be observed.

// LoyaltyEarnDivisor converts spend into earned points: one point per
// this many cents of order total.
const LoyaltyEarnDivisor = 1000

// SettledOrder reports what a completed settlement touched.
type SettledOrder struct {
	TicketIDs   []uint64
	Concessions []model.OrderConcession
}

// CreateCheckout persists the full pending checkout: the order row, the
// ticket associations (not yet booked), the priced concession lines and
// the PENDING payment whose txn_ref doubles as the callback idempotency
// key.
func (r *OrderRepo) CreateCheckout(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.CreateOrderTx(ctx, tx, o); err != nil {
			return err
		}
		if err := r.AttachTicketsTx(ctx, tx, o.ID, ticketIDs); err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = o.ID
		}
		if err := r.InsertOrderConcessionsTx(ctx, tx, lines); err != nil {
			return err
		}
		p.OrderID = o.ID
		return r.CreatePaymentTx(ctx, tx, p)
	})
}

// CompleteSettlement applies the entire success path atomically: payment
// COMPLETED, order COMPLETED, every attached ticket BOOKED with its
// price snapshotted, stock decremented per concession line and the
// loyalty balance adjusted. The conditional payment update makes the
// whole transaction run at most once per txn_ref; a duplicate callback
// rolls back with ErrPaymentResolved having changed nothing.
func (r *OrderRepo) CompleteSettlement(ctx context.Context, o *model.Order, paymentID uint64, transactionNo string) (*SettledOrder, error) {
	var settled SettledOrder
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.ResolvePaymentTx(ctx, tx, paymentID, model.PaymentCompleted, transactionNo); err != nil {
			return err
		}
		if err := r.SetOrderStatusTx(ctx, tx, o.ID, model.OrderCompleted); err != nil {
			return err
		}
		ticketIDs, err := r.TicketIDsByOrderTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if err := r.BookTicketsTx(ctx, tx, o.ID, ticketIDs); err != nil {
			return err
		}
		lines, err := r.ConcessionsByOrderTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if err := r.DecrementStockTx(ctx, tx, l.ComboID, l.Quantity); err != nil {
				return err
			}
		}
		earned := o.TotalAmountCents / LoyaltyEarnDivisor
		if err := r.AdjustLoyaltyTx(ctx, tx, o.UserID, o.DiscountCents, earned); err != nil {
			return err
		}
		settled = SettledOrder{TicketIDs: ticketIDs, Concessions: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

// FailSettlement marks the payment FAILED and the order CANCELED.
// Tickets and stock are left untouched; they were never mutated on the
// pending path.
func (r *OrderRepo) FailSettlement(ctx context.Context, orderID, paymentID uint64, transactionNo string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.ResolvePaymentTx(ctx, tx, paymentID, model.PaymentFailed, transactionNo); err != nil {
			return err
		}
		return r.SetOrderStatusTx(ctx, tx, orderID, model.OrderCanceled)
	})
}

// CreateCashSale persists a checkout that is already settled: order and
// payment inserted in COMPLETED state, tickets booked, stock decremented
// and loyalty adjusted, all in one local transaction. No gateway round
// trip, no idempotency concern.
func (r *OrderRepo) CreateCashSale(ctx context.Context, o *model.Order, ticketIDs []uint64, lines []model.OrderConcession, p *model.Payment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.CreateOrderTx(ctx, tx, o); err != nil {
			return err
		}
		if err := r.BookTicketsTx(ctx, tx, o.ID, ticketIDs); err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = o.ID
		}
		if err := r.InsertOrderConcessionsTx(ctx, tx, lines); err != nil {
			return err
		}
		for _, l := range lines {
			if err := r.DecrementStockTx(ctx, tx, l.ComboID, l.Quantity); err != nil {
				return err
			}
		}
		earned := o.TotalAmountCents / LoyaltyEarnDivisor
		if err := r.AdjustLoyaltyTx(ctx, tx, o.UserID, o.DiscountCents, earned); err != nil {
			return err
		}
		p.OrderID = o.ID
		return r.CreatePaymentTx(ctx, tx, p)
	})
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (r *OrderRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
