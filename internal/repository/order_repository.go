package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dvtran/cinema-ticketing/internal/model"
)

// OrderRepo provides data access to orders, payments, tickets, order
// concessions and the loyalty balance. Mutating methods come in ...Tx
// form and run inside a caller-owned transaction; the caller commits or
// rolls back. Timestamps are handled in UTC throughout.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the underlying pool so callers can open transactions.
func (r *OrderRepo) DB() *sql.DB { return r.db }

// CreateOrderTx inserts a new order row and fills in its generated ID.
func (r *OrderRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (code, user_id, showtime_id, total_amount_cents, discount_cents, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Code, o.UserID, o.ShowtimeID, o.TotalAmountCents, o.DiscountCents, o.Status,
		o.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

// AttachTicketsTx associates tickets with an order without booking them.
// Only AVAILABLE tickets can be attached; when fewer rows than requested
// are updated, another order got there first and ErrTicketUnavailable is
// returned.
func (r *OrderRepo) AttachTicketsTx(ctx context.Context, tx *sql.Tx, orderID uint64, ticketIDs []uint64) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	query := `UPDATE tickets SET order_id = ? WHERE id IN (` +
		placeholders(len(ticketIDs)) + `) AND status = 'AVAILABLE'`
	args := make([]interface{}, 0, len(ticketIDs)+1)
	args = append(args, orderID)
	for _, id := range ticketIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(ticketIDs)) {
		return ErrTicketUnavailable
	}
	return nil
}

// InsertOrderConcessionsTx inserts all concession lines for an order in
// one statement. Passing an empty slice has no effect and returns nil.
func (r *OrderRepo) InsertOrderConcessionsTx(ctx context.Context, tx *sql.Tx, lines []model.OrderConcession) error {
	if len(lines) == 0 {
		return nil
	}
	query := `INSERT INTO order_concessions (order_id, combo_id, quantity, unit_price_cents) VALUES `
	args := make([]interface{}, 0, len(lines)*4)
	for i, l := range lines {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, l.OrderID, l.ComboID, l.Quantity, l.UnitPriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// CreatePaymentTx inserts a new payment row and fills in its generated
// ID. The txn_ref column carries a unique index; inserting a duplicate
// reference fails at the database.
func (r *OrderRepo) CreatePaymentTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (order_id, method_code, amount_cents, txn_ref, transaction_no, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.MethodCode, p.AmountCents, p.TxnRef, p.TransactionNo, p.Status,
		p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// PaymentByTxnRef looks up a payment by its merchant transaction
// reference, the idempotency key for gateway callbacks.
func (r *OrderRepo) PaymentByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error) {
	const q = `SELECT id, order_id, method_code, amount_cents, txn_ref, transaction_no, status, created_at
               FROM payments WHERE txn_ref = ?`
	var p model.Payment
	err := r.db.QueryRowContext(ctx, q, txnRef).Scan(
		&p.ID, &p.OrderID, &p.MethodCode, &p.AmountCents, &p.TxnRef, &p.TransactionNo, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OrderByID loads a single order.
func (r *OrderRepo) OrderByID(ctx context.Context, id uint64) (*model.Order, error) {
	const q = `SELECT id, code, user_id, showtime_id, total_amount_cents, discount_cents, status, created_at
               FROM orders WHERE id = ?`
	var o model.Order
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.Code, &o.UserID, &o.ShowtimeID, &o.TotalAmountCents, &o.DiscountCents, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ResolvePaymentTx moves a payment out of PENDING exactly once. The
// conditional update is the idempotency gate: when the row is already
// terminal no rows match and ErrPaymentResolved is returned.
func (r *OrderRepo) ResolvePaymentTx(ctx context.Context, tx *sql.Tx, paymentID uint64, status model.PaymentStatus, transactionNo string) error {
	if !model.PaymentPending.CanTransition(status) {
		return errors.New("repository: invalid payment transition")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = ?, transaction_no = ? WHERE id = ? AND status = 'PENDING'`,
		status, transactionNo, paymentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPaymentResolved
	}
	return nil
}

// SetOrderStatusTx resolves a PENDING order to its terminal status.
func (r *OrderRepo) SetOrderStatusTx(ctx context.Context, tx *sql.Tx, orderID uint64, status model.OrderStatus) error {
	if !model.OrderPending.CanTransition(status) {
		return errors.New("repository: invalid order transition")
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND status = 'PENDING'`,
		status, orderID)
	return err
}

// BookTicketsTx marks the given tickets BOOKED for the order, snapshotting
// the current price into price_snapshot_cents. This conditional update is
// the authoritative, race-free gate against double-selling: only rows not
// already BOOKED match, and when the affected count falls short of the
// requested set the caller must roll back with ErrTicketUnavailable.
func (r *OrderRepo) BookTicketsTx(ctx context.Context, tx *sql.Tx, orderID uint64, ticketIDs []uint64) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	query := `UPDATE tickets SET status = 'BOOKED', price_snapshot_cents = price_cents, order_id = ?
              WHERE id IN (` + placeholders(len(ticketIDs)) + `) AND status <> 'BOOKED'`
	args := make([]interface{}, 0, len(ticketIDs)+1)
	args = append(args, orderID)
	for _, id := range ticketIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(ticketIDs)) {
		return ErrTicketUnavailable
	}
	return nil
}

// TicketIDsByOrderTx returns the IDs of all tickets attached to an order.
func (r *OrderRepo) TicketIDsByOrderTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tickets WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConcessionsByOrderTx returns the concession lines of an order.
func (r *OrderRepo) ConcessionsByOrderTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.OrderConcession, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, order_id, combo_id, quantity, unit_price_cents FROM order_concessions WHERE order_id = ?`,
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []model.OrderConcession
	for rows.Next() {
		var l model.OrderConcession
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ComboID, &l.Quantity, &l.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// DecrementStockTx reduces a combo's stock by qty, floored at zero. The
// single-statement update is atomic per row, so concurrent settlements
// against the same combo serialize on the row lock instead of
// under-counting.
func (r *OrderRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, comboID uint64, qty uint32) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE combos SET stock = GREATEST(CAST(stock AS SIGNED) - ?, 0) WHERE id = ?`,
		qty, comboID)
	return err
}

// AdjustLoyaltyTx applies the loyalty movement of a completed order in
// one atomic statement: points spent as discount are subtracted, points
// earned from the total spend are added.
func (r *OrderRepo) AdjustLoyaltyTx(ctx context.Context, tx *sql.Tx, userID uint64, spent, earned int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET loyalty_points = loyalty_points - ? + ? WHERE id = ?`,
		spent, earned, userID)
	return err
}

// ComboPrice returns a combo's current unit price in cents. Settlement
// snapshots it onto order lines at checkout time.
func (r *OrderRepo) ComboPrice(ctx context.Context, comboID uint64) (int64, error) {
	var price int64
	err := r.db.QueryRowContext(ctx,
		`SELECT unit_price_cents FROM combos WHERE id = ?`, comboID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrComboNotFound
	}
	return price, err
}

// UserByID loads a user for receipts and loyalty reporting.
func (r *OrderRepo) UserByID(ctx context.Context, id uint64) (*model.User, error) {
	const q = `SELECT id, email, full_name, loyalty_points, created_at FROM users WHERE id = ?`
	var u model.User
	err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.FullName, &u.LoyaltyPoints, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
