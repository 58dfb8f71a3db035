package repository

import (
	"context"
	"database/sql"
	"errors"
)

// CatalogRepo serves the read-mostly reference data the reservation core
// needs: seat placement and current prices for tickets, and price/stock
// for concession combos. It satisfies the hold registry's SeatLookup and
// the session manager's PriceLookup contracts.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a CatalogRepo bound to the provided database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// TicketSeat resolves the seat row/column/type for a ticket.
func (r *CatalogRepo) TicketSeat(ctx context.Context, ticketID uint64) (int, int, string, error) {
	const q = `SELECT s.row_index, s.column_index, s.seat_type
               FROM tickets t JOIN seats s ON s.id = t.seat_id
               WHERE t.id = ?`
	var row, col int
	var seatType string
	err := r.db.QueryRowContext(ctx, q, ticketID).Scan(&row, &col, &seatType)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, "", ErrTicketNotFound
	}
	if err != nil {
		return 0, 0, "", err
	}
	return row, col, seatType, nil
}

// TicketPrice returns a ticket's current list price in cents.
func (r *CatalogRepo) TicketPrice(ctx context.Context, ticketID uint64) (int64, error) {
	var price int64
	err := r.db.QueryRowContext(ctx,
		`SELECT price_cents FROM tickets WHERE id = ?`, ticketID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTicketNotFound
	}
	return price, err
}

// ComboPrice returns a concession combo's current unit price in cents.
func (r *CatalogRepo) ComboPrice(ctx context.Context, comboID uint64) (int64, error) {
	var price int64
	err := r.db.QueryRowContext(ctx,
		`SELECT unit_price_cents FROM combos WHERE id = ?`, comboID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrComboNotFound
	}
	return price, err
}
