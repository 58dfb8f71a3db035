package model

// TicketStatus is the durable state of a ticket (a seat × showtime slot).
type TicketStatus string

const (
	TicketAvailable TicketStatus = "AVAILABLE"
	TicketBooked    TicketStatus = "BOOKED"
)

// Ticket is one sellable seat for one showtime. PriceCents is the current
// list price; PriceSnapshotCents is fixed at settlement time when the
// ticket is marked BOOKED. The BOOKED transition is the authoritative,
// race-free gate against double-selling: it is applied with a conditional
// update that refuses to book an already-booked row.
type Ticket struct {
	ID                 uint64       // tickets.id
	ShowtimeID         uint64       // tickets.showtime_id
	SeatID             uint64       // tickets.seat_id
	RowIndex           int          // seats.row_index
	ColumnIndex        int          // seats.column_index
	SeatType           string       // seats.seat_type label (e.g. STANDARD, VIP)
	Status             TicketStatus // tickets.status
	PriceCents         int64        // tickets.price_cents
	PriceSnapshotCents int64        // tickets.price_snapshot_cents, set when BOOKED
	OrderID            *uint64      // tickets.order_id, set when attached to an order
}
