package model

import "time"

// SeatStatus describes the state of a seat as broadcast to clients
// watching a showtime's seat map. Each broadcast is a full statement of
// "these seats now have this status"; clients reconcile by ticket ID.
type SeatStatus string

const (
	SeatHeld     SeatStatus = "HELD"
	SeatReleased SeatStatus = "RELEASED"
	SeatFailed   SeatStatus = "FAILED"
	SeatBooked   SeatStatus = "BOOKED"
)

// HeldSeat is one seat inside a user's hold, carrying enough seat
// metadata for the client to render it without a catalog round trip.
type HeldSeat struct {
	TicketID    uint64     `json:"ticket_id"`
	RowIndex    int        `json:"row_index"`
	ColumnIndex int        `json:"column_index"`
	SeatType    string     `json:"seat_type"`
	Status      SeatStatus `json:"status"`
}

// SeatHold is a user's temporary claim on seats for a showtime. It lives
// in the lease store under one key per (showtime, user) and expires
// automatically; it is never written to the durable database, so a crash
// loses in-flight holds without orphaning bookings.
//
// At any instant a ticket ID should appear in at most one user's hold for
// a given showtime. The registry enforces this cooperatively by scanning
// other users' holds before claiming; the durable ticket row is the final
// arbiter at settlement.
type SeatHold struct {
	ShowtimeID uint64     `json:"showtime_id"`
	UserID     uint64     `json:"user_id"`
	Seats      []HeldSeat `json:"seats"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// TicketIDs returns the ticket IDs currently held.
func (h *SeatHold) TicketIDs() []uint64 {
	ids := make([]uint64, 0, len(h.Seats))
	for _, s := range h.Seats {
		ids = append(ids, s.TicketID)
	}
	return ids
}

// Holds reports whether the hold already contains the given ticket.
func (h *SeatHold) Holds(ticketID uint64) bool {
	for _, s := range h.Seats {
		if s.TicketID == ticketID {
			return true
		}
	}
	return false
}

// Remove deletes the given ticket IDs from the hold and returns the seats
// that were actually removed. Unknown IDs are ignored.
func (h *SeatHold) Remove(ticketIDs []uint64) []HeldSeat {
	drop := make(map[uint64]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		drop[id] = struct{}{}
	}
	kept := h.Seats[:0]
	var removed []HeldSeat
	for _, s := range h.Seats {
		if _, ok := drop[s.TicketID]; ok {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}
	h.Seats = kept
	return removed
}
