package model

import "time"

// SessionStatus is the lifecycle state of an order session. Sessions only
// ever exist in PENDING state; settlement or expiry removes them instead
// of transitioning them.
type SessionStatus string

const SessionPending SessionStatus = "PENDING"

// ConcessionLine is one combo selection inside a cart.
type ConcessionLine struct {
	ComboID  uint64 `json:"combo_id"`
	Quantity uint32 `json:"quantity"`
}

// OrderSession is the per-(showtime, user) shopping cart: the selected
// tickets plus concession lines and the recomputed grand total. It lives
// in the lease store alongside, but independently of, the seat hold.
//
// TotalAmountCents is always recomputed from current catalog prices on
// every mutation, never adjusted incrementally, so it cannot drift.
type OrderSession struct {
	ShowtimeID       uint64           `json:"showtime_id"`
	UserID           uint64           `json:"user_id"`
	TicketIDs        []uint64         `json:"ticket_ids"`
	Concessions      []ConcessionLine `json:"concessions"`
	TotalAmountCents int64            `json:"total_amount_cents"`
	Status           SessionStatus    `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
}
