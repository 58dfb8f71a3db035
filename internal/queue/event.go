// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderPaidEvent is published when a settlement completes. It carries
// enough information for downstream consumers (receipt mailer, loyalty
// statements, analytics) to act without querying the primary database.
type OrderPaidEvent struct {
	OrderID          uint64   `json:"order_id"`
	OrderCode        string   `json:"order_code"`
	UserID           uint64   `json:"user_id"`
	UserEmail        string   `json:"user_email"`
	ShowtimeID       uint64   `json:"showtime_id"`
	TicketIDs        []uint64 `json:"ticket_ids"`
	TotalAmountCents int64    `json:"total_amount_cents"`
	DiscountCents    int64    `json:"discount_cents"`
	PaidAt           string   `json:"paid_at"`
	MethodCode       string   `json:"method_code"`
}
