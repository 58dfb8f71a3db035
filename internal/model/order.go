package model

import "time"

// OrderStatus is the lifecycle state of a durable order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCanceled  OrderStatus = "CANCELED"
)

// CanTransition reports whether an order may move from its current status
// to the target. PENDING is the only non-terminal state; COMPLETED and
// CANCELED absorb all further transitions.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s != OrderPending {
		return false
	}
	return to == OrderCompleted || to == OrderCanceled
}

// Order is a durable purchase record. It is created in PENDING state when
// checkout is initiated (before the gateway redirect) and resolved to
// COMPLETED or CANCELED exactly once by the settlement coordinator.
type Order struct {
	ID               uint64      // orders.id
	Code             string      // orders.code, also the payment txnRef
	UserID           uint64      // orders.user_id
	ShowtimeID       uint64      // orders.showtime_id
	TotalAmountCents int64       // orders.total_amount_cents
	DiscountCents    int64       // orders.discount_cents (loyalty points spent)
	Status           OrderStatus // orders.status
	CreatedAt        time.Time   // orders.created_at
}

// OrderConcession is one concession line priced at checkout time. The
// unit price is a snapshot of the catalog price when the order was
// created, so later catalog edits cannot change what was sold.
type OrderConcession struct {
	ID             uint64 // order_concessions.id
	OrderID        uint64 // order_concessions.order_id
	ComboID        uint64 // order_concessions.combo_id
	Quantity       uint32 // order_concessions.quantity
	UnitPriceCents int64  // order_concessions.unit_price_cents
}
