package model

import "time"

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Resolved reports whether the payment has reached a terminal state.
// A resolved payment must never be mutated again; re-delivery of the
// same gateway callback is acknowledged as a duplicate instead.
func (s PaymentStatus) Resolved() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// CanTransition validates a status change. Only PENDING payments may
// move, and only to a terminal state.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	if s != PaymentPending {
		return false
	}
	return to == PaymentCompleted || to == PaymentFailed
}

// Payment is the durable payment record attached to an order. TxnRef is
// the merchant transaction reference sent to the gateway and is the
// idempotency key for its callbacks: it is unique, and the first callback
// that resolves it wins.
type Payment struct {
	ID            uint64        // payments.id
	OrderID       uint64        // payments.order_id
	MethodCode    string        // payments.method_code ("GATEWAY", "CASH")
	AmountCents   int64         // payments.amount_cents
	TxnRef        string        // payments.txn_ref (unique)
	TransactionNo string        // payments.transaction_no, assigned by the gateway
	Status        PaymentStatus // payments.status
	CreatedAt     time.Time     // payments.created_at
}
