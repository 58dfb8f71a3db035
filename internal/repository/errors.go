// Package repository provides data access to the durable relational
// store. Sentinel errors defined here let handlers and the settlement
// coordinator distinguish failure scenarios without inspecting SQL
// driver errors.
package repository

import "errors"

// ErrTicketNotFound is returned when a ticket ID does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrComboNotFound is returned when a concession combo ID does not exist.
var ErrComboNotFound = errors.New("combo not found")

// ErrOrderNotFound is returned when an order lookup matches no row.
var ErrOrderNotFound = errors.New("order not found")

// ErrPaymentNotFound is returned when no payment matches the given
// transaction reference.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// ErrPaymentResolved is returned when a conditional payment update finds
// the row already in a terminal state. Callers treat this as a duplicate
// delivery, not a failure.
var ErrPaymentResolved = errors.New("payment already resolved")

// ErrTicketUnavailable is returned when the conditional booking update
// could not claim every ticket, meaning at least one was booked by a
// concurrent order. The enclosing transaction must be rolled back.
var ErrTicketUnavailable = errors.New("ticket no longer available")
