package model

import "time"

// User carries the fields the settlement path touches: identity for
// receipts and the loyalty balance adjusted on completed orders.
// Credential management lives outside this service.
type User struct {
	ID            uint64    // users.id
	Email         string    // users.email
	FullName      string    // users.full_name
	LoyaltyPoints int64     // users.loyalty_points
	CreatedAt     time.Time // users.created_at
}
