// Package notify fans out seat-map state changes to everyone watching a
// showtime. Delivery is at-most-once with no acknowledgement or retry:
// every message is a full statement of "these seats now have this
// status", so a missed message is repaired by the client's next poll of
// the current hold or seat matrix.
package notify

import (
	"context"

	"github.com/dvtran/cinema-ticketing/internal/model"
)

// SeatUpdate is the broadcast payload for a showtime's seat topic.
type SeatUpdate struct {
	Seats      []model.HeldSeat `json:"seats"`
	Status     model.SeatStatus `json:"status"`
	UserID     uint64           `json:"user_id"`
	ShowtimeID uint64           `json:"showtime_id"`
}

// Notifier broadcasts seat updates. Implementations must be best-effort:
// a broken transport is logged, never surfaced to the caller, because a
// notification outage must not fail a hold or a booking.
type Notifier interface {
	BroadcastSeatUpdate(ctx context.Context, update SeatUpdate)
}
