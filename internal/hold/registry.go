// Package hold implements the seat hold registry: short-lived, per-user
// claims on seats for a showtime, kept in the lease store and visible to
// every viewer of that showtime's seat map.
package hold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dvtran/cinema-ticketing/internal/lease"
	"github.com/dvtran/cinema-ticketing/internal/model"
	"github.com/dvtran/cinema-ticketing/internal/notify"
)

// ErrNoSeatsAvailable is returned by Select when every requested seat is
// already held by another user. No state changed; the caller should
// re-read the seat map.
var ErrNoSeatsAvailable = errors.New("hold: no requested seats available")

// SeatLookup resolves seat metadata for a ticket. Backed by the durable
// ticket/seat tables; the registry treats it as read-mostly reference
// data.
type SeatLookup interface {
	TicketSeat(ctx context.Context, ticketID uint64) (rowIndex, columnIndex int, seatType string, err error)
}

// DefaultHoldTTL is the selection window granted on every mutating call.
const DefaultHoldTTL = 5 * time.Minute

// Registry tracks one SeatHold per (showtime, user) in the lease store.
//
// Conflict checking is cooperative, not linearizable: Select scans all
// other holders' keys and then writes its own, without a cross-key
// transaction, so two users racing for the same free seat can both
// momentarily believe they hold it. The settlement coordinator's
// conditional ticket-booking update is the authoritative gate; the worst
// outcome of the race is a late "seat unavailable" at payment, never a
// double sale.
type Registry struct {
	store      lease.Store
	seats      SeatLookup
	notifier   notify.Notifier
	holdTTL    time.Duration
	paymentTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewRegistry builds a Registry. holdTTL and paymentTTL fall back to
// 5 and 20 minutes when non-positive.
func NewRegistry(store lease.Store, seats SeatLookup, notifier notify.Notifier, holdTTL, paymentTTL time.Duration, log *zap.Logger) *Registry {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if paymentTTL <= 0 {
		paymentTTL = 20 * time.Minute
	}
	return &Registry{
		store:      store,
		seats:      seats,
		notifier:   notifier,
		holdTTL:    holdTTL,
		paymentTTL: paymentTTL,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the registry's time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func holdKey(showtimeID, userID uint64) string {
	return fmt.Sprintf("seat_hold:%d:%d", showtimeID, userID)
}

func holdPattern(showtimeID uint64) string {
	return fmt.Sprintf("seat_hold:%d:*", showtimeID)
}

// Select claims the requested seats for the user, skipping any seat
// already held by someone else. Re-selecting a seat the user already
// holds is idempotent. The hold's TTL rolls to a fresh full window on
// every call. On success the affected seats are broadcast as HELD; when
// nothing was available a FAILED broadcast is sent and
// ErrNoSeatsAvailable returned with no state change.
func (r *Registry) Select(ctx context.Context, showtimeID, userID uint64, ticketIDs []uint64) (*model.SeatHold, error) {
	requested := dedupe(ticketIDs)
	if len(requested) == 0 {
		return nil, errors.New("hold: no ticket ids given")
	}

	heldByOthers, err := r.heldByOthers(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	available := make([]uint64, 0, len(requested))
	for _, id := range requested {
		if _, taken := heldByOthers[id]; !taken {
			available = append(available, id)
		}
	}
	if len(available) == 0 {
		r.notifier.BroadcastSeatUpdate(ctx, notify.SeatUpdate{
			Seats:      []model.HeldSeat{},
			Status:     model.SeatFailed,
			UserID:     userID,
			ShowtimeID: showtimeID,
		})
		return nil, ErrNoSeatsAvailable
	}

	existing, err := r.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if existing == nil {
		existing = &model.SeatHold{ShowtimeID: showtimeID, UserID: userID, CreatedAt: now}
	}

	// Seats affected by this call: newly claimed ones get resolved from
	// the catalog, re-selected ones are echoed from the current hold.
	affected := make([]model.HeldSeat, 0, len(available))
	for _, id := range available {
		if existing.Holds(id) {
			for _, s := range existing.Seats {
				if s.TicketID == id {
					affected = append(affected, s)
					break
				}
			}
			continue
		}
		row, col, seatType, err := r.seats.TicketSeat(ctx, id)
		if err != nil {
			return nil, err
		}
		seat := model.HeldSeat{
			TicketID:    id,
			RowIndex:    row,
			ColumnIndex: col,
			SeatType:    seatType,
			Status:      model.SeatHeld,
		}
		existing.Seats = append(existing.Seats, seat)
		affected = append(affected, seat)
	}

	existing.ExpiresAt = now.Add(r.holdTTL)
	if err := r.persist(ctx, existing, r.holdTTL); err != nil {
		return nil, err
	}

	r.notifier.BroadcastSeatUpdate(ctx, notify.SeatUpdate{
		Seats:      affected,
		Status:     model.SeatHeld,
		UserID:     userID,
		ShowtimeID: showtimeID,
	})
	return existing, nil
}

// Deselect releases the given seats from the user's hold. Releasing the
// last seat deletes the hold key entirely; otherwise the remaining seats
// are re-persisted with a fresh rolling window. Absent holds are a
// no-op.
func (r *Registry) Deselect(ctx context.Context, showtimeID, userID uint64, ticketIDs []uint64) error {
	existing, err := r.load(ctx, showtimeID, userID)
	if err != nil || existing == nil {
		return err
	}
	removed := existing.Remove(dedupe(ticketIDs))
	if len(removed) == 0 {
		return nil
	}
	if len(existing.Seats) == 0 {
		if err := r.store.Delete(ctx, holdKey(showtimeID, userID)); err != nil {
			return err
		}
	} else {
		existing.ExpiresAt = r.now().UTC().Add(r.holdTTL)
		if err := r.persist(ctx, existing, r.holdTTL); err != nil {
			return err
		}
	}
	for i := range removed {
		removed[i].Status = model.SeatReleased
	}
	r.notifier.BroadcastSeatUpdate(ctx, notify.SeatUpdate{
		Seats:      removed,
		Status:     model.SeatReleased,
		UserID:     userID,
		ShowtimeID: showtimeID,
	})
	return nil
}

// CurrentHold returns the user's hold for a showtime, or nil when none
// exists. Supports client reload/resume.
func (r *Registry) CurrentHold(ctx context.Context, showtimeID, userID uint64) (*model.SeatHold, error) {
	return r.load(ctx, showtimeID, userID)
}

// RemainingTTL reports how long the user's hold has left, and false when
// no hold exists.
func (r *Registry) RemainingTTL(ctx context.Context, showtimeID, userID uint64) (time.Duration, bool, error) {
	return r.store.RemainingTTL(ctx, holdKey(showtimeID, userID))
}

// ExtendForPayment re-leases the hold with the payment window so it
// cannot expire while the user is off at the gateway. No-op when the
// hold is gone.
func (r *Registry) ExtendForPayment(ctx context.Context, showtimeID, userID uint64) error {
	existing, err := r.load(ctx, showtimeID, userID)
	if err != nil || existing == nil {
		return err
	}
	existing.ExpiresAt = r.now().UTC().Add(r.paymentTTL)
	return r.persist(ctx, existing, r.paymentTTL)
}

// Release drops the hold key without broadcasting. Settlement cleanup
// uses this; the BOOKED broadcast already tells viewers the outcome.
func (r *Registry) Release(ctx context.Context, showtimeID, userID uint64) error {
	return r.store.Delete(ctx, holdKey(showtimeID, userID))
}

// heldByOthers unions the ticket IDs held by every other user of the
// showtime. The scan and the subsequent write are not one transaction;
// see the Registry doc comment.
func (r *Registry) heldByOthers(ctx context.Context, showtimeID, userID uint64) (map[uint64]struct{}, error) {
	keys, err := r.store.KeysMatching(ctx, holdPattern(showtimeID))
	if err != nil {
		return nil, err
	}
	own := holdKey(showtimeID, userID)
	held := make(map[uint64]struct{})
	for _, key := range keys {
		if key == own {
			continue
		}
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Expired between scan and read.
			continue
		}
		var h model.SeatHold
		if err := json.Unmarshal(raw, &h); err != nil {
			r.log.Warn("discarding undecodable seat hold", zap.String("key", key), zap.Error(err))
			continue
		}
		for _, s := range h.Seats {
			held[s.TicketID] = struct{}{}
		}
	}
	return held, nil
}

func (r *Registry) load(ctx context.Context, showtimeID, userID uint64) (*model.SeatHold, error) {
	raw, ok, err := r.store.Get(ctx, holdKey(showtimeID, userID))
	if err != nil || !ok {
		return nil, err
	}
	var h model.SeatHold
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Registry) persist(ctx context.Context, h *model.SeatHold, ttl time.Duration) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, holdKey(h.ShowtimeID, h.UserID), raw, ttl)
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
