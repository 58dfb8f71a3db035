// Package session maintains the per-(showtime, user) order session: the
// cart of ticket and concession selections accumulated while the seat
// hold is active, leased independently of the hold itself.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dvtran/cinema-ticketing/internal/lease"
	"github.com/dvtran/cinema-ticketing/internal/model"
)

// ErrSessionNotFound is returned when an operation requires an existing
// session. Concessions in particular cannot exist without a ticket cart.
var ErrSessionNotFound = errors.New("session: not found")

// PriceLookup resolves current catalog prices. Totals are always
// recomputed from these lookups in full, never adjusted by deltas, so a
// session's total cannot drift from the catalog.
type PriceLookup interface {
	TicketPrice(ctx context.Context, ticketID uint64) (int64, error)
	ComboPrice(ctx context.Context, comboID uint64) (int64, error)
}

// Default lease windows: browsing gets 10 minutes, payment 20. The
// payment window is applied once checkout begins via ExtendForPayment.
const (
	DefaultSessionTTL = 10 * time.Minute
	DefaultPaymentTTL = 20 * time.Minute
)

// Manager stores one OrderSession per (showtime, user) in the lease
// store.
type Manager struct {
	store      lease.Store
	prices     PriceLookup
	sessionTTL time.Duration
	paymentTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewManager builds a Manager. Non-positive TTLs fall back to the
// defaults.
func NewManager(store lease.Store, prices PriceLookup, sessionTTL, paymentTTL time.Duration, log *zap.Logger) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if paymentTTL <= 0 {
		paymentTTL = DefaultPaymentTTL
	}
	return &Manager{
		store:      store,
		prices:     prices,
		sessionTTL: sessionTTL,
		paymentTTL: paymentTTL,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func sessionKey(showtimeID, userID uint64) string {
	return fmt.Sprintf("order_session:%d:%d", showtimeID, userID)
}

// UpsertTickets sets the session's ticket selection, creating the
// session when none exists. A new session gets the default browsing TTL;
// an existing one keeps its remaining TTL untouched.
func (m *Manager) UpsertTickets(ctx context.Context, showtimeID, userID uint64, ticketIDs []uint64) (*model.OrderSession, error) {
	ids := dedupe(ticketIDs)
	if len(ids) == 0 {
		return nil, errors.New("session: no ticket ids given")
	}
	sess, err := m.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	created := sess == nil
	if created {
		now := m.now().UTC()
		sess = &model.OrderSession{
			ShowtimeID: showtimeID,
			UserID:     userID,
			Status:     model.SessionPending,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.sessionTTL),
		}
	}
	sess.TicketIDs = ids
	if err := m.recomputeTotal(ctx, sess); err != nil {
		return nil, err
	}
	if created {
		return sess, m.put(ctx, sess, m.sessionTTL)
	}
	return sess, m.refresh(ctx, sess)
}

// UpsertConcessions replaces the session's concession lines wholesale.
// It fails with ErrSessionNotFound when no ticket cart exists yet and
// never creates a session as a side effect.
func (m *Manager) UpsertConcessions(ctx context.Context, showtimeID, userID uint64, lines []model.ConcessionLine) (*model.OrderSession, error) {
	sess, err := m.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	merged := make([]model.ConcessionLine, 0, len(lines))
	for _, line := range lines {
		if line.ComboID == 0 || line.Quantity == 0 {
			continue
		}
		merged = append(merged, line)
	}
	sess.Concessions = merged
	if err := m.recomputeTotal(ctx, sess); err != nil {
		return nil, err
	}
	return sess, m.refresh(ctx, sess)
}

// RemoveTickets drops the given tickets from the cart, recomputing the
// total. When the ticket set becomes empty the session is deleted
// entirely, mirroring the seat hold's cleanup rule.
func (m *Manager) RemoveTickets(ctx context.Context, showtimeID, userID uint64, ticketIDs []uint64) (*model.OrderSession, error) {
	sess, err := m.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	drop := make(map[uint64]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		drop[id] = struct{}{}
	}
	kept := sess.TicketIDs[:0]
	for _, id := range sess.TicketIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	sess.TicketIDs = kept
	if len(sess.TicketIDs) == 0 {
		return nil, m.Delete(ctx, showtimeID, userID)
	}
	if err := m.recomputeTotal(ctx, sess); err != nil {
		return nil, err
	}
	return sess, m.refresh(ctx, sess)
}

// ExtendForPayment re-leases the session with the payment window TTL.
// Only the expiry moves; tickets, concessions and total are untouched.
func (m *Manager) ExtendForPayment(ctx context.Context, showtimeID, userID uint64) (*model.OrderSession, error) {
	sess, err := m.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	sess.ExpiresAt = m.now().UTC().Add(m.paymentTTL)
	return sess, m.put(ctx, sess, m.paymentTTL)
}

// Find returns the current session or ErrSessionNotFound.
func (m *Manager) Find(ctx context.Context, showtimeID, userID uint64) (*model.OrderSession, error) {
	sess, err := m.load(ctx, showtimeID, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session key. Absent keys are not an error.
func (m *Manager) Delete(ctx context.Context, showtimeID, userID uint64) error {
	return m.store.Delete(ctx, sessionKey(showtimeID, userID))
}

// recomputeTotal rebuilds the grand total from current catalog prices:
// every ticket's price plus quantity × unit price per concession line.
func (m *Manager) recomputeTotal(ctx context.Context, sess *model.OrderSession) error {
	var total int64
	for _, id := range sess.TicketIDs {
		price, err := m.prices.TicketPrice(ctx, id)
		if err != nil {
			return err
		}
		total += price
	}
	for _, line := range sess.Concessions {
		price, err := m.prices.ComboPrice(ctx, line.ComboID)
		if err != nil {
			return err
		}
		total += price * int64(line.Quantity)
	}
	sess.TotalAmountCents = total
	return nil
}

func (m *Manager) load(ctx context.Context, showtimeID, userID uint64) (*model.OrderSession, error) {
	raw, ok, err := m.store.Get(ctx, sessionKey(showtimeID, userID))
	if err != nil || !ok {
		return nil, err
	}
	var sess model.OrderSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *Manager) put(ctx context.Context, sess *model.OrderSession, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, sessionKey(sess.ShowtimeID, sess.UserID), raw, ttl)
}

// refresh rewrites the session while preserving its remaining TTL.
func (m *Manager) refresh(ctx context.Context, sess *model.OrderSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return m.store.Refresh(ctx, sessionKey(sess.ShowtimeID, sess.UserID), raw)
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
