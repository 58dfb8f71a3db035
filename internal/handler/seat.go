package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dvtran/cinema-ticketing/internal/hold"
)

// Inbound realtime action names (mirrors the seat-map channel contract).
const (
	actionSelect   = "SELECT_SEAT"
	actionDeselect = "DESELECT_SEAT"
)

// SeatHandler exposes the seat hold registry over HTTP: interactive
// select/deselect plus the reload/resume query.
type SeatHandler struct {
	Holds *hold.Registry
}

// NewSeatHandler constructs a SeatHandler.
func NewSeatHandler(holds *hold.Registry) *SeatHandler {
	if holds == nil {
		panic("nil registry passed to NewSeatHandler")
	}
	return &SeatHandler{Holds: holds}
}

type seatRequest struct {
	TicketIDs []uint64 `json:"ticket_ids"`
}

// Select handles POST /v1/showtimes/:id/seats/select. Seats already held
// by others are skipped; when nothing is claimable a 409 is returned and
// the FAILED broadcast has already gone out to the showtime topic.
func (h *SeatHandler) Select(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body seatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.TicketIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_ids is required"})
	}
	held, err := h.Holds.Select(c.Request().Context(), showtimeID, userID, body.TicketIDs)
	if err != nil {
		if errors.Is(err, hold.ErrNoSeatsAvailable) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "requested seats are unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to hold seats"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seats":      held.Seats,
		"expires_at": held.ExpiresAt.Format(time.RFC3339),
	})
}

// Deselect handles POST /v1/showtimes/:id/seats/deselect. Releasing
// seats the user does not hold is a no-op.
func (h *SeatHandler) Deselect(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body seatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Holds.Deselect(c.Request().Context(), showtimeID, userID, body.TicketIDs); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seats"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Action handles POST /v1/showtimes/:id/seats/action, the HTTP carrier
// for the realtime channel's inbound message shape.
func (h *SeatHandler) Action(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body struct {
		TicketIDs []uint64 `json:"ticket_ids"`
		Action    string   `json:"action"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	switch body.Action {
	case actionSelect:
		held, err := h.Holds.Select(ctx, showtimeID, userID, body.TicketIDs)
		if err != nil {
			if errors.Is(err, hold.ErrNoSeatsAvailable) {
				return c.JSON(http.StatusConflict, echo.Map{"error": "requested seats are unavailable"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to hold seats"})
		}
		return c.JSON(http.StatusOK, echo.Map{"seats": held.Seats})
	case actionDeselect:
		if err := h.Holds.Deselect(ctx, showtimeID, userID, body.TicketIDs); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seats"})
		}
		return c.NoContent(http.StatusNoContent)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown action"})
	}
}

// CurrentHold handles GET /v1/showtimes/:id/hold, the authoritative
// state a client reloads from after missing broadcasts.
func (h *SeatHandler) CurrentHold(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	ctx := c.Request().Context()
	current, err := h.Holds.CurrentHold(ctx, showtimeID, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load hold"})
	}
	if current == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active hold"})
	}
	ttl, _, err := h.Holds.RemainingTTL(ctx, showtimeID, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load hold"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seats":         current.Seats,
		"expires_at":    current.ExpiresAt.Format(time.RFC3339),
		"remaining_sec": int64(ttl.Seconds()),
	})
}
