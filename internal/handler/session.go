package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dvtran/cinema-ticketing/internal/model"
	"github.com/dvtran/cinema-ticketing/internal/session"
)

// SessionHandler exposes the order session (cart) over HTTP.
type SessionHandler struct {
	Sessions *session.Manager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	if sessions == nil {
		panic("nil manager passed to NewSessionHandler")
	}
	return &SessionHandler{Sessions: sessions}
}

func sessionJSON(c echo.Context, sess *model.OrderSession) error {
	return c.JSON(http.StatusOK, echo.Map{
		"ticket_ids":         sess.TicketIDs,
		"concessions":        sess.Concessions,
		"total_amount_cents": sess.TotalAmountCents,
		"status":             sess.Status,
		"expires_at":         sess.ExpiresAt.Format(time.RFC3339),
	})
}

// UpsertTickets handles PUT /v1/showtimes/:id/session/tickets.
func (h *SessionHandler) UpsertTickets(c echo.Context) error {
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
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.TicketIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_ids is required"})
	}
	sess, err := h.Sessions.UpsertTickets(c.Request().Context(), showtimeID, userID, body.TicketIDs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update session"})
	}
	return sessionJSON(c, sess)
}

// UpsertConcessions handles PUT /v1/showtimes/:id/session/concessions.
// Concessions cannot exist without a ticket cart: with no prior session
// this is a 404 and nothing is created.
func (h *SessionHandler) UpsertConcessions(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body struct {
		Lines []model.ConcessionLine `json:"lines"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	sess, err := h.Sessions.UpsertConcessions(c.Request().Context(), showtimeID, userID, body.Lines)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no ticket cart for this showtime"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update session"})
	}
	return sessionJSON(c, sess)
}

// Find handles GET /v1/showtimes/:id/session.
func (h *SessionHandler) Find(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	sess, err := h.Sessions.Find(c.Request().Context(), showtimeID, userID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no active session"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load session"})
	}
	return sessionJSON(c, sess)
}

// Delete handles DELETE /v1/showtimes/:id/session.
func (h *SessionHandler) Delete(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	if err := h.Sessions.Delete(c.Request().Context(), showtimeID, userID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete session"})
	}
	return c.NoContent(http.StatusNoContent)
}
