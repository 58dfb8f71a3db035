package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dvtran/cinema-ticketing/internal/notify"
)

// StreamHandler relays a showtime's seat-map topic to browsers over
// server-sent events. Delivery inherits the notifier's at-most-once
// semantics; clients that miss messages poll the current-hold endpoint.
type StreamHandler struct {
	Notifier *notify.RedisNotifier
}

// NewStreamHandler constructs a StreamHandler. The notifier may be nil
// when Redis pub/sub is not configured; streaming then reports 503.
func NewStreamHandler(notifier *notify.RedisNotifier) *StreamHandler {
	return &StreamHandler{Notifier: notifier}
}

// Stream handles GET /v1/showtimes/:id/seats/stream. Each seat update is
// written as one SSE data frame; the stream ends when the client
// disconnects.
func (h *StreamHandler) Stream(c echo.Context) error {
	showtimeID, err := showtimeParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	if h.Notifier == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "realtime updates unavailable"})
	}
	ctx := c.Request().Context()
	updates, err := h.Notifier.Subscribe(ctx, showtimeID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "realtime updates unavailable"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for update := range updates {
		body, err := json.Marshal(update)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", body); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}
