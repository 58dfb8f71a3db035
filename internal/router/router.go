// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/dvtran/cinema-ticketing/internal/handler"
	"github.com/dvtran/cinema-ticketing/internal/middleware"
)

// RegisterPublic registers routes that require no authentication: the
// health check, the gateway's callback endpoints and the seat-map
// stream. The IPN and return endpoints authenticate by checksum, not by
// session, since the gateway is the caller.
func RegisterPublic(e *echo.Echo, checkout *handler.CheckoutHandler, stream *handler.StreamHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/payment/ipn", checkout.Ipn)
	e.GET("/v1/payment/return", checkout.Return)
	e.GET("/v1/showtimes/:id/seats/stream", stream.Stream)
}

// RegisterReservation registers the authenticated reservation surface:
// seat holds, order sessions and checkout. All routes live under /v1 and
// run the JWT middleware before any handler.
func RegisterReservation(e *echo.Echo, jwtSecret string, seats *handler.SeatHandler, sessions *handler.SessionHandler, checkout *handler.CheckoutHandler) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))

	v1.POST("/showtimes/:id/seats/select", seats.Select)
	v1.POST("/showtimes/:id/seats/deselect", seats.Deselect)
	v1.POST("/showtimes/:id/seats/action", seats.Action)
	v1.GET("/showtimes/:id/hold", seats.CurrentHold)

	v1.PUT("/showtimes/:id/session/tickets", sessions.UpsertTickets)
	v1.PUT("/showtimes/:id/session/concessions", sessions.UpsertConcessions)
	v1.GET("/showtimes/:id/session", sessions.Find)
	v1.DELETE("/showtimes/:id/session", sessions.Delete)

	v1.POST("/checkout", checkout.Initiate)
	v1.POST("/checkout/cash", checkout.Cash)
}
