package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dvtran/cinema-ticketing/internal/model"
	"github.com/dvtran/cinema-ticketing/internal/settlement"
)

// CheckoutHandler exposes checkout initiation, the gateway's IPN and
// browser-return endpoints, and the synchronous cash path.
type CheckoutHandler struct {
	Coordinator *settlement.Coordinator
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(coordinator *settlement.Coordinator) *CheckoutHandler {
	if coordinator == nil {
		panic("nil coordinator passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Coordinator: coordinator}
}

type checkoutRequest struct {
	ShowtimeID    uint64                 `json:"showtime_id"`
	TicketIDs     []uint64               `json:"ticket_ids"`
	Concessions   []model.ConcessionLine `json:"concessions"`
	AmountCents   int64                  `json:"amount_cents"`
	DiscountCents int64                  `json:"discount_cents"`
	OrderInfo     string                 `json:"order_info"`
}

func (r checkoutRequest) toInput(userID uint64, clientIP string) settlement.CheckoutInput {
	return settlement.CheckoutInput{
		UserID:        userID,
		ShowtimeID:    r.ShowtimeID,
		TicketIDs:     r.TicketIDs,
		Concessions:   r.Concessions,
		AmountCents:   r.AmountCents,
		DiscountCents: r.DiscountCents,
		OrderInfo:     r.OrderInfo,
		ClientIP:      clientIP,
	}
}

// Initiate handles POST /v1/checkout: creates the pending order and
// returns the signed gateway redirect URL.
func (h *CheckoutHandler) Initiate(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body checkoutRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ShowtimeID == 0 || len(body.TicketIDs) == 0 || body.AmountCents <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "showtime_id, ticket_ids and amount_cents are required"})
	}
	result, err := h.Coordinator.InitiateCheckout(c.Request().Context(), body.toInput(userID, c.RealIP()))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to initiate checkout"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order_code":   result.Order.Code,
		"redirect_url": result.RedirectURL,
	})
}

// Cash handles POST /v1/checkout/cash: a synchronous box-office sale,
// settled in one local call.
func (h *CheckoutHandler) Cash(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body checkoutRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ShowtimeID == 0 || len(body.TicketIDs) == 0 || body.AmountCents <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "showtime_id, ticket_ids and amount_cents are required"})
	}
	order, err := h.Coordinator.PayWithCash(c.Request().Context(), body.toInput(userID, c.RealIP()))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to complete cash sale"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order_code": order.Code,
		"status":     order.Status,
	})
}

// Ipn handles GET /v1/payment/ipn, the gateway's server-to-server
// callback. The response body is the gateway's acknowledgment contract;
// the HTTP status is always 200 so the gateway does not treat business
// rejections as transport failures.
func (h *CheckoutHandler) Ipn(c echo.Context) error {
	result := h.Coordinator.HandleCallback(c.Request().Context(), queryParams(c))
	return c.JSON(http.StatusOK, result)
}

// Return handles GET /v1/payment/return, the browser redirect back from
// the gateway. Read-only; the durable rows decide what is reported.
func (h *CheckoutHandler) Return(c echo.Context) error {
	result := h.Coordinator.HandleReturn(c.Request().Context(), queryParams(c))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusPaymentRequired
	}
	return c.JSON(status, result)
}

// queryParams flattens the request query into the map form the checksum
// is verified over. The gateway sends every parameter exactly once.
func queryParams(c echo.Context) map[string]string {
	params := make(map[string]string)
	for k, vs := range c.QueryParams() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}
