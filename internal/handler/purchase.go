package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/payment"
)

// PurchaseHandler drives multi-seat checkouts through the payment
// reconciler.
type PurchaseHandler struct {
	Reconciler *payment.Reconciler
}

// NewPurchaseHandler constructs a PurchaseHandler.  The reconciler must
// be non-nil.
func NewPurchaseHandler(rec *payment.Reconciler) *PurchaseHandler {
	if rec == nil {
		panic("nil reconciler passed to NewPurchaseHandler")
	}
	return &PurchaseHandler{Reconciler: rec}
}

// CreatePurchase handles POST /v1/events/:code/purchases.  The caller
// must already hold a lock on every listed seat.  On success the
// response carries the purchase id to poll and the QR content to
// render.  A 409 means at least one seat slipped away between selection
// and checkout; any seats marked in this attempt were released again
// and the client should refresh its map.
func (h *PurchaseHandler) CreatePurchase(c echo.Context) error {
	identity, err := getIdentity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	code := c.Param("code")
	var body struct {
		SeatIndexes []string `json:"seat_indexes"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.SeatIndexes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_indexes is required"})
	}

	p, err := h.Reconciler.Begin(c.Request().Context(), code, body.SeatIndexes, identity)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentDesync) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "some seats are no longer held", "detail": err.Error()})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"purchase_id":  p.ID,
		"payment_id":   p.PaymentID,
		"qr_content":   p.QRContent,
		"amount_cents": p.AmountCents,
		"expires_at":   p.ExpiresAt,
	})
}

// GetPurchase handles GET /v1/purchases/:id.  Polling is caller-driven:
// each poll syncs the gateway status into the ledger (finalizing or
// releasing seats on a terminal result) and returns the purchase.
// Redundant polls are safe.
func (h *PurchaseHandler) GetPurchase(c echo.Context) error {
	identity, err := getIdentity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	p, err := h.Reconciler.Sync(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, payment.ErrPurchaseNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase not found"})
		}
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment status unavailable"})
	}
	if p.HolderIdentity != identity {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": p})
}
