package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/lock"
	"github.com/eventdesk/seat-reservation/internal/model"
)

// SeatHandler exposes the seat map snapshot and the staff tooling over
// plain HTTP.  Customer claim traffic goes over the websocket gateway;
// these endpoints serve hydration, dashboards and owner overrides.
type SeatHandler struct {
	Manager *lock.Manager
}

// NewSeatHandler constructs a SeatHandler.  The manager must be non-nil.
func NewSeatHandler(mgr *lock.Manager) *SeatHandler {
	if mgr == nil {
		panic("nil manager passed to NewSeatHandler")
	}
	return &SeatHandler{Manager: mgr}
}

// GetSeats handles GET /v1/events/:code/seats.  It returns every
// non-available reservation on the map – the same payload the
// websocket snapshot frame carries.  Loading a map for the first time
// also runs the expiry recovery pass, so a freshly restarted process
// serves correct holds from the first request onward.
func (h *SeatHandler) GetSeats(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event code"})
	}
	seats, err := h.Manager.Snapshot(c.Request().Context(), code)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown seat map"})
	}
	if seats == nil {
		seats = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": seats})
}

// CreateStaffHold handles POST /v1/events/:code/staff-holds.  Staff
// block a seat from sale; the hold carries no expiry and survives until
// an explicit staff release.
func (h *SeatHandler) CreateStaffHold(c echo.Context) error {
	identity, err := getIdentity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	code := c.Param("code")
	var body struct {
		SeatIndex string `json:"seat_index"`
	}
	if err := c.Bind(&body); err != nil || body.SeatIndex == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_index is required"})
	}
	res, err := h.Manager.StaffHold(c.Request().Context(), code, body.SeatIndex, identity)
	if err != nil {
		return writeLedgerErr(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": res})
}

// DeleteStaffHold handles DELETE /v1/events/:code/staff-holds/:seat.
func (h *SeatHandler) DeleteStaffHold(c echo.Context) error {
	identity, err := getIdentity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	code := c.Param("code")
	seat := c.Param("seat")
	if err := h.Manager.Release(c.Request().Context(), code, seat, identity, true, "released"); err != nil {
		return writeLedgerErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// OverrideRelease handles DELETE /v1/events/:code/claims/:seat.  Staff
// force-release a customer hold, e.g. to resolve a dispute at the door.
// Sold seats stay rejected – undoing a sale is not an API operation.
func (h *SeatHandler) OverrideRelease(c echo.Context) error {
	identity, err := getIdentity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	code := c.Param("code")
	seat := c.Param("seat")
	if err := h.Manager.Release(c.Request().Context(), code, seat, identity, true, "released"); err != nil {
		return writeLedgerErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
