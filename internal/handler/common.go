package handler // handler defines http handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/ledger"
)

// getIdentity extracts the caller identity stored by the JWTAuth
// middleware.  An empty or missing value means the middleware chain is
// misconfigured; callers respond 401.
func getIdentity(c echo.Context) (string, error) {
	if v, ok := c.Get("identity").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("no identity in context")
}

// writeLedgerErr translates a transition error into the HTTP response
// body shared by all seat endpoints.
func writeLedgerErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat no longer available"})
	case errors.Is(err, ledger.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	case errors.Is(err, ledger.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not the seat holder"})
	case errors.Is(err, ledger.ErrTerminal):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat already sold"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
