package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/lock"
	"github.com/eventdesk/seat-reservation/internal/model"
)

func newTestManager() *lock.Manager {
	catalog := func(ctx context.Context, eventCode string) (map[string]uint32, error) {
		return map[string]uint32{"A1": 1500, "A2": 1500}, nil
	}
	return lock.NewManager(catalog, nil, nil, nil, nil, 15*time.Minute)
}

// call runs one handler with an authenticated echo context, the way the
// JWT middleware would prepare it.
func call(t *testing.T, h echo.HandlerFunc, method, target, body, identity string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if identity != "" {
		c.Set("identity", identity)
	}
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestGetSeats_EmptyMap(t *testing.T) {
	h := NewSeatHandler(newTestManager())
	rec := call(t, h.GetSeats, http.MethodGet, "/v1/events/EV1/seats", "", "", map[string]string{"code": "EV1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body)
	}
	var out struct {
		Items []model.Reservation `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Items == nil || len(out.Items) != 0 {
		t.Fatalf("empty map must serialize as []: %s", rec.Body)
	}
}

func TestGetSeats_ReturnsHolds(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	h := NewSeatHandler(mgr)

	rec := call(t, h.GetSeats, http.MethodGet, "/v1/events/EV1/seats", "", "", map[string]string{"code": "EV1"})
	var out struct {
		Items []model.Reservation `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Items) != 1 || out.Items[0].SeatIndex != "A1" || out.Items[0].State != model.StateLocked {
		t.Fatalf("snapshot: %s", rec.Body)
	}
}

func TestStaffHold_CreateAndDelete(t *testing.T) {
	mgr := newTestManager()
	h := NewSeatHandler(mgr)

	rec := call(t, h.CreateStaffHold, http.MethodPost, "/v1/events/EV1/staff-holds",
		`{"seat_index":"A1"}`, "owner@example.com", map[string]string{"code": "EV1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff hold: %d body=%s", rec.Code, rec.Body)
	}
	if r, ok, _ := mgr.GetReservation(context.Background(), "EV1", "A1"); !ok || r.State != model.StateStaffHeld {
		t.Fatalf("reservation after staff hold: %+v ok=%v", r, ok)
	}

	rec = call(t, h.DeleteStaffHold, http.MethodDelete, "/v1/events/EV1/staff-holds/A1",
		"", "owner@example.com", map[string]string{"code": "EV1", "seat": "A1"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete staff hold: %d body=%s", rec.Code, rec.Body)
	}
	if _, ok, _ := mgr.GetReservation(context.Background(), "EV1", "A1"); ok {
		t.Fatal("seat must be available after staff release")
	}
}

func TestStaffHold_ConflictOnClaimedSeat(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	h := NewSeatHandler(mgr)

	rec := call(t, h.CreateStaffHold, http.MethodPost, "/v1/events/EV1/staff-holds",
		`{"seat_index":"A1"}`, "owner@example.com", map[string]string{"code": "EV1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("staff hold on claimed seat: want 409, got %d", rec.Code)
	}
}

func TestOverrideRelease_FreesCustomerHold(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	h := NewSeatHandler(mgr)

	rec := call(t, h.OverrideRelease, http.MethodDelete, "/v1/events/EV1/claims/A1",
		"", "owner@example.com", map[string]string{"code": "EV1", "seat": "A1"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("override release: %d body=%s", rec.Code, rec.Body)
	}
	if _, ok, _ := mgr.GetReservation(context.Background(), "EV1", "A1"); ok {
		t.Fatal("seat must be available after override")
	}
}

func TestStaffEndpoints_RequireIdentity(t *testing.T) {
	h := NewSeatHandler(newTestManager())
	rec := call(t, h.CreateStaffHold, http.MethodPost, "/v1/events/EV1/staff-holds",
		`{"seat_index":"A1"}`, "", map[string]string{"code": "EV1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity: want 401, got %d", rec.Code)
	}
}
