// Package ws is the session gateway: one websocket per viewing session,
// authenticated by the platform JWT, joined to the broadcast room of a
// single seat map.  Requests are forwarded to the lock manager and
// acknowledged on the caller's own connection – a caller never has to
// infer success from a broadcast, which may be delayed or (for other
// sessions' actions) absent.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/broadcast"
	"github.com/eventdesk/seat-reservation/internal/ledger"
	"github.com/eventdesk/seat-reservation/internal/lock"
	"github.com/eventdesk/seat-reservation/internal/model"
	"github.com/eventdesk/seat-reservation/internal/utils"
)

// ClientMessage is a request frame from the browser.
type ClientMessage struct {
	Type      string `json:"type"` // claim_seat | release_seat | initiate_payment | scan
	SeatIndex string `json:"seat_index,omitempty"`
}

// ResultFrame is the direct acknowledgement for one request.
type ResultFrame struct {
	Type       string `json:"type"`
	SeatIndex  string `json:"seat_index,omitempty"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// SnapshotFrame carries the full ledger state for the seat map.  Sent
// on join and on an explicit scan request, so a reconnecting client's
// cache cannot silently drift.
type SnapshotFrame struct {
	Type  string              `json:"type"` // "snapshot"
	Seats []model.Reservation `json:"seats"`
}

// EventFrame wraps a broadcast seat event.
type EventFrame struct {
	Type string `json:"type"` // "seat_locked"
	model.SeatEvent
}

const writeTimeout = 3 * time.Second

// Handler upgrades GET /v1/events/:code/ws.  The JWT travels in the
// token query parameter because browsers cannot set headers on a
// websocket dial.
func Handler(secret string, mgr *lock.Manager, hub *broadcast.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		code := c.Param("code")
		if code == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing event code"})
		}
		id, err := utils.ParseIdentity(secret, c.QueryParam("token"))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), nil)
		if err != nil {
			return nil // Accept already wrote the handshake failure
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		reqCtx := c.Request().Context()
		room := hub.Room(code)
		sessionID := uuid.NewString()
		out := make(chan model.SeatEvent, 32)

		room.Inbox() <- broadcast.Join{SessionID: sessionID, Outbox: out}
		defer func() { room.Inbox() <- broadcast.Leave{SessionID: sessionID} }()

		// Join before snapshotting: an event racing the snapshot is then
		// a duplicate rather than a gap, and duplicates are no-ops.
		if err := sendSnapshot(reqCtx, conn, mgr, code); err != nil {
			return nil
		}

		writeCtx, writeCancel := context.WithCancel(reqCtx)
		defer writeCancel()
		go func() {
			for ev := range out {
				payload, _ := json.Marshal(EventFrame{Type: "seat_locked", SeatEvent: ev})
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		for {
			_, data, err := conn.Read(reqCtx)
			if err != nil {
				// A dropped connection never releases claims; the holder
				// keeps their seats until expiry or an explicit release.
				return nil
			}

			var cm ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeResult(reqCtx, conn, ResultFrame{Type: "error", StatusCode: http.StatusBadRequest, Message: "bad json"})
				continue
			}
			handleMessage(reqCtx, conn, mgr, code, id, cm)
		}
	}
}

func handleMessage(ctx context.Context, conn *websocket.Conn, mgr *lock.Manager, code string, id utils.Identity, cm ClientMessage) {
	switch cm.Type {
	case "claim_seat":
		_, err := mgr.Claim(ctx, code, cm.SeatIndex, id.Subject)
		status, msg := statusFor(err)
		writeResult(ctx, conn, ResultFrame{Type: "lock_seat_result", SeatIndex: cm.SeatIndex, StatusCode: status, Message: msg})

	case "release_seat":
		elevated := id.Role == "staff"
		err := mgr.Release(ctx, code, cm.SeatIndex, id.Subject, elevated, "released")
		status, msg := statusFor(err)
		writeResult(ctx, conn, ResultFrame{Type: "unlock_seat_result", SeatIndex: cm.SeatIndex, StatusCode: status, Message: msg})

	case "initiate_payment":
		_, err := mgr.MarkPaymentInitiated(ctx, code, cm.SeatIndex, id.Subject)
		status, msg := statusFor(err)
		writeResult(ctx, conn, ResultFrame{Type: "payment_init_result", SeatIndex: cm.SeatIndex, StatusCode: status, Message: msg})

	case "scan":
		if err := sendSnapshot(ctx, conn, mgr, code); err != nil {
			log.Printf("ws: snapshot for %s: %v", code, err)
		}

	default:
		writeResult(ctx, conn, ResultFrame{Type: "error", StatusCode: http.StatusBadRequest, Message: "unknown type"})
	}
}

func sendSnapshot(ctx context.Context, conn *websocket.Conn, mgr *lock.Manager, code string) error {
	seats, err := mgr.Snapshot(ctx, code)
	if err != nil {
		payload, _ := json.Marshal(ResultFrame{Type: "error", StatusCode: http.StatusNotFound, Message: "unknown seat map"})
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		_ = conn.Write(wctx, websocket.MessageText, payload)
		return err
	}
	if seats == nil {
		seats = []model.Reservation{}
	}
	payload, _ := json.Marshal(SnapshotFrame{Type: "snapshot", Seats: seats})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func writeResult(ctx context.Context, conn *websocket.Conn, f ResultFrame) {
	payload, _ := json.Marshal(f)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

// statusFor maps transition errors onto the status codes the browser
// client switches on.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict, "seat no longer available"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "seat not found"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "not the seat holder"
	case errors.Is(err, ledger.ErrTerminal):
		return http.StatusConflict, "seat already sold"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
