package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/eventdesk/seat-reservation/internal/model"
	"github.com/eventdesk/seat-reservation/internal/payment"
)

type fakeGateway struct {
	status payment.Status
}

func (g *fakeGateway) CreatePayment(ctx context.Context, eventCode string, seatIndexes []string, amountCents uint32) (payment.Intent, error) {
	return payment.Intent{
		PaymentID: "pay_test",
		QRContent: "upi://pay",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, paymentID string) (payment.Status, error) {
	return g.status, nil
}

func TestCreatePurchase_HappyPath(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	mgr.Claim(context.Background(), "EV1", "A2", "alice@example.com")
	rec := payment.NewReconciler(&fakeGateway{status: payment.StatusPending}, mgr)
	h := NewPurchaseHandler(rec)

	resp := call(t, h.CreatePurchase, http.MethodPost, "/v1/events/EV1/purchases",
		`{"seat_indexes":["A1","A2"]}`, "alice@example.com", map[string]string{"code": "EV1"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create purchase: %d body=%s", resp.Code, resp.Body)
	}
	var out struct {
		PurchaseID  string `json:"purchase_id"`
		PaymentID   string `json:"payment_id"`
		QRContent   string `json:"qr_content"`
		AmountCents uint32 `json:"amount_cents"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.PurchaseID == "" || out.PaymentID != "pay_test" || out.AmountCents != 3000 {
		t.Fatalf("purchase response: %s", resp.Body)
	}

	// Both seats are pinned to the payment flow.
	for _, s := range []string{"A1", "A2"} {
		if r, _, _ := mgr.GetReservation(context.Background(), "EV1", s); r.State != model.StatePendingPayment {
			t.Fatalf("seat %s: %+v", s, r)
		}
	}
}

func TestCreatePurchase_SeatHeldByOther(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "bob@example.com")
	rec := payment.NewReconciler(&fakeGateway{}, mgr)
	h := NewPurchaseHandler(rec)

	resp := call(t, h.CreatePurchase, http.MethodPost, "/v1/events/EV1/purchases",
		`{"seat_indexes":["A1"]}`, "alice@example.com", map[string]string{"code": "EV1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("purchase of foreign seat: want 400, got %d body=%s", resp.Code, resp.Body)
	}
}

func TestCreatePurchase_RequiresSeats(t *testing.T) {
	rec := payment.NewReconciler(&fakeGateway{}, newTestManager())
	h := NewPurchaseHandler(rec)

	resp := call(t, h.CreatePurchase, http.MethodPost, "/v1/events/EV1/purchases",
		`{"seat_indexes":[]}`, "alice@example.com", map[string]string{"code": "EV1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("empty purchase: want 400, got %d", resp.Code)
	}
}

func TestGetPurchase_CompletesSale(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	gw := &fakeGateway{status: payment.StatusCompleted}
	rec := payment.NewReconciler(gw, mgr)
	h := NewPurchaseHandler(rec)

	p, err := rec.Begin(context.Background(), "EV1", []string{"A1"}, "alice@example.com")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp := call(t, h.GetPurchase, http.MethodGet, "/v1/purchases/"+p.ID,
		"", "alice@example.com", map[string]string{"id": p.ID})
	if resp.Code != http.StatusOK {
		t.Fatalf("poll: %d body=%s", resp.Code, resp.Body)
	}
	var out struct {
		Item model.Purchase `json:"item"`
	}
	json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Item.Status != model.PurchaseCompleted {
		t.Fatalf("purchase status: %s", resp.Body)
	}
	if r, _, _ := mgr.GetReservation(context.Background(), "EV1", "A1"); r.State != model.StateSold {
		t.Fatalf("seat after completed poll: %+v", r)
	}
}

func TestGetPurchase_ForeignPurchaseForbidden(t *testing.T) {
	mgr := newTestManager()
	mgr.Claim(context.Background(), "EV1", "A1", "alice@example.com")
	rec := payment.NewReconciler(&fakeGateway{status: payment.StatusPending}, mgr)
	h := NewPurchaseHandler(rec)

	p, _ := rec.Begin(context.Background(), "EV1", []string{"A1"}, "alice@example.com")
	resp := call(t, h.GetPurchase, http.MethodGet, "/v1/purchases/"+p.ID,
		"", "mallory@example.com", map[string]string{"id": p.ID})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("foreign poll: want 403, got %d", resp.Code)
	}
}

func TestGetPurchase_Unknown(t *testing.T) {
	rec := payment.NewReconciler(&fakeGateway{}, newTestManager())
	h := NewPurchaseHandler(rec)

	resp := call(t, h.GetPurchase, http.MethodGet, "/v1/purchases/nope",
		"", "alice@example.com", map[string]string{"id": "nope"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown purchase: want 404, got %d", resp.Code)
	}
}
