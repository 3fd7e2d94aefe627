// Package payment bridges the external payment gateway lifecycle into
// seat ledger transitions.  The gateway itself (QR generation, bank
// settlement) is out of process; only its status query and the payment
// initiation timestamp matter here.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Status is the gateway's view of one payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Intent is the gateway's answer to a payment creation: the id to poll,
// the QR content the client renders and the gateway-side expiration.
type Intent struct {
	PaymentID string    `json:"payment_id"`
	QRContent string    `json:"qr_content"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway is the boundary to the payment provider.
type Gateway interface {
	CreatePayment(ctx context.Context, eventCode string, seatIndexes []string, amountCents uint32) (Intent, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (Status, error)
}

// HTTPGateway talks to the payment service over REST.
type HTTPGateway struct {
	base string
	hc   *http.Client
}

// NewHTTPGateway builds a gateway client for the given base URL.
func NewHTTPGateway(base string) *HTTPGateway {
	return &HTTPGateway{
		base: base,
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// CreatePayment calls POST {base}/v1/payments.
func (g *HTTPGateway) CreatePayment(ctx context.Context, eventCode string, seatIndexes []string, amountCents uint32) (Intent, error) {
	body, err := json.Marshal(map[string]any{
		"event_code":   eventCode,
		"seat_indexes": seatIndexes,
		"amount_cents": amountCents,
	})
	if err != nil {
		return Intent{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return Intent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.hc.Do(req)
	if err != nil {
		return Intent{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Intent{}, fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
	}
	var in Intent
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return Intent{}, fmt.Errorf("payment gateway: decode intent: %w", err)
	}
	return in, nil
}

// GetPaymentStatus calls GET {base}/v1/payments/{id}.
func (g *HTTPGateway) GetPaymentStatus(ctx context.Context, paymentID string) (Status, error) {
	u := g.base + "/v1/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("payment gateway: decode status: %w", err)
	}
	return out.Status, nil
}
