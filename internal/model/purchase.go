package model

import "time"

// PurchaseStatus tracks a multi-seat payment as it moves through the
// external gateway.  Created/Pending are live; the rest are terminal.
type PurchaseStatus string

const (
	PurchaseCreated   PurchaseStatus = "CREATED"
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseCompleted PurchaseStatus = "COMPLETED"
	PurchaseFailed    PurchaseStatus = "FAILED"
	PurchaseExpired   PurchaseStatus = "EXPIRED"
)

// Purchase groups the seats of one checkout so their claims advance
// through payment as a unit.  Partial success is never a valid end
// state: if any seat fails payment initiation the whole purchase aborts
// and every seat already marked is released again.
type Purchase struct {
	ID             string         `json:"id"`
	EventCode      string         `json:"event_code"`
	SeatIndexes    []string       `json:"seat_indexes"`
	HolderIdentity string         `json:"holder_identity"`
	PaymentID      string         `json:"payment_id"`
	QRContent      string         `json:"qr_content"`
	AmountCents    uint32         `json:"amount_cents"`
	Status         PurchaseStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// TerminalPurchase reports whether the status admits no further change.
func (s PurchaseStatus) TerminalPurchase() bool {
	switch s {
	case PurchaseCompleted, PurchaseFailed, PurchaseExpired:
		return true
	}
	return false
}
