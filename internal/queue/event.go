// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatSoldEvent is published when a payment is confirmed and a seat
// becomes sold.  It carries enough for downstream consumers to log,
// notify, or feed analytics without querying the primary database.
type SeatSoldEvent struct {
	EventCode      string `json:"event_code"`
	SeatIndex      string `json:"seat_index"`
	HolderIdentity string `json:"holder_identity"`
	PriceCents     uint32 `json:"price_cents"`
	SoldAt         string `json:"sold_at"`
}

// SeatReleasedEvent is published when a hold is released back to
// available, whether explicitly, by payment failure, or by expiry.
type SeatReleasedEvent struct {
	EventCode  string `json:"event_code"`
	SeatIndex  string `json:"seat_index"`
	PrevHolder string `json:"prev_holder"`
	Reason     string `json:"reason"` // "released", "expired", "payment_failed"
	ReleasedAt string `json:"released_at"`
}
