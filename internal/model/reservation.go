package model

import "time"

// SeatState enumerates the reservation lifecycle of a single seat on a
// seat map.  Available means no reservation record exists for the seat.
// Sold is terminal – no further transition is permitted once a payment
// has been confirmed.  StaffHeld seats are blocked by event-owner
// tooling and never expire on their own.
type SeatState string

const (
	StateAvailable      SeatState = "AVAILABLE"
	StateLocked         SeatState = "LOCKED"
	StatePendingPayment SeatState = "PENDING_PAYMENT"
	StateSold           SeatState = "SOLD"
	StateStaffHeld      SeatState = "STAFF_HELD"
)

// Terminal reports whether the state admits no further transitions.
func (s SeatState) Terminal() bool { return s == StateSold }

// Holding reports whether the state is an active, unpaid hold subject to
// the expiry window.  StaffHeld is deliberately excluded: staff holds
// have no deadline and are released only by an explicit staff action.
func (s SeatState) Holding() bool {
	return s == StateLocked || s == StatePendingPayment
}

// Reservation is the authoritative record for one claimed seat.  At most
// one non-available reservation exists per seat index at any time.
//
// Fields:
//  EventCode          – seat map this reservation belongs to.
//  SeatIndex          – stable seat key, unique within the map.
//  HolderIdentity     – opaque identity of the claiming session (email).
//  ClaimedAt          – when the lock was acquired.
//  PaymentInitiatedAt – set once the holder starts a payment; nil before.
//  PriceCents         – price snapshotted at claim time.  It never
//                       changes afterwards, even if the catalog price is
//                       edited while the claim is live.
//  State              – current SeatState.
//  Version            – monotonic per-seat counter, bumped on every
//                       applied transition.  Expiry timers are keyed by
//                       it so a stale fire is self-invalidating.
type Reservation struct {
	EventCode          string     `json:"event_code"`
	SeatIndex          string     `json:"seat_index"`
	HolderIdentity     string     `json:"holder_identity"`
	ClaimedAt          time.Time  `json:"claimed_at"`
	PaymentInitiatedAt *time.Time `json:"payment_initiated_at,omitempty"`
	PriceCents         uint32     `json:"price_cents"`
	State              SeatState  `json:"state"`
	Version            uint64     `json:"version"`
}

// Deadline computes the instant at which the hold expires for the given
// hold window.  Initiating a payment re-arms the deadline from
// PaymentInitiatedAt; it does not stack on the claim deadline.  States
// outside the hold window report ok=false.
func (r *Reservation) Deadline(holdWindow time.Duration) (time.Time, bool) {
	switch r.State {
	case StateLocked:
		return r.ClaimedAt.Add(holdWindow), true
	case StatePendingPayment:
		if r.PaymentInitiatedAt != nil {
			return r.PaymentInitiatedAt.Add(holdWindow), true
		}
		return r.ClaimedAt.Add(holdWindow), true
	}
	return time.Time{}, false
}
