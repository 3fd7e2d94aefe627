package model

import "time"

// SeatEvent is the broadcast payload emitted for every applied ledger
// transition.  All viewers of the same seat map receive it so their
// local rendering can converge without polling.  Delivery is
// at-least-once; subscribers treat a duplicate (same seat, same version)
// as a no-op.
//
// Fields:
//  EventCode      – seat map the change belongs to.
//  SeatIndex      – seat whose state changed.
//  HolderIdentity – current holder, empty when the seat went back to
//                   available.
//  IsLocked       – true while the seat is unavailable to other buyers.
//  State          – resulting SeatState after the transition.
//  Version        – ledger version of the seat after the transition.
//  OccurredAt     – server time the ledger applied the transition.
type SeatEvent struct {
	EventCode      string    `json:"event_code"`
	SeatIndex      string    `json:"seat_index"`
	HolderIdentity string    `json:"holder_identity,omitempty"`
	IsLocked       bool      `json:"is_locked"`
	State          SeatState `json:"state"`
	Version        uint64    `json:"version"`
	OccurredAt     time.Time `json:"occurred_at"`
}
