package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// Applied is the result of a successful transition.  Reservation is a
// copy of the seat's state after the transition (for a release it
// carries StateAvailable and the bumped version).  Changed is false for
// idempotent no-ops: the transition was already in effect, nothing was
// mutated and no event was emitted.
type Applied struct {
	Reservation model.Reservation
	Event       model.SeatEvent
	Changed     bool
}

// Sink receives every applied event in apply order.  The ledger invokes
// it under its emit lock, after the seat lock is released, so a slow
// sink never blocks state mutation but per-seat ordering is preserved.
// The sink must be fast and in-process (a channel send); network
// delivery belongs downstream.
type Sink func(ev model.SeatEvent)

// Ledger is the single serialization point for one seat map.  All
// mutation goes through its methods; each runs under the ledger mutex
// so at most one non-available reservation can ever exist per seat.
// Timestamps are supplied by the caller, which keeps the ledger free of
// a clock and makes transition math testable.
type Ledger struct {
	eventCode string

	mu       sync.Mutex
	prices   map[string]uint32
	seats    map[string]*model.Reservation
	versions map[string]uint64

	emitMu sync.Mutex
	sink   Sink
}

// New constructs a ledger for one event code.  prices is the seat
// catalog snapshot: the set of valid seat indexes and the price each
// seat carries at claim time.
func New(eventCode string, prices map[string]uint32) *Ledger {
	p := make(map[string]uint32, len(prices))
	for k, v := range prices {
		p[k] = v
	}
	return &Ledger{
		eventCode: eventCode,
		prices:    p,
		seats:     make(map[string]*model.Reservation),
		versions:  make(map[string]uint64),
	}
}

// SetSink installs the event sink.  Call before the ledger is shared.
func (l *Ledger) SetSink(s Sink) { l.sink = s }

// EventCode returns the seat map this ledger serializes.
func (l *Ledger) EventCode() string { return l.eventCode }

// Get returns a copy of the seat's reservation, or ok=false when the
// seat is available (no record exists).
func (l *Ledger) Get(seatIndex string) (model.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.seats[seatIndex]; r != nil {
		return *r, true
	}
	return model.Reservation{}, false
}

// Snapshot returns copies of every non-available reservation, sorted by
// seat index.  Used for client hydration and the recovery-on-load pass.
func (l *Ledger) Snapshot() []model.Reservation {
	l.mu.Lock()
	out := make([]model.Reservation, 0, len(l.seats))
	for _, r := range l.seats {
		out = append(out, *r)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SeatIndex < out[j].SeatIndex })
	return out
}

// Restore seeds the ledger from durable records, typically right after
// construction.  Available rows are tombstones: only their version
// counter is kept so a later claim continues the sequence.  Restore
// emits no events.
func (l *Ledger) Restore(rs []model.Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rs {
		r := r
		if r.Version > l.versions[r.SeatIndex] {
			l.versions[r.SeatIndex] = r.Version
		}
		if r.State == model.StateAvailable {
			continue
		}
		r.EventCode = l.eventCode
		l.seats[r.SeatIndex] = &r
	}
}

// Claim transitions an available seat to Locked for the holder,
// snapshotting the catalog price.  A repeated claim by the same holder
// is an idempotent no-op; a claim on a seat held by anyone else returns
// ErrConflict.  First writer wins, losers get the explicit rejection.
func (l *Ledger) Claim(seatIndex, holder string, at time.Time) (Applied, error) {
	l.mu.Lock()
	price, known := l.prices[seatIndex]
	if !known {
		l.mu.Unlock()
		return Applied{}, ErrNotFound
	}
	if cur := l.seats[seatIndex]; cur != nil {
		res := *cur
		l.mu.Unlock()
		if res.State == model.StateLocked && res.HolderIdentity == holder {
			return Applied{Reservation: res}, nil
		}
		return Applied{}, ErrConflict
	}
	l.versions[seatIndex]++
	r := &model.Reservation{
		EventCode:      l.eventCode,
		SeatIndex:      seatIndex,
		HolderIdentity: holder,
		ClaimedAt:      at,
		PriceCents:     price,
		State:          model.StateLocked,
		Version:        l.versions[seatIndex],
	}
	l.seats[seatIndex] = r
	return l.emit(*r, at), nil
}

// Release reverts a seat to available.  The requester must be the
// current holder unless elevated (the expiry scheduler or a staff
// override), which may release unconditionally.  Releasing an already
// available seat succeeds as a no-op so duplicate or late release
// messages are harmless.  Sold seats are terminal.
func (l *Ledger) Release(seatIndex, requester string, elevated bool, at time.Time) (Applied, error) {
	l.mu.Lock()
	cur := l.seats[seatIndex]
	if cur == nil {
		ap := Applied{Reservation: l.availableRes(seatIndex)}
		l.mu.Unlock()
		return ap, nil
	}
	if cur.State == model.StateSold {
		l.mu.Unlock()
		return Applied{}, ErrTerminal
	}
	if !elevated {
		// Staff holds have no end-user holder; only staff take them back.
		if cur.State == model.StateStaffHeld || cur.HolderIdentity != requester {
			l.mu.Unlock()
			return Applied{}, ErrUnauthorized
		}
	}
	return l.removeLocked(seatIndex, at), nil
}

// Expire releases the seat only if it is still an unpaid hold at the
// given version.  The expiry scheduler calls this on timer fire; a
// version mismatch means the reservation the timer was armed for is
// gone and the fire is a stale no-op.
func (l *Ledger) Expire(seatIndex string, version uint64, at time.Time) (Applied, bool) {
	l.mu.Lock()
	cur := l.seats[seatIndex]
	if cur == nil || cur.Version != version || !cur.State.Holding() {
		l.mu.Unlock()
		return Applied{}, false
	}
	return l.removeLocked(seatIndex, at), true
}

// MarkPaymentInitiated moves a Locked seat held by holder to
// PendingPayment, recording the payment start time.  The expiry
// deadline is re-armed from this timestamp by the caller.  Repeating
// the call while already pending is an idempotent no-op.
func (l *Ledger) MarkPaymentInitiated(seatIndex, holder string, at time.Time) (Applied, error) {
	l.mu.Lock()
	if _, known := l.prices[seatIndex]; !known {
		l.mu.Unlock()
		return Applied{}, ErrNotFound
	}
	cur := l.seats[seatIndex]
	if cur == nil {
		// The claim expired (or was released) between selection and
		// checkout.  Contention, not corruption.
		l.mu.Unlock()
		return Applied{}, ErrConflict
	}
	if cur.State == model.StatePendingPayment && cur.HolderIdentity == holder {
		res := *cur
		l.mu.Unlock()
		return Applied{Reservation: res}, nil
	}
	if cur.State != model.StateLocked {
		l.mu.Unlock()
		return Applied{}, ErrConflict
	}
	if cur.HolderIdentity != holder {
		l.mu.Unlock()
		return Applied{}, ErrUnauthorized
	}
	ts := at
	cur.State = model.StatePendingPayment
	cur.PaymentInitiatedAt = &ts
	l.versions[seatIndex]++
	cur.Version = l.versions[seatIndex]
	return l.emit(*cur, at), nil
}

// FinalizeSold marks a PendingPayment seat as Sold.  Irreversible.
// Finalizing an already sold seat is an idempotent no-op so redundant
// payment polls are safe.
func (l *Ledger) FinalizeSold(seatIndex string, at time.Time) (Applied, error) {
	l.mu.Lock()
	cur := l.seats[seatIndex]
	if cur == nil {
		l.mu.Unlock()
		return Applied{}, ErrConflict
	}
	if cur.State == model.StateSold {
		res := *cur
		l.mu.Unlock()
		return Applied{Reservation: res}, nil
	}
	if cur.State != model.StatePendingPayment {
		l.mu.Unlock()
		return Applied{}, ErrConflict
	}
	cur.State = model.StateSold
	l.versions[seatIndex]++
	cur.Version = l.versions[seatIndex]
	return l.emit(*cur, at), nil
}

// StaffHold blocks an available seat on behalf of event-owner tooling.
// Staff holds carry the catalog price but no expiry deadline.
func (l *Ledger) StaffHold(seatIndex, staffIdentity string, at time.Time) (Applied, error) {
	l.mu.Lock()
	price, known := l.prices[seatIndex]
	if !known {
		l.mu.Unlock()
		return Applied{}, ErrNotFound
	}
	if cur := l.seats[seatIndex]; cur != nil {
		res := *cur
		l.mu.Unlock()
		if res.State == model.StateStaffHeld && res.HolderIdentity == staffIdentity {
			return Applied{Reservation: res}, nil
		}
		return Applied{}, ErrConflict
	}
	l.versions[seatIndex]++
	r := &model.Reservation{
		EventCode:      l.eventCode,
		SeatIndex:      seatIndex,
		HolderIdentity: staffIdentity,
		ClaimedAt:      at,
		PriceCents:     price,
		State:          model.StateStaffHeld,
		Version:        l.versions[seatIndex],
	}
	l.seats[seatIndex] = r
	return l.emit(*r, at), nil
}

// removeLocked deletes the seat's reservation and emits the available
// event.  Caller must hold l.mu; the lock is released inside.
func (l *Ledger) removeLocked(seatIndex string, at time.Time) Applied {
	delete(l.seats, seatIndex)
	l.versions[seatIndex]++
	res := l.availableRes(seatIndex)
	return l.emit(res, at)
}

// availableRes builds the post-release record.  Caller must hold l.mu.
func (l *Ledger) availableRes(seatIndex string) model.Reservation {
	return model.Reservation{
		EventCode: l.eventCode,
		SeatIndex: seatIndex,
		State:     model.StateAvailable,
		Version:   l.versions[seatIndex],
	}
}

// emit releases the seat lock and forwards the transition's event to
// the sink under the emit lock.  Taking emitMu before dropping mu means
// two transitions cannot swap places between apply and delivery, which
// is what gives subscribers per-seat ordering.
func (l *Ledger) emit(res model.Reservation, at time.Time) Applied {
	ev := model.SeatEvent{
		EventCode:      l.eventCode,
		SeatIndex:      res.SeatIndex,
		HolderIdentity: res.HolderIdentity,
		IsLocked:       res.State != model.StateAvailable,
		State:          res.State,
		Version:        res.Version,
		OccurredAt:     at,
	}
	l.emitMu.Lock()
	l.mu.Unlock()
	if l.sink != nil {
		l.sink(ev)
	}
	l.emitMu.Unlock()
	return Applied{Reservation: res, Event: ev, Changed: true}
}
