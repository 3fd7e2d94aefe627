package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// ReconcilerIdentity is the elevated identity used for compensating and
// failure-path releases.
const ReconcilerIdentity = "system:payment-reconciler"

// ErrPaymentDesync signals that a purchase was partially marked before
// a payment-initiation failure and the already-marked seats were
// released again.  It indicates contention, not corruption.
var ErrPaymentDesync = errors.New("purchase aborted, partial holds released")

// ErrPurchaseNotFound is returned when polling an unknown purchase id.
var ErrPurchaseNotFound = errors.New("purchase not found")

// Locker is the slice of the lock manager the reconciler drives.
type Locker interface {
	GetReservation(ctx context.Context, eventCode, seatIndex string) (model.Reservation, bool, error)
	MarkPaymentInitiated(ctx context.Context, eventCode, seatIndex, holder string) (model.Reservation, error)
	FinalizeSold(ctx context.Context, eventCode, seatIndex string) error
	Release(ctx context.Context, eventCode, seatIndex, requester string, elevated bool, reason string) error
}

// purchaseRetention is how long a terminal purchase stays queryable.
// After that it is pruned so the record map stays bounded on a
// long-lived process; the seats themselves are already settled.
const purchaseRetention = time.Hour

// Reconciler advances whole purchases – one or more seats bought
// together – through the external payment lifecycle.  Every ledger
// operation it performs is idempotent, so polling the same purchase
// repeatedly, or racing the expiry scheduler, is safe.
type Reconciler struct {
	gw     Gateway
	locker Locker
	now    func() time.Time

	mu        sync.Mutex
	purchases map[string]*model.Purchase
	settled   map[string]time.Time // purchase id -> when it went terminal
}

// NewReconciler builds a reconciler over the gateway and lock manager.
func NewReconciler(gw Gateway, locker Locker) *Reconciler {
	return &Reconciler{
		gw:        gw,
		locker:    locker,
		now:       time.Now,
		purchases: make(map[string]*model.Purchase),
		settled:   make(map[string]time.Time),
	}
}

// SetNow overrides the clock; test support.
func (r *Reconciler) SetNow(now func() time.Time) { r.now = now }

// Begin starts payment for the holder's locked seats.  Every seat is
// marked payment-initiated (pinning its deadline to the payment start);
// if any seat fails – typically claimed by someone else between
// selection and checkout – the seats already marked in this attempt are
// released again and ErrPaymentDesync is returned.  Partial success is
// not an acceptable end state for a multi-seat purchase.
func (r *Reconciler) Begin(ctx context.Context, eventCode string, seatIndexes []string, holder string) (model.Purchase, error) {
	seats := dedupe(seatIndexes)
	if len(seats) == 0 {
		return model.Purchase{}, fmt.Errorf("purchase needs at least one seat")
	}

	// Price the purchase from the claim-time snapshots, verifying the
	// caller actually holds every seat before touching any state.
	var amount uint32
	for _, s := range seats {
		res, ok, err := r.locker.GetReservation(ctx, eventCode, s)
		if err != nil {
			return model.Purchase{}, err
		}
		if !ok || res.HolderIdentity != holder || !res.State.Holding() {
			return model.Purchase{}, fmt.Errorf("seat %s: %w", s, errNotHeld)
		}
		amount += res.PriceCents
	}

	marked := make([]string, 0, len(seats))
	for _, s := range seats {
		if _, err := r.locker.MarkPaymentInitiated(ctx, eventCode, s, holder); err != nil {
			r.compensate(ctx, eventCode, marked)
			log.Printf("payment: desync on %s/%s (%v); released %d seat(s)", eventCode, s, err, len(marked))
			return model.Purchase{}, fmt.Errorf("seat %s: %w", s, ErrPaymentDesync)
		}
		marked = append(marked, s)
	}

	intent, err := r.gw.CreatePayment(ctx, eventCode, seats, amount)
	if err != nil {
		// No payment exists, so nothing will ever finalize these
		// seats.  Release rather than leave them pinned until expiry.
		r.compensate(ctx, eventCode, marked)
		return model.Purchase{}, fmt.Errorf("create payment: %w", err)
	}

	p := &model.Purchase{
		ID:             uuid.NewString(),
		EventCode:      eventCode,
		SeatIndexes:    seats,
		HolderIdentity: holder,
		PaymentID:      intent.PaymentID,
		QRContent:      intent.QRContent,
		AmountCents:    amount,
		Status:         model.PurchasePending,
		CreatedAt:      r.now(),
		ExpiresAt:      intent.ExpiresAt,
	}
	r.mu.Lock()
	r.pruneLocked()
	r.purchases[p.ID] = p
	r.mu.Unlock()
	return *p, nil
}

// Sync polls the gateway for the purchase's payment and applies the
// result to the ledger.  Completed finalizes every seat; Failed and
// Cancelled release them (the expiry scheduler would get there anyway,
// but an explicit release shortens the window a seat sits falsely
// unavailable).  Terminal purchases return their recorded outcome
// without touching anything.
func (r *Reconciler) Sync(ctx context.Context, purchaseID string) (model.Purchase, error) {
	r.mu.Lock()
	r.pruneLocked()
	p := r.purchases[purchaseID]
	if p == nil {
		r.mu.Unlock()
		return model.Purchase{}, ErrPurchaseNotFound
	}
	snapshot := *p
	r.mu.Unlock()
	if snapshot.Status.TerminalPurchase() {
		return snapshot, nil
	}

	status, err := r.gw.GetPaymentStatus(ctx, p.PaymentID)
	if err != nil {
		return model.Purchase{}, fmt.Errorf("payment status %s: %w", p.PaymentID, err)
	}

	switch status {
	case StatusCompleted:
		for _, s := range p.SeatIndexes {
			if err := r.locker.FinalizeSold(ctx, p.EventCode, s); err != nil {
				return model.Purchase{}, fmt.Errorf("finalize seat %s: %w", s, err)
			}
		}
		r.setStatus(p, model.PurchaseCompleted)

	case StatusFailed, StatusCancelled:
		r.compensate(ctx, p.EventCode, p.SeatIndexes)
		r.setStatus(p, model.PurchaseFailed)

	default:
		if !p.ExpiresAt.IsZero() && r.now().After(p.ExpiresAt) {
			r.compensate(ctx, p.EventCode, p.SeatIndexes)
			r.setStatus(p, model.PurchaseExpired)
		}
	}
	r.mu.Lock()
	out := *p
	r.mu.Unlock()
	return out, nil
}

// Purchase returns the recorded purchase without polling the gateway.
func (r *Reconciler) Purchase(purchaseID string) (model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.purchases[purchaseID]; p != nil {
		return *p, nil
	}
	return model.Purchase{}, ErrPurchaseNotFound
}

var errNotHeld = errors.New("seat is not locked by the caller")

// compensate releases each seat with the reconciler's elevated
// identity, logging rather than failing: release is idempotent and a
// seat that already moved on is fine.
func (r *Reconciler) compensate(ctx context.Context, eventCode string, seats []string) {
	for _, s := range seats {
		if err := r.locker.Release(ctx, eventCode, s, ReconcilerIdentity, true, "payment_failed"); err != nil {
			log.Printf("payment: compensating release %s/%s: %v", eventCode, s, err)
		}
	}
}

func (r *Reconciler) setStatus(p *model.Purchase, st model.PurchaseStatus) {
	r.mu.Lock()
	p.Status = st
	if st.TerminalPurchase() {
		r.settled[p.ID] = r.now()
	}
	r.mu.Unlock()
}

// pruneLocked drops terminal purchases past retention.  Caller holds
// r.mu.
func (r *Reconciler) pruneLocked() {
	cutoff := r.now().Add(-purchaseRetention)
	for id, at := range r.settled {
		if at.Before(cutoff) {
			delete(r.purchases, id)
			delete(r.settled, id)
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
