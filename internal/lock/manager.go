// Package lock implements the rules layer over the seat ledger: who may
// claim, release and advance a seat, what deadline each transition
// carries, and which side effects follow an applied transition
// (durable write, broadcast, expiry timer, broker event).  Side effects
// always run after the seat lock is released.
package lock

import (
	"context"
	"log"
	"time"

	"github.com/eventdesk/seat-reservation/internal/expiry"
	"github.com/eventdesk/seat-reservation/internal/ledger"
	"github.com/eventdesk/seat-reservation/internal/model"
	"github.com/eventdesk/seat-reservation/internal/queue"
)

// SchedulerIdentity is the elevated identity the expiry scheduler uses
// when it releases a hold whose window elapsed.
const SchedulerIdentity = "system:expiry-scheduler"

// Broadcaster delivers applied events to every viewer of a seat map.
type Broadcaster interface {
	Publish(eventCode string, ev model.SeatEvent)
}

// Store is the durable side of the ledger.  Upsert is version-guarded:
// an older write never overwrites a newer row, so side effects racing
// across request goroutines cannot corrupt the persisted state.
type Store interface {
	Upsert(ctx context.Context, r model.Reservation) error
	ListByEvent(ctx context.Context, eventCode string) ([]model.Reservation, error)
}

// Timers is the expiry scheduler surface the manager drives.
type Timers interface {
	Arm(k expiry.Key, deadline time.Time)
	Cancel(eventCode, seatIndex string)
	Recover(holdWindow time.Duration, rs []model.Reservation)
}

// EventPublisher pushes terminal lifecycle events to the broker.
// Publish failures are logged and ignored; the broker is an audit and
// notification feed, not part of the correctness path.
type EventPublisher interface {
	PublishSeatSold(ctx context.Context, ev queue.SeatSoldEvent) error
	PublishSeatReleased(ctx context.Context, ev queue.SeatReleasedEvent) error
}

// Manager enforces claim semantics per seat map.  All dependencies
// except the catalog may be nil, in which case the corresponding side
// effect is skipped – the same graceful degradation the Redis layers
// use.
type Manager struct {
	reg    *ledger.Registry
	hub    Broadcaster
	store  Store
	timers Timers
	events EventPublisher
	window time.Duration
	now    func() time.Time
}

// NewManager wires the registry, recovery hook and event sink.  catalog
// feeds seat sets and prices; restore is derived from store when
// present.  window is the hold window applied to every unpaid claim.
func NewManager(catalog ledger.CatalogFunc, hub Broadcaster, store Store, timers Timers, events EventPublisher, window time.Duration) *Manager {
	m := &Manager{
		hub:    hub,
		store:  store,
		timers: timers,
		events: events,
		window: window,
		now:    time.Now,
	}
	var restore ledger.RestoreFunc
	if store != nil {
		restore = store.ListByEvent
	}
	m.reg = ledger.NewRegistry(catalog, restore)
	if hub != nil {
		m.reg.SinkFactory(func(l *ledger.Ledger) ledger.Sink {
			code := l.EventCode()
			return func(ev model.SeatEvent) { hub.Publish(code, ev) }
		})
	}
	m.reg.OnLoad(func(_ *ledger.Ledger, held []model.Reservation) {
		if m.timers != nil {
			m.timers.Recover(m.window, held)
		}
	})
	return m
}

// SetNow overrides the clock; test support.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// Window returns the configured hold window.
func (m *Manager) Window() time.Duration { return m.window }

// Claim takes an exclusive, time-bounded hold on one seat.  Exactly one
// of two concurrent claimants succeeds; the loser gets ErrConflict and
// learns the seat's new state from the broadcast it is subscribed to.
func (m *Manager) Claim(ctx context.Context, eventCode, seatIndex, holder string) (model.Reservation, error) {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return model.Reservation{}, err
	}
	ap, err := l.Claim(seatIndex, holder, m.now())
	if err != nil {
		return model.Reservation{}, err
	}
	if ap.Changed {
		m.persist(ctx, ap.Reservation)
		m.armHold(ap.Reservation)
	}
	return ap.Reservation, nil
}

// Release reverts a seat to available on behalf of requester.  elevated
// callers (staff override, the payment reconciler, the scheduler) skip
// the holder check.  reason feeds the broker audit event.
func (m *Manager) Release(ctx context.Context, eventCode, seatIndex, requester string, elevated bool, reason string) error {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return err
	}
	prev, _ := l.Get(seatIndex)
	ap, err := l.Release(seatIndex, requester, elevated, m.now())
	if err != nil {
		return err
	}
	if ap.Changed {
		m.persist(ctx, ap.Reservation)
		if m.timers != nil {
			m.timers.Cancel(eventCode, seatIndex)
		}
		m.publishReleased(prev, reason)
	}
	return nil
}

// MarkPaymentInitiated pins a locked seat into the payment flow and
// re-arms its deadline from the payment start, not the original claim.
func (m *Manager) MarkPaymentInitiated(ctx context.Context, eventCode, seatIndex, holder string) (model.Reservation, error) {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return model.Reservation{}, err
	}
	ap, err := l.MarkPaymentInitiated(seatIndex, holder, m.now())
	if err != nil {
		return model.Reservation{}, err
	}
	if ap.Changed {
		m.persist(ctx, ap.Reservation)
		m.armHold(ap.Reservation)
	}
	return ap.Reservation, nil
}

// FinalizeSold marks a pending-payment seat as sold and cancels its
// expiry timer.  Irreversible; redundant calls are no-ops.
func (m *Manager) FinalizeSold(ctx context.Context, eventCode, seatIndex string) error {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return err
	}
	ap, err := l.FinalizeSold(seatIndex, m.now())
	if err != nil {
		return err
	}
	if ap.Changed {
		m.persist(ctx, ap.Reservation)
		if m.timers != nil {
			m.timers.Cancel(eventCode, seatIndex)
		}
		m.publishSold(ap.Reservation)
	}
	return nil
}

// StaffHold blocks a seat for event-owner tooling.  No expiry timer is
// armed: staff holds last until a staff release.
func (m *Manager) StaffHold(ctx context.Context, eventCode, seatIndex, staffIdentity string) (model.Reservation, error) {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return model.Reservation{}, err
	}
	ap, err := l.StaffHold(seatIndex, staffIdentity, m.now())
	if err != nil {
		return model.Reservation{}, err
	}
	if ap.Changed {
		m.persist(ctx, ap.Reservation)
	}
	return ap.Reservation, nil
}

// ExpireRelease is the scheduler's callback.  It re-checks the current
// reservation at the recorded version before acting, so a stale fire
// after the seat moved on is a harmless no-op.
func (m *Manager) ExpireRelease(eventCode, seatIndex string, version uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		log.Printf("expiry: load ledger %s: %v", eventCode, err)
		return
	}
	prev, _ := l.Get(seatIndex)
	ap, ok := l.Expire(seatIndex, version, m.now())
	if !ok {
		return
	}
	m.persist(ctx, ap.Reservation)
	m.publishReleased(prev, "expired")
}

// GetReservation returns the current reservation for one seat.
func (m *Manager) GetReservation(ctx context.Context, eventCode, seatIndex string) (model.Reservation, bool, error) {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return model.Reservation{}, false, err
	}
	r, ok := l.Get(seatIndex)
	return r, ok, nil
}

// Snapshot returns every non-available reservation on the map, loading
// (and recovering) the ledger if this is its first use.
func (m *Manager) Snapshot(ctx context.Context, eventCode string) ([]model.Reservation, error) {
	l, err := m.reg.Ledger(ctx, eventCode)
	if err != nil {
		return nil, err
	}
	return l.Snapshot(), nil
}

func (m *Manager) armHold(r model.Reservation) {
	if m.timers == nil {
		return
	}
	deadline, ok := r.Deadline(m.window)
	if !ok {
		return
	}
	m.timers.Arm(expiry.Key{EventCode: r.EventCode, SeatIndex: r.SeatIndex, Version: r.Version}, deadline)
}

func (m *Manager) persist(ctx context.Context, r model.Reservation) {
	if m.store == nil {
		return
	}
	if err := m.store.Upsert(ctx, r); err != nil {
		log.Printf("ledger store: upsert %s/%s v%d: %v", r.EventCode, r.SeatIndex, r.Version, err)
	}
}

func (m *Manager) publishSold(r model.Reservation) {
	if m.events == nil {
		return
	}
	ev := queue.SeatSoldEvent{
		EventCode:      r.EventCode,
		SeatIndex:      r.SeatIndex,
		HolderIdentity: r.HolderIdentity,
		PriceCents:     r.PriceCents,
		SoldAt:         m.now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.events.PublishSeatSold(ctx, ev); err != nil {
			log.Printf("queue: publish seat sold %s/%s: %v", ev.EventCode, ev.SeatIndex, err)
		}
	}()
}

func (m *Manager) publishReleased(prev model.Reservation, reason string) {
	if m.events == nil || prev.SeatIndex == "" {
		return
	}
	ev := queue.SeatReleasedEvent{
		EventCode:  prev.EventCode,
		SeatIndex:  prev.SeatIndex,
		PrevHolder: prev.HolderIdentity,
		Reason:     reason,
		ReleasedAt: m.now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.events.PublishSeatReleased(ctx, ev); err != nil {
			log.Printf("queue: publish seat released %s/%s: %v", ev.EventCode, ev.SeatIndex, err)
		}
	}()
}
