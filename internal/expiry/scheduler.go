// Package expiry drives the automatic release of unpaid seat holds.  A
// timer is armed per seat, keyed by the reservation version it was
// armed for; when the reservation moves on, the timer is canceled, and
// even a fire that slips through is discarded by the version check
// before any release happens.
package expiry

import (
	"sync"
	"time"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// Key identifies the reservation a timer belongs to.  Version makes a
// stale fire self-invalidating: by the time an old timer goes off, the
// seat's version has moved and the release callback refuses to act.
type Key struct {
	EventCode string
	SeatIndex string
	Version   uint64
}

// ReleaseFunc releases an expired hold with the scheduler's elevated
// identity.  Implementations must re-check the current reservation
// against the version before acting.
type ReleaseFunc func(eventCode, seatIndex string, version uint64)

type seatKey struct {
	eventCode string
	seatIndex string
}

type armed struct {
	version uint64
	timer   *time.Timer
}

// Scheduler keeps at most one live timer per seat.  Arming a seat that
// already has a timer replaces it; transitions that end a hold cancel
// it.  Both directions are belt-and-suspenders with the version check.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[seatKey]*armed
	release ReleaseFunc
	now     func() time.Time
	stopped bool
}

// NewScheduler constructs a scheduler with the real clock.  Wire the
// release callback with OnExpire before arming anything.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[seatKey]*armed),
		now:    time.Now,
	}
}

// OnExpire installs the release callback invoked when a hold's window
// elapses.
func (s *Scheduler) OnExpire(fn ReleaseFunc) { s.release = fn }

// SetNow overrides the clock; test support.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// Arm schedules a release attempt for the deadline.  A deadline already
// in the past fires immediately (on a goroutine, like a timer would).
func (s *Scheduler) Arm(k Key, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	sk := seatKey{k.EventCode, k.SeatIndex}
	if prev := s.timers[sk]; prev != nil {
		prev.timer.Stop()
	}
	d := deadline.Sub(s.now())
	if d < 0 {
		d = 0
	}
	s.timers[sk] = &armed{
		version: k.Version,
		timer:   time.AfterFunc(d, func() { s.fire(k) }),
	}
}

// Cancel drops the seat's timer, if any.  Called when a reservation
// leaves the state that armed it (sale finalized, explicit release).
func (s *Scheduler) Cancel(eventCode, seatIndex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := seatKey{eventCode, seatIndex}
	if a := s.timers[sk]; a != nil {
		a.timer.Stop()
		delete(s.timers, sk)
	}
}

// Recover reconciles expiry state for reservations discovered on a
// snapshot load: holds whose deadline already passed are released right
// away, live ones get a timer for the remainder.  This is what makes
// expiry correct across restarts and reconnects rather than relying
// solely on in-memory timers.
func (s *Scheduler) Recover(holdWindow time.Duration, rs []model.Reservation) {
	now := s.now()
	for _, r := range rs {
		if !r.State.Holding() {
			continue
		}
		deadline, ok := r.Deadline(holdWindow)
		if !ok {
			continue
		}
		if !deadline.After(now) {
			if s.release != nil {
				s.release(r.EventCode, r.SeatIndex, r.Version)
			}
			continue
		}
		s.Arm(Key{EventCode: r.EventCode, SeatIndex: r.SeatIndex, Version: r.Version}, deadline)
	}
}

// Stop cancels every timer.  Used on shutdown and in tests.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for sk, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, sk)
	}
}

// fire runs on the timer goroutine.  The entry must still be present at
// the same version, otherwise the fire is stale and ignored.
func (s *Scheduler) fire(k Key) {
	s.mu.Lock()
	sk := seatKey{k.EventCode, k.SeatIndex}
	a := s.timers[sk]
	if a == nil || a.version != k.Version || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, sk)
	release := s.release
	s.mu.Unlock()
	if release != nil {
		release(k.EventCode, k.SeatIndex, k.Version)
	}
}
