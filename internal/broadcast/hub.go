// Package broadcast fans seat ledger events out to every session
// currently viewing a seat map.  Each event code gets a Room running
// its own goroutine with a typed message inbox; publishing and
// subscriber management are serialized by that loop, so events reach
// every subscriber in the order the ledger applied them.
package broadcast

import (
	"context"
	"sync"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// Msg is a message handled by a Room's loop.
type Msg interface{ isRoomMsg() }

// Join registers a viewing session.  Outbox is where the session wants
// its events delivered; it should be buffered.
type Join struct {
	SessionID string
	Outbox    chan model.SeatEvent
}

func (Join) isRoomMsg() {}

// Leave removes a session.  Its outbox is closed.
type Leave struct{ SessionID string }

func (Leave) isRoomMsg() {}

// Publish fans an event out to every subscriber.
type Publish struct{ Event model.SeatEvent }

func (Publish) isRoomMsg() {}

// Count replies with the number of live subscribers; test support.
type Count struct{ Reply chan int }

func (Count) isRoomMsg() {}

// Shutdown closes every subscriber outbox and stops the loop.
type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// Room is the fan-out actor for one event code.
type Room struct {
	inbox  chan Msg
	subs   map[string]chan model.SeatEvent
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoom starts a room under the parent context.
func NewRoom(parent context.Context) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:  make(chan Msg, 256),
		subs:   make(map[string]chan model.SeatEvent),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

// Inbox exposes the room's message channel to the gateway and tests.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.subs[msg.SessionID] = msg.Outbox

			case Leave:
				if ch, ok := r.subs[msg.SessionID]; ok {
					close(ch)
					delete(r.subs, msg.SessionID)
				}

			case Publish:
				r.fanout(msg.Event)

			case Count:
				msg.Reply <- len(r.subs)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// fanout delivers to every subscriber without blocking the loop.  A
// subscriber whose buffer is full is dropped; its reconnect-triggered
// snapshot is the recovery mechanism, not redelivery.
func (r *Room) fanout(ev model.SeatEvent) {
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(r.subs, id)
		}
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.cancel()
}

// Hub owns one Room per event code.  Rooms are created on first use
// and, like ledgers, kept for the lifetime of the process.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
	ctx   context.Context
}

// NewHub constructs a hub whose rooms stop when parent is canceled.
func NewHub(parent context.Context) *Hub {
	return &Hub{rooms: make(map[string]*Room), ctx: parent}
}

// Room returns the room for eventCode, creating it if needed.
func (h *Hub) Room(eventCode string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[eventCode]; r != nil {
		return r
	}
	r := NewRoom(h.ctx)
	h.rooms[eventCode] = r
	return r
}

// Publish forwards a ledger event to the event's room.  The room inbox
// send also serves as the ledger's sink, so it must never block: a
// saturated inbox, or a room whose loop already stopped, drops the
// event instead of stalling the emit path.  Viewers resync from the
// snapshot, the same recovery path a dropped slow subscriber uses.
func (h *Hub) Publish(eventCode string, ev model.SeatEvent) {
	select {
	case h.Room(eventCode).inbox <- Publish{Event: ev}:
	default:
	}
}
