package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// CatalogFunc fetches the seat set and per-seat prices for a seat map
// from the catalog collaborator.  The ledger snapshots the result once,
// at creation: later catalog edits never touch live reservations.
type CatalogFunc func(ctx context.Context, eventCode string) (map[string]uint32, error)

// RestoreFunc loads the durable reservation records for a seat map so a
// freshly created ledger starts from persisted state rather than empty.
type RestoreFunc func(ctx context.Context, eventCode string) ([]model.Reservation, error)

// LoadHook runs once per ledger, right after it has been populated from
// the durable store.  The lock manager uses it for recovery-on-load:
// expired holds are released immediately and live ones get their expiry
// timers re-armed.
type LoadHook func(l *Ledger, held []model.Reservation)

// Registry owns one Ledger per event code, created lazily on first use
// and kept for the lifetime of the process.  Tearing a ledger down when
// the last viewer leaves would discard the version counters that make
// stale expiry timers harmless, so ledgers are deliberately long-lived.
type Registry struct {
	mu      sync.Mutex
	ledgers map[string]*Ledger

	catalog CatalogFunc
	restore RestoreFunc
	onLoad  LoadHook
	sink    func(l *Ledger) Sink
}

// NewRegistry builds a registry.  catalog is required; restore may be
// nil when no durable store is configured (dev, tests).
func NewRegistry(catalog CatalogFunc, restore RestoreFunc) *Registry {
	return &Registry{
		ledgers: make(map[string]*Ledger),
		catalog: catalog,
		restore: restore,
	}
}

// OnLoad installs the recovery hook.  Must be called before Ledger.
func (g *Registry) OnLoad(h LoadHook) { g.onLoad = h }

// SinkFactory installs a per-ledger event sink constructor, typically
// binding the ledger to a broadcast room.  Must be called before Ledger.
func (g *Registry) SinkFactory(f func(l *Ledger) Sink) { g.sink = f }

// Ledger returns the ledger for eventCode, creating and recovering it
// on first use.  The catalog and store are consulted outside the
// registry lock; if two callers race the first installer wins and the
// duplicate is discarded.
func (g *Registry) Ledger(ctx context.Context, eventCode string) (*Ledger, error) {
	g.mu.Lock()
	if l := g.ledgers[eventCode]; l != nil {
		g.mu.Unlock()
		return l, nil
	}
	g.mu.Unlock()

	prices, err := g.catalog(ctx, eventCode)
	if err != nil {
		return nil, fmt.Errorf("load seat map %q: %w", eventCode, err)
	}
	var persisted []model.Reservation
	if g.restore != nil {
		persisted, err = g.restore(ctx, eventCode)
		if err != nil {
			return nil, fmt.Errorf("restore reservations %q: %w", eventCode, err)
		}
	}

	l := New(eventCode, prices)
	if g.sink != nil {
		l.SetSink(g.sink(l))
	}
	l.Restore(persisted)

	g.mu.Lock()
	if existing := g.ledgers[eventCode]; existing != nil {
		g.mu.Unlock()
		return existing, nil
	}
	g.ledgers[eventCode] = l
	g.mu.Unlock()

	if g.onLoad != nil {
		g.onLoad(l, l.Snapshot())
	}
	return l, nil
}

// Peek returns an already-created ledger without triggering a load.
func (g *Registry) Peek(eventCode string) *Ledger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledgers[eventCode]
}
