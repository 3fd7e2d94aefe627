// Package ledger holds the authoritative in-memory reservation state for
// every seat map the service knows about.  These sentinel errors are the
// full failure taxonomy of a seat transition; higher layers such as the
// websocket gateway and the HTTP handlers translate them into status
// codes with errors.Is.
package ledger

import "errors"

// ErrConflict is returned when a transition loses a race: the seat is
// already held by someone else, or its state no longer admits the
// requested step.  Expected under contention and surfaced to the user
// as "seat no longer available".
var ErrConflict = errors.New("seat conflict")

// ErrNotFound is returned when the seat index does not exist on the
// map.  It indicates a client or data bug and is not retried.
var ErrNotFound = errors.New("seat not found")

// ErrUnauthorized is returned when a release or payment step is
// attempted by a caller who is neither the holder nor an elevated
// identity.  No state change occurs.
var ErrUnauthorized = errors.New("not the seat holder")

// ErrTerminal is returned when a transition is attempted on a sold
// seat.  Sold is final; undoing a sale is an operator-level override
// outside this service.
var ErrTerminal = errors.New("seat already sold")
