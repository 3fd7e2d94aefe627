// Package repository is the durable side of the seat ledger.  One row
// per (event_code, seat_index) mirrors the last applied transition so
// the recovery-on-load pass can re-arm or fire expiry after a process
// restart.  All timestamps are UTC.
//
// Expected schema:
//
//	CREATE TABLE seat_reservations (
//	    event_code           VARCHAR(64)  NOT NULL,
//	    seat_index           VARCHAR(64)  NOT NULL,
//	    holder_identity      VARCHAR(255) NOT NULL DEFAULT '',
//	    claimed_at           DATETIME     NULL,
//	    payment_initiated_at DATETIME     NULL,
//	    price_cents          INT UNSIGNED NOT NULL DEFAULT 0,
//	    state                VARCHAR(20)  NOT NULL,
//	    version              BIGINT UNSIGNED NOT NULL,
//	    PRIMARY KEY (event_code, seat_index)
//	);
package repository

import (
	"context"
	"database/sql"

	"github.com/eventdesk/seat-reservation/internal/model"
)

// ReservationRepo provides data access to the seat_reservations table.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a repo bound to the provided database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// Upsert writes the reservation row for a seat.  The update side is
// version-guarded: a write carrying an older version than the stored
// row leaves every column untouched, so request goroutines finishing
// out of order cannot roll the durable state backwards.  Released seats
// are kept as AVAILABLE tombstones rather than deleted – the version
// counter must survive so re-armed expiry timers stay self-invalidating
// across restarts.
func (r *ReservationRepo) Upsert(ctx context.Context, res model.Reservation) error {
	const q = `INSERT INTO seat_reservations
        (event_code, seat_index, holder_identity, claimed_at, payment_initiated_at, price_cents, state, version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            holder_identity      = IF(VALUES(version) > version, VALUES(holder_identity), holder_identity),
            claimed_at           = IF(VALUES(version) > version, VALUES(claimed_at), claimed_at),
            payment_initiated_at = IF(VALUES(version) > version, VALUES(payment_initiated_at), payment_initiated_at),
            price_cents          = IF(VALUES(version) > version, VALUES(price_cents), price_cents),
            state                = IF(VALUES(version) > version, VALUES(state), state),
            version              = IF(VALUES(version) > version, VALUES(version), version)`
	var claimedAt, paidAt any
	if !res.ClaimedAt.IsZero() {
		claimedAt = res.ClaimedAt.UTC()
	}
	if res.PaymentInitiatedAt != nil {
		paidAt = res.PaymentInitiatedAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		res.EventCode, res.SeatIndex, res.HolderIdentity,
		claimedAt, paidAt, res.PriceCents, string(res.State), res.Version,
	)
	return err
}

// ListByEvent returns every reservation row for a seat map, AVAILABLE
// tombstones included – the ledger needs their version counters.
func (r *ReservationRepo) ListByEvent(ctx context.Context, eventCode string) ([]model.Reservation, error) {
	const q = `SELECT seat_index, holder_identity, claimed_at, payment_initiated_at, price_cents, state, version
               FROM seat_reservations
               WHERE event_code = ?`
	rows, err := r.db.QueryContext(ctx, q, eventCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		var (
			res       model.Reservation
			claimedAt sql.NullTime
			paidAt    sql.NullTime
			state     string
		)
		if err := rows.Scan(&res.SeatIndex, &res.HolderIdentity, &claimedAt, &paidAt, &res.PriceCents, &state, &res.Version); err != nil {
			return nil, err
		}
		res.EventCode = eventCode
		res.State = model.SeatState(state)
		if claimedAt.Valid {
			res.ClaimedAt = claimedAt.Time
		}
		if paidAt.Valid {
			t := paidAt.Time
			res.PaymentInitiatedAt = &t
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureSchema creates the seat_reservations table when it is missing.
// Convenient for dev and test databases; production deployments manage
// schema out of band.
func (r *ReservationRepo) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS seat_reservations (
        event_code           VARCHAR(64)  NOT NULL,
        seat_index           VARCHAR(64)  NOT NULL,
        holder_identity      VARCHAR(255) NOT NULL DEFAULT '',
        claimed_at           DATETIME     NULL,
        payment_initiated_at DATETIME     NULL,
        price_cents          INT UNSIGNED NOT NULL DEFAULT 0,
        state                VARCHAR(20)  NOT NULL,
        version              BIGINT UNSIGNED NOT NULL,
        PRIMARY KEY (event_code, seat_index)
    )`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}
