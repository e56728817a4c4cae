// Package pg persists the mutation event feed in Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"amana.org/internal/fault"
	"amana.org/internal/stream"
)

// Archive is the durable copy of the in-memory event stream. The API serves
// reads from memory; the archive exists for audit trail queries and restarts.
type Archive struct {
	db *sql.DB
}

// Open connects to Postgres through the pgx stdlib driver.
func Open(dsn string) (*Archive, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Archive{db: db}, nil
}

// NewArchive wraps an existing handle (used by tests with sqlmock).
func NewArchive(db *sql.DB) *Archive { return &Archive{db: db} }

func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) DB() *sql.DB { return a.db }

// Ping verifies connectivity; the readiness probe calls it.
func (a *Archive) Ping(ctx context.Context) error { return a.db.PingContext(ctx) }

// Record appends one event. The in-memory sequence is kept so the archive
// and the live feed agree on ordering.
func (a *Archive) Record(ctx context.Context, ev stream.Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("encode event fields: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		insert into events(sequence, operation, entity, entity_id, fields, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (sequence) do nothing
	`, ev.Sequence, ev.Operation, ev.Entity, ev.EntityID, fields, ev.Timestamp)
	return err
}

// List returns up to limit events with sequence greater than afterSeq, in
// sequence order, plus the last sequence returned.
func (a *Archive) List(ctx context.Context, limit int, afterSeq uint64) ([]stream.Event, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		select sequence, operation, entity, entity_id, fields, created_at
		from events
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []stream.Event
	var last uint64
	for rows.Next() {
		var ev stream.Event
		var fields []byte
		if err := rows.Scan(&ev.Sequence, &ev.Operation, &ev.Entity, &ev.EntityID, &fields, &ev.Timestamp); err != nil {
			return nil, 0, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &ev.Fields); err != nil {
				return nil, 0, fmt.Errorf("decode event fields: %w", err)
			}
		}
		res = append(res, ev)
		last = ev.Sequence
	}
	return res, last, rows.Err()
}

// LastSequence returns the highest archived sequence, zero when empty.
func (a *Archive) LastSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := a.db.QueryRowContext(ctx, `select coalesce(max(sequence),0) from events`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// EntityHistory returns the archived events for one entity, oldest first.
func (a *Archive) EntityHistory(ctx context.Context, entity, entityID string, limit int) ([]stream.Event, error) {
	if entity == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity and entity id are required", fault.ErrValidation)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		select sequence, operation, entity, entity_id, fields, created_at
		from events
		where entity = $1 and entity_id = $2
		order by sequence asc
		limit $3
	`, entity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []stream.Event
	for rows.Next() {
		var ev stream.Event
		var fields []byte
		if err := rows.Scan(&ev.Sequence, &ev.Operation, &ev.Entity, &ev.EntityID, &fields, &ev.Timestamp); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &ev.Fields); err != nil {
				return nil, fmt.Errorf("decode event fields: %w", err)
			}
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
