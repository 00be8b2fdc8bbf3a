package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single committed entry in the append-only log.
//
// Payload is opaque JSON at this layer; only the projector interprets the
// types it knows about. Events are immutable once committed.
type Event struct {
	ID         string          `json:"id"`
	Scope      string          `json:"scope"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
	ServerSeq  int64           `json:"serverSeq"`
	ClientID   string          `json:"clientId,omitempty"`
	DedupeKey  string          `json:"dedupeKey,omitempty"`
}

// Mutation records one accepted push batch for idempotent retries.
type Mutation struct {
	ClientMutationID string    `json:"clientMutationId"`
	Scope            string    `json:"scope"`
	ClientID         string    `json:"clientId"`
	EventCount       int       `json:"eventCount"`
	FirstServerSeq   int64     `json:"firstServerSeq"`
	LastServerSeq    int64     `json:"lastServerSeq"`
	AppliedAt        time.Time `json:"appliedAt"`
}

// PushBatch is a validated client push, ready for the transactional apply.
// Event IDs are already assigned; ServerSeq is zero until commit.
type PushBatch struct {
	Scope            string
	ClientID         string
	ClientMutationID string
	LastKnownSeq     int64
	Events           []Event
}

// PushOutcome reports what the apply transaction decided.
//
// Exactly one of the three cases holds: Duplicate (ledger hit, nothing
// written), Stale (conflict, nothing written), or neither (events committed).
type PushOutcome struct {
	Duplicate bool
	Stale     bool

	// HeadSeq is the scope's sequence number after the transaction. For
	// duplicate and stale outcomes it equals the pre-existing head.
	HeadSeq int64

	// Events holds the committed events. For a duplicate this is the batch
	// committed by the original push; for a stale rejection it is the gap of
	// events the client has not seen yet.
	Events []Event

	// SkippedIDs lists incoming event ids dropped by dedupe-key collision.
	SkippedIDs []string

	Mutation *Mutation
}

// timeFormat is the canonical timestamp encoding in the database.
const timeFormat = time.RFC3339Nano

// staleGapLimit caps how many unseen events a stale rejection carries back.
const staleGapLimit = 500

// CurrentSeq returns the scope's current head sequence number, zero when the
// scope has no events.
func (db *DB) CurrentSeq(ctx context.Context, scope string) (int64, error) {
	return currentSeq(ctx, db.conn, scope)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func currentSeq(ctx context.Context, q querier, scope string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_seq), 0) FROM events WHERE scope = ?`, scope).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read current sequence: %w", err)
	}
	return seq, nil
}

// EventsAfter returns up to limit committed events for the scope with
// server_seq strictly greater than after, ascending.
func (db *DB) EventsAfter(ctx context.Context, scope string, after int64, limit int) ([]Event, error) {
	return eventsAfter(ctx, db.conn, scope, after, limit)
}

func eventsAfter(ctx context.Context, q querier, scope string, after int64, limit int) ([]Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, scope, type, payload, occurred_at, server_seq, client_id, COALESCE(dedupe_key, '')
		 FROM events WHERE scope = ? AND server_seq > ?
		 ORDER BY server_seq ASC LIMIT ?`, scope, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsInRange returns the events for a scope with first <= server_seq <= last.
func (db *DB) EventsInRange(ctx context.Context, scope string, first, last int64) ([]Event, error) {
	return eventsInRange(ctx, db.conn, scope, first, last)
}

func eventsInRange(ctx context.Context, q querier, scope string, first, last int64) ([]Event, error) {
	if first <= 0 || last < first {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, scope, type, payload, occurred_at, server_seq, client_id, COALESCE(dedupe_key, '')
		 FROM events WHERE scope = ? AND server_seq BETWEEN ? AND ?
		 ORDER BY server_seq ASC`, scope, first, last)
	if err != nil {
		return nil, fmt.Errorf("failed to query event range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			ev         Event
			payload    string
			occurredAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Scope, &ev.Type, &payload, &occurredAt,
			&ev.ServerSeq, &ev.ClientID, &ev.DedupeKey); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		t, err := time.Parse(timeFormat, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		ev.OccurredAt = t
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// MutationByID looks up a mutation ledger row. Returns (nil, nil) when the
// client mutation id has never been applied.
func (db *DB) MutationByID(ctx context.Context, clientMutationID string) (*Mutation, error) {
	return mutationByID(ctx, db.conn, clientMutationID)
}

func mutationByID(ctx context.Context, q querier, clientMutationID string) (*Mutation, error) {
	var (
		m         Mutation
		appliedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT client_mutation_id, scope, client_id, event_count, first_server_seq, last_server_seq, applied_at
		 FROM mutations WHERE client_mutation_id = ?`, clientMutationID).
		Scan(&m.ClientMutationID, &m.Scope, &m.ClientID, &m.EventCount,
			&m.FirstServerSeq, &m.LastServerSeq, &appliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation: %w", err)
	}
	t, err := time.Parse(timeFormat, appliedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mutation timestamp: %w", err)
	}
	m.AppliedAt = t
	return &m, nil
}

// LatestEventTime returns the occurred_at of the scope's newest event.
// The second return is false when the scope has no events.
func (db *DB) LatestEventTime(ctx context.Context, scope string) (time.Time, bool, error) {
	var occurredAt string
	err := db.conn.QueryRowContext(ctx,
		`SELECT occurred_at FROM events WHERE scope = ? ORDER BY server_seq DESC LIMIT 1`,
		scope).Scan(&occurredAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest event: %w", err)
	}
	t, err := time.Parse(timeFormat, occurredAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse latest event timestamp: %w", err)
	}
	return t, true, nil
}

// ApplyPush runs the read-check-write sequence for one push batch inside a
// single transaction: ledger lookup, staleness check, dedupe, sequence
// assignment, event insert, projection, ledger insert.
//
// Concurrency correctness is delegated to SQLite's transaction isolation:
// contending pushes to the same scope serialize on the write lock, and the
// loser re-reads the head after the winner commits.
//
// The projector may be nil, in which case current-state tables are left
// untouched (useful in tests exercising the log alone).
func (db *DB) ApplyPush(ctx context.Context, batch PushBatch, projector Projector) (*PushOutcome, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Replay detection first: an already-applied mutation id returns the
	// original result without writing anything.
	existing, err := mutationByID(ctx, tx, batch.ClientMutationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		head, err := currentSeq(ctx, tx, batch.Scope)
		if err != nil {
			return nil, err
		}
		events, err := eventsInRange(ctx, tx, existing.Scope, existing.FirstServerSeq, existing.LastServerSeq)
		if err != nil {
			return nil, err
		}
		return &PushOutcome{Duplicate: true, HeadSeq: head, Events: events, Mutation: existing}, nil
	}

	head, err := currentSeq(ctx, tx, batch.Scope)
	if err != nil {
		return nil, err
	}

	// Staleness: the push conflicts when another client committed events the
	// caller hasn't seen. The caller's own earlier events never make its
	// push stale (covers retries after a lost response).
	if batch.LastKnownSeq < head {
		var foreign int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE scope = ? AND server_seq > ? AND client_id <> ?`,
			batch.Scope, batch.LastKnownSeq, batch.ClientID).Scan(&foreign)
		if err != nil {
			return nil, fmt.Errorf("failed to check for conflicting events: %w", err)
		}
		if foreign > 0 {
			gap, err := eventsAfter(ctx, tx, batch.Scope, batch.LastKnownSeq, staleGapLimit)
			if err != nil {
				return nil, err
			}
			return &PushOutcome{Stale: true, HeadSeq: head, Events: gap}, nil
		}
	}

	now := time.Now().UTC()
	outcome := &PushOutcome{}
	seenKeys := make(map[string]bool)
	seq := head

	for _, ev := range batch.Events {
		if ev.DedupeKey != "" {
			if seenKeys[ev.DedupeKey] {
				outcome.SkippedIDs = append(outcome.SkippedIDs, ev.ID)
				continue
			}
			var collision int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM events WHERE scope = ? AND dedupe_key = ?`,
				batch.Scope, ev.DedupeKey).Scan(&collision)
			if err != nil {
				return nil, fmt.Errorf("failed to check dedupe key: %w", err)
			}
			if collision > 0 {
				outcome.SkippedIDs = append(outcome.SkippedIDs, ev.ID)
				continue
			}
			seenKeys[ev.DedupeKey] = true
		}

		seq++
		ev.Scope = batch.Scope
		ev.ServerSeq = seq
		ev.ClientID = batch.ClientID

		var dedupe any
		if ev.DedupeKey != "" {
			dedupe = ev.DedupeKey
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, scope, type, payload, occurred_at, server_seq, client_id, dedupe_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Scope, ev.Type, string(ev.Payload), ev.OccurredAt.UTC().Format(timeFormat),
			ev.ServerSeq, ev.ClientID, dedupe)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}

		if projector != nil {
			if err := projector.Apply(ctx, tx, ev); err != nil {
				return nil, fmt.Errorf("failed to project event %s: %w", ev.ID, err)
			}
		}

		outcome.Events = append(outcome.Events, ev)
	}

	mutation := &Mutation{
		ClientMutationID: batch.ClientMutationID,
		Scope:            batch.Scope,
		ClientID:         batch.ClientID,
		EventCount:       len(outcome.Events),
		AppliedAt:        now,
	}
	if len(outcome.Events) > 0 {
		mutation.FirstServerSeq = outcome.Events[0].ServerSeq
		mutation.LastServerSeq = outcome.Events[len(outcome.Events)-1].ServerSeq
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mutations (client_mutation_id, scope, client_id, event_count, first_server_seq, last_server_seq, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mutation.ClientMutationID, mutation.Scope, mutation.ClientID, mutation.EventCount,
		mutation.FirstServerSeq, mutation.LastServerSeq, mutation.AppliedAt.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to insert mutation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit push: %w", err)
	}

	outcome.HeadSeq = seq
	outcome.Mutation = mutation
	return outcome, nil
}
