package syncer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/buehnenplan/syncd/internal/store"
)

// Scope partitions sync state. Each scope has an isolated sequence space and
// its own permission checks.
type Scope string

const (
	// ScopeInventory covers the props/costume stock the stage crew scans.
	ScopeInventory Scope = "inventory"

	// ScopeTickets covers admission tickets scanned at the door.
	ScopeTickets Scope = "tickets"
)

// Scopes lists all known scopes.
var Scopes = []Scope{ScopeInventory, ScopeTickets}

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	for _, scope := range Scopes {
		if string(scope) == s {
			return scope, nil
		}
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Paging and batch bounds.
const (
	DefaultLimit = 200
	MaxLimit     = 500
	MaxBatchSize = 1000
)

// IncomingEvent is one client-submitted event inside a push batch.
// OccurredAt stays a string until validation parses it, so a bad timestamp
// becomes a field-level issue instead of a JSON decode failure.
type IncomingEvent struct {
	ID         string          `json:"id,omitempty"`
	DedupeKey  string          `json:"dedupeKey,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt string          `json:"occurredAt"`
}

// PushRequest is the body of POST /api/sync/push.
type PushRequest struct {
	Scope              string          `json:"scope"`
	ClientID           string          `json:"clientId"`
	ClientMutationID   string          `json:"clientMutationId"`
	Events             []IncomingEvent `json:"events"`
	LastKnownServerSeq int64           `json:"lastKnownServerSeq"`
}

// PullRequest is the body of POST /api/sync/pull.
type PullRequest struct {
	Scope         string `json:"scope"`
	LastServerSeq int64  `json:"lastServerSeq"`
	Limit         int    `json:"limit,omitempty"`
}

// BaselineQuery holds the optional knobs of GET /api/sync/initial.
type BaselineQuery struct {
	Cursor string
	Limit  int
}

// Baseline is a self-consistent snapshot of a scope's current state.
type Baseline struct {
	Scope      Scope             `json:"scope"`
	ServerSeq  int64             `json:"serverSeq"`
	Records    []json.RawMessage `json:"records"`
	NextCursor *string           `json:"nextCursor"`
	CapturedAt time.Time         `json:"capturedAt"`
}

// Deltas is the incremental event feed since a client-held sequence number.
type Deltas struct {
	Scope      Scope         `json:"scope"`
	ServerSeq  int64         `json:"serverSeq"`
	Events     []store.Event `json:"events"`
	NextCursor *string       `json:"nextCursor"`
}

// ApplyStatus tags the outcome of a push attempt.
type ApplyStatus string

const (
	// StatusApplied means the batch committed and advanced the scope head.
	StatusApplied ApplyStatus = "applied"

	// StatusDuplicate means the client mutation id was already applied; the
	// original result is returned unchanged and nothing new was written.
	StatusDuplicate ApplyStatus = "duplicate"

	// StatusStale means the caller's lastKnownServerSeq conflicts with newer
	// server-side changes; the caller must pull deltas before retrying.
	StatusStale ApplyStatus = "stale"
)

// SkippedEvent reports an individual event dropped by payload-level dedupe
// without failing the whole batch.
type SkippedEvent struct {
	ID        string `json:"id"`
	DedupeKey string `json:"dedupeKey"`
	Reason    string `json:"reason"`
}

// MutationSummary is the ledger view returned to the client.
type MutationSummary struct {
	ClientMutationID string `json:"clientMutationId"`
	EventCount       int    `json:"eventCount"`
	FirstServerSeq   int64  `json:"firstServerSeq"`
	LastServerSeq    int64  `json:"lastServerSeq"`
}

// ApplyResult is the tagged outcome of ApplyIncomingEvents.
//
// Status selects the variant: applied carries the committed events plus any
// skips, duplicate carries the originally committed events, stale carries the
// unseen gap so the client can recover deterministically.
type ApplyResult struct {
	Status    ApplyStatus      `json:"status"`
	ServerSeq int64            `json:"serverSeq"`
	Events    []store.Event    `json:"events"`
	Skipped   []SkippedEvent   `json:"skipped,omitempty"`
	Mutation  *MutationSummary `json:"mutation,omitempty"`
}

// Cursor helpers. Cursors are opaque to clients; the encoding is a versioned
// prefix plus the keyset position.

func encodeCursor(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte("v1:" + lastID))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("malformed cursor")
	}
	s := string(raw)
	if !strings.HasPrefix(s, "v1:") {
		return "", fmt.Errorf("unsupported cursor version")
	}
	return strings.TrimPrefix(s, "v1:"), nil
}
