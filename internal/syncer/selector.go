package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/store"
)

// Selector serves baseline snapshots and delta feeds. It holds no per-client
// state; the cursor and sequence position live entirely with the caller.
type Selector struct {
	db     *store.DB
	logger *zap.Logger
}

// NewSelector creates a Selector. A nil logger is replaced with a no-op
// logger.
func NewSelector(db *store.DB, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{db: db, logger: logger}
}

// SelectBaseline returns one page of the scope's current-state snapshot.
//
// ServerSeq is read at the start of the page so the snapshot names the
// position deltas should resume from. Pages are keyset-ordered by record id;
// consistency across pages is best-effort under concurrent mutation.
func (s *Selector) SelectBaseline(ctx context.Context, scope string, q BaselineQuery) (*Baseline, error) {
	sc, q, err := ValidateBaseline(scope, q)
	if err != nil {
		return nil, err
	}

	afterID := ""
	if q.Cursor != "" {
		// Already checked by ValidateBaseline.
		afterID, _ = decodeCursor(q.Cursor)
	}

	seq, err := s.db.CurrentSeq(ctx, string(sc))
	if err != nil {
		return nil, err
	}

	// Fetch one extra row to learn whether another page remains.
	records, lastID, err := s.baselinePage(ctx, sc, afterID, q.Limit+1)
	if err != nil {
		return nil, err
	}

	baseline := &Baseline{
		Scope:      sc,
		ServerSeq:  seq,
		Records:    records,
		CapturedAt: time.Now().UTC(),
	}
	if len(records) > q.Limit {
		baseline.Records = records[:q.Limit]
		cursor := encodeCursor(lastID)
		baseline.NextCursor = &cursor
	}

	s.logger.Debug("baseline page served",
		zap.String("scope", string(sc)),
		zap.Int64("serverSeq", seq),
		zap.Int("records", len(baseline.Records)),
		zap.Bool("more", baseline.NextCursor != nil))

	return baseline, nil
}

// baselinePage loads up to limit records and returns them marshalled, along
// with the id of the last record inside the page window (limit-1 position).
func (s *Selector) baselinePage(ctx context.Context, scope Scope, afterID string, limit int) ([]json.RawMessage, string, error) {
	switch scope {
	case ScopeInventory:
		items, err := s.db.InventoryPage(ctx, afterID, limit)
		if err != nil {
			return nil, "", err
		}
		records := make([]json.RawMessage, 0, len(items))
		lastID := ""
		for i, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, "", fmt.Errorf("failed to encode inventory record: %w", err)
			}
			records = append(records, raw)
			if i == limit-2 {
				lastID = item.ID
			}
		}
		return records, lastID, nil

	case ScopeTickets:
		tickets, err := s.db.TicketPage(ctx, afterID, limit)
		if err != nil {
			return nil, "", err
		}
		records := make([]json.RawMessage, 0, len(tickets))
		lastID := ""
		for i, tk := range tickets {
			raw, err := json.Marshal(tk)
			if err != nil {
				return nil, "", fmt.Errorf("failed to encode ticket record: %w", err)
			}
			records = append(records, raw)
			if i == limit-2 {
				lastID = tk.ID
			}
		}
		return records, lastID, nil
	}
	return nil, "", fmt.Errorf("unknown scope %q", scope)
}

// SelectDeltas returns the committed events strictly after lastServerSeq,
// ascending, truncated to the validated limit. A caller already at or past
// the head gets an empty feed, not an error.
func (s *Selector) SelectDeltas(ctx context.Context, req PullRequest) (*Deltas, error) {
	sc, req, err := ValidatePull(req)
	if err != nil {
		return nil, err
	}

	head, err := s.db.CurrentSeq(ctx, string(sc))
	if err != nil {
		return nil, err
	}

	events, err := s.db.EventsAfter(ctx, string(sc), req.LastServerSeq, req.Limit)
	if err != nil {
		return nil, err
	}

	deltas := &Deltas{
		Scope:     sc,
		ServerSeq: head,
		Events:    events,
	}
	if len(events) == req.Limit && events[len(events)-1].ServerSeq < head {
		cursor := strconv.FormatInt(events[len(events)-1].ServerSeq, 10)
		deltas.NextCursor = &cursor
	}

	s.logger.Debug("deltas served",
		zap.String("scope", string(sc)),
		zap.Int64("after", req.LastServerSeq),
		zap.Int64("head", head),
		zap.Int("events", len(events)))

	return deltas, nil
}
