package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/buehnenplan/syncd/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// pushEvents commits n events through the applier so the log and state stay
// consistent with production behavior
func pushEvents(t *testing.T, db *store.DB, scope, clientID, mutationID string, lastKnown int64, n int) *ApplyResult {
	t.Helper()
	applier := NewApplier(db, store.NewStateProjector(nil), nil)

	req := PushRequest{
		Scope:              scope,
		ClientID:           clientID,
		ClientMutationID:   mutationID,
		LastKnownServerSeq: lastKnown,
	}
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]any{
			"itemId":   fmt.Sprintf("item-%s-%03d", mutationID, i),
			"name":     "Requisit",
			"location": "Lager",
		})
		req.Events = append(req.Events, IncomingEvent{
			Type:       "item.created",
			Payload:    payload,
			OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}

	result, err := applier.ApplyIncomingEvents(context.Background(), req)
	if err != nil {
		t.Fatalf("ApplyIncomingEvents() failed: %v", err)
	}
	return result
}

// TestSelectDeltas_StrictlyAfterAndAscending tests the core delta contract
func TestSelectDeltas_StrictlyAfterAndAscending(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)
	pushEvents(t, db, "inventory", "c1", "m1", 0, 5)

	deltas, err := selector.SelectDeltas(context.Background(), PullRequest{
		Scope: "inventory", LastServerSeq: 2,
	})
	if err != nil {
		t.Fatalf("SelectDeltas() failed: %v", err)
	}
	if deltas.ServerSeq != 5 {
		t.Errorf("ServerSeq = %d, want 5", deltas.ServerSeq)
	}
	prev := int64(2)
	for _, ev := range deltas.Events {
		if ev.ServerSeq != prev+1 {
			t.Errorf("seq %d follows %d, want contiguous ascending", ev.ServerSeq, prev)
		}
		prev = ev.ServerSeq
	}
	if len(deltas.Events) != 3 {
		t.Errorf("events = %d, want 3", len(deltas.Events))
	}
	if deltas.NextCursor != nil {
		t.Errorf("NextCursor = %v, want nil when feed complete", *deltas.NextCursor)
	}
}

// TestSelectDeltas_CaughtUp tests that an up-to-date caller gets an empty
// list, not an error
func TestSelectDeltas_CaughtUp(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)
	pushEvents(t, db, "inventory", "c1", "m1", 0, 2)

	for _, last := range []int64{2, 99} {
		deltas, err := selector.SelectDeltas(context.Background(), PullRequest{
			Scope: "inventory", LastServerSeq: last,
		})
		if err != nil {
			t.Fatalf("SelectDeltas(%d) failed: %v", last, err)
		}
		if len(deltas.Events) != 0 {
			t.Errorf("SelectDeltas(%d) events = %d, want 0", last, len(deltas.Events))
		}
		if deltas.ServerSeq != 2 {
			t.Errorf("ServerSeq = %d, want 2", deltas.ServerSeq)
		}
	}
}

// TestSelectDeltas_Truncation tests limit handling and the resume cursor
func TestSelectDeltas_Truncation(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)
	pushEvents(t, db, "inventory", "c1", "m1", 0, 5)

	deltas, err := selector.SelectDeltas(context.Background(), PullRequest{
		Scope: "inventory", LastServerSeq: 0, Limit: 2,
	})
	if err != nil {
		t.Fatalf("SelectDeltas() failed: %v", err)
	}
	if len(deltas.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(deltas.Events))
	}
	if deltas.NextCursor == nil || *deltas.NextCursor != "2" {
		t.Errorf("NextCursor = %v, want \"2\"", deltas.NextCursor)
	}
}

// TestSelectBaseline_RoundTrip tests that following nextCursor terminates
// with no duplicate record ids
func TestSelectBaseline_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)
	pushEvents(t, db, "inventory", "c1", "m1", 0, 7)

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		q := BaselineQuery{Limit: 3, Cursor: cursor}
		baseline, err := selector.SelectBaseline(context.Background(), "inventory", q)
		if err != nil {
			t.Fatalf("SelectBaseline() failed: %v", err)
		}
		if baseline.ServerSeq != 7 {
			t.Errorf("ServerSeq = %d, want 7", baseline.ServerSeq)
		}
		if baseline.CapturedAt.IsZero() {
			t.Error("CapturedAt is zero")
		}
		for _, raw := range baseline.Records {
			var rec struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				t.Fatalf("failed to decode record: %v", err)
			}
			if seen[rec.ID] {
				t.Errorf("duplicate record %s across pages", rec.ID)
			}
			seen[rec.ID] = true
		}
		if baseline.NextCursor == nil {
			break
		}
		cursor = *baseline.NextCursor
		pages++
		if pages > 10 {
			t.Fatal("baseline pagination did not terminate")
		}
	}

	if len(seen) != 7 {
		t.Errorf("saw %d records, want 7", len(seen))
	}
}

// TestSelectBaseline_EmptyScope tests the bootstrap case with no data
func TestSelectBaseline_EmptyScope(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)

	baseline, err := selector.SelectBaseline(context.Background(), "tickets", BaselineQuery{})
	if err != nil {
		t.Fatalf("SelectBaseline() failed: %v", err)
	}
	if baseline.ServerSeq != 0 || len(baseline.Records) != 0 || baseline.NextCursor != nil {
		t.Errorf("baseline = %+v, want empty snapshot at seq 0", baseline)
	}
}

// TestSelectBaseline_InvalidScope tests the validation error path
func TestSelectBaseline_InvalidScope(t *testing.T) {
	db := openTestDB(t)
	selector := NewSelector(db, nil)

	_, err := selector.SelectBaseline(context.Background(), "lighting", BaselineQuery{})
	if err == nil {
		t.Fatal("SelectBaseline() succeeded with unknown scope")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("err = %T, want *ValidationError", err)
	}
}
