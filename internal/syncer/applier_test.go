package syncer

import (
	"context"
	"encoding/json"
	"testing"
)

func pushReq(mutationID string, lastKnown int64, events ...IncomingEvent) PushRequest {
	return PushRequest{
		Scope:              "inventory",
		ClientID:           "scanner-1",
		ClientMutationID:   mutationID,
		LastKnownServerSeq: lastKnown,
		Events:             events,
	}
}

func incoming(typ, payload string) IncomingEvent {
	return IncomingEvent{
		Type:       typ,
		Payload:    json.RawMessage(payload),
		OccurredAt: "2024-01-01T00:00:00Z",
	}
}

// TestApplyIncomingEvents_AppliedThenDuplicate tests that a push against
// seq 10 applies at 11, and the identical resubmission is a duplicate with
// zero new rows
func TestApplyIncomingEvents_AppliedThenDuplicate(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)
	ctx := context.Background()

	// Advance the scope to seq 10 with the same client's events
	pushEvents(t, db, "inventory", "scanner-1", "m-setup", 0, 10)

	req := pushReq("m1", 10, incoming("item.moved", `{"itemId":"x"}`))
	result, err := applier.ApplyIncomingEvents(ctx, req)
	if err != nil {
		t.Fatalf("ApplyIncomingEvents() failed: %v", err)
	}
	if result.Status != StatusApplied {
		t.Fatalf("Status = %q, want applied", result.Status)
	}
	if result.ServerSeq != 11 {
		t.Errorf("ServerSeq = %d, want 11", result.ServerSeq)
	}
	if result.Mutation == nil || result.Mutation.FirstServerSeq != 11 || result.Mutation.LastServerSeq != 11 {
		t.Errorf("Mutation = %+v", result.Mutation)
	}

	// Replaying the identical request any number of times stays duplicate
	for i := 0; i < 3; i++ {
		replay, err := applier.ApplyIncomingEvents(ctx, req)
		if err != nil {
			t.Fatalf("replay failed: %v", err)
		}
		if replay.Status != StatusDuplicate {
			t.Fatalf("replay Status = %q, want duplicate", replay.Status)
		}
		if replay.ServerSeq != 11 {
			t.Errorf("replay ServerSeq = %d, want 11", replay.ServerSeq)
		}
		if len(replay.Events) != 1 {
			t.Errorf("replay events = %d, want the original 1", len(replay.Events))
		}
	}

	seq, _ := db.CurrentSeq(ctx, "inventory")
	if seq != 11 {
		t.Errorf("CurrentSeq = %d, want 11 (replays wrote nothing)", seq)
	}
}

// TestApplyIncomingEvents_Stale tests that the same push against a store
// advanced by another client is rejected with the current head and the
// unseen gap
func TestApplyIncomingEvents_Stale(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)
	ctx := context.Background()

	pushEvents(t, db, "inventory", "scanner-1", "m-setup", 0, 10)
	// Another client commits 11 and 12
	pushEvents(t, db, "inventory", "scanner-2", "m-other", 10, 2)

	result, err := applier.ApplyIncomingEvents(ctx,
		pushReq("m1", 10, incoming("item.moved", `{"itemId":"x"}`)))
	if err != nil {
		t.Fatalf("ApplyIncomingEvents() failed: %v", err)
	}
	if result.Status != StatusStale {
		t.Fatalf("Status = %q, want stale", result.Status)
	}
	if result.ServerSeq != 12 {
		t.Errorf("ServerSeq = %d, want 12", result.ServerSeq)
	}
	if len(result.Events) != 2 {
		t.Errorf("gap events = %d, want 2", len(result.Events))
	}
	if result.Mutation != nil {
		t.Errorf("Mutation = %+v, want nil on stale", result.Mutation)
	}

	// No partial commit
	seq, _ := db.CurrentSeq(ctx, "inventory")
	if seq != 12 {
		t.Errorf("CurrentSeq = %d, want 12 after rejection", seq)
	}
}

// TestApplyIncomingEvents_StaleRecovery tests the recovery contract: pull
// deltas, then retry the same mutation id successfully
func TestApplyIncomingEvents_StaleRecovery(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)
	selector := NewSelector(db, nil)
	ctx := context.Background()

	pushEvents(t, db, "inventory", "scanner-2", "m-other", 0, 3)

	req := pushReq("m1", 0, incoming("item.moved", `{"itemId":"x"}`))
	result, err := applier.ApplyIncomingEvents(ctx, req)
	if err != nil {
		t.Fatalf("ApplyIncomingEvents() failed: %v", err)
	}
	if result.Status != StatusStale {
		t.Fatalf("Status = %q, want stale", result.Status)
	}

	// Client pulls deltas to advance its position, then retries
	deltas, err := selector.SelectDeltas(ctx, PullRequest{Scope: "inventory", LastServerSeq: 0})
	if err != nil {
		t.Fatalf("SelectDeltas() failed: %v", err)
	}
	req.LastKnownServerSeq = deltas.ServerSeq

	retry, err := applier.ApplyIncomingEvents(ctx, req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Status != StatusApplied {
		t.Fatalf("retry Status = %q, want applied", retry.Status)
	}
	if retry.ServerSeq != 4 {
		t.Errorf("retry ServerSeq = %d, want 4", retry.ServerSeq)
	}
}

// TestApplyIncomingEvents_ValidationBeforeStorage tests that an oversized
// batch never opens a transaction
func TestApplyIncomingEvents_ValidationBeforeStorage(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)
	ctx := context.Background()

	req := pushReq("m1", 0)
	for i := 0; i <= MaxBatchSize; i++ {
		req.Events = append(req.Events, incoming("item.moved", `{"itemId":"x"}`))
	}

	_, err := applier.ApplyIncomingEvents(ctx, req)
	if err == nil {
		t.Fatal("oversized batch accepted")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}

	// Nothing touched storage: no events, no ledger row
	seq, _ := db.CurrentSeq(ctx, "inventory")
	if seq != 0 {
		t.Errorf("CurrentSeq = %d, want 0", seq)
	}
	m, _ := db.MutationByID(ctx, "m1")
	if m != nil {
		t.Errorf("mutation row exists after rejected batch: %+v", m)
	}
}

// TestApplyIncomingEvents_DedupeSkipsReported tests that skipped events are
// reported with their dedupe key without failing the batch
func TestApplyIncomingEvents_DedupeSkipsReported(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)
	ctx := context.Background()

	first := incoming("item.counted", `{"itemId":"x","quantity":1}`)
	first.ID = "e1"
	first.DedupeKey = "count:x"
	if _, err := applier.ApplyIncomingEvents(ctx, pushReq("m1", 0, first)); err != nil {
		t.Fatalf("first push failed: %v", err)
	}

	dup := incoming("item.counted", `{"itemId":"x","quantity":2}`)
	dup.ID = "e2"
	dup.DedupeKey = "count:x"
	fresh := incoming("item.counted", `{"itemId":"y","quantity":5}`)
	fresh.ID = "e3"

	result, err := applier.ApplyIncomingEvents(ctx, pushReq("m2", 1, dup, fresh))
	if err != nil {
		t.Fatalf("second push failed: %v", err)
	}
	if result.Status != StatusApplied {
		t.Fatalf("Status = %q, want applied", result.Status)
	}
	if len(result.Events) != 1 || result.Events[0].ID != "e3" {
		t.Errorf("events = %+v, want only e3", result.Events)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].ID != "e2" || result.Skipped[0].DedupeKey != "count:x" {
		t.Errorf("Skipped = %+v", result.Skipped)
	}
}

// TestApplyIncomingEvents_AssignsIDs tests that events without client ids
// get server-assigned ids
func TestApplyIncomingEvents_AssignsIDs(t *testing.T) {
	db := openTestDB(t)
	applier := NewApplier(db, nil, nil)

	result, err := applier.ApplyIncomingEvents(context.Background(),
		pushReq("m1", 0, incoming("item.moved", `{"itemId":"x"}`)))
	if err != nil {
		t.Fatalf("ApplyIncomingEvents() failed: %v", err)
	}
	if result.Events[0].ID == "" {
		t.Error("committed event has empty id")
	}
}
