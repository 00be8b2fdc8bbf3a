package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func pushProjected(t *testing.T, db *DB, mutationID, typ string, payload string) *PushOutcome {
	t.Helper()
	scope := "inventory"
	if typ[0] == 't' {
		scope = "tickets"
	}
	outcome, err := db.ApplyPush(context.Background(), PushBatch{
		Scope:            scope,
		ClientID:         "c1",
		ClientMutationID: mutationID,
		LastKnownSeq:     1 << 30, // never stale in these tests
		Events: []Event{{
			ID:         mutationID + "-ev",
			Type:       typ,
			Payload:    json.RawMessage(payload),
			OccurredAt: time.Date(2024, 3, 1, 19, 30, 0, 0, time.UTC),
		}},
	}, NewStateProjector(nil))
	if err != nil {
		t.Fatalf("ApplyPush(%s) failed: %v", typ, err)
	}
	return outcome
}

// TestProjection_InventoryLifecycle tests created → moved → counted → retired
func TestProjection_InventoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pushProjected(t, db, "m1", "item.created",
		`{"itemId":"prop-1","name":"Schwert","location":"Lager A","quantity":2}`)

	items, err := db.InventoryPage(ctx, "", 10)
	if err != nil {
		t.Fatalf("InventoryPage() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len = %d, want 1", len(items))
	}
	if items[0].Name != "Schwert" || items[0].Location != "Lager A" || items[0].Quantity != 2 {
		t.Errorf("item = %+v", items[0])
	}

	pushProjected(t, db, "m2", "item.moved", `{"itemId":"prop-1","location":"Bühne"}`)
	pushProjected(t, db, "m3", "item.counted", `{"itemId":"prop-1","quantity":1}`)
	pushProjected(t, db, "m4", "item.retired", `{"itemId":"prop-1"}`)

	items, _ = db.InventoryPage(ctx, "", 10)
	if items[0].Location != "Bühne" {
		t.Errorf("Location = %q, want Bühne", items[0].Location)
	}
	if items[0].Quantity != 1 {
		t.Errorf("Quantity = %d, want 1", items[0].Quantity)
	}
	if !items[0].Retired {
		t.Error("Retired = false, want true")
	}
}

// TestProjection_TicketLifecycle tests issued → scanned → voided
func TestProjection_TicketLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pushProjected(t, db, "m1", "ticket.issued",
		`{"ticketId":"tk-1","code":"PREM-1","holder":"Weber"}`)

	tickets, err := db.TicketPage(ctx, "", 10)
	if err != nil {
		t.Fatalf("TicketPage() failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].State != "issued" || tickets[0].ScannedAt != nil {
		t.Fatalf("ticket = %+v, want freshly issued", tickets)
	}

	pushProjected(t, db, "m2", "ticket.scanned", `{"ticketId":"tk-1"}`)
	tickets, _ = db.TicketPage(ctx, "", 10)
	if tickets[0].State != "scanned" || tickets[0].ScannedAt == nil {
		t.Errorf("ticket after scan = %+v", tickets[0])
	}

	pushProjected(t, db, "m3", "ticket.voided", `{"ticketId":"tk-1"}`)
	tickets, _ = db.TicketPage(ctx, "", 10)
	if tickets[0].State != "void" {
		t.Errorf("State = %q, want void", tickets[0].State)
	}
}

// TestProjection_UnknownTypeIgnored tests that unknown event types commit to
// the log without touching current state
func TestProjection_UnknownTypeIgnored(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	outcome := pushProjected(t, db, "m1", "item.photographed", `{"itemId":"prop-1"}`)
	if len(outcome.Events) != 1 {
		t.Fatalf("event not committed: %+v", outcome)
	}

	items, err := db.InventoryPage(ctx, "", 10)
	if err != nil {
		t.Fatalf("InventoryPage() failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("unknown type projected: %+v", items)
	}
}

// TestProjection_MissingEntityID tests that a known type without its entity
// id is skipped, not fatal
func TestProjection_MissingEntityID(t *testing.T) {
	db := openTestDB(t)

	outcome := pushProjected(t, db, "m1", "item.moved", `{"location":"Bühne"}`)
	if len(outcome.Events) != 1 {
		t.Fatalf("event not committed: %+v", outcome)
	}
}
