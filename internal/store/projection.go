package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Projector folds committed events into the current-state tables. Apply is
// called inside the push transaction, once per inserted event, so baselines
// always reflect every committed event.
type Projector interface {
	Apply(ctx context.Context, tx *sql.Tx, ev Event) error
}

// StateProjector maintains the inventory_items and tickets tables from the
// event types the scanner app emits. Payload schemas of unknown types belong
// to other collaborators; those events are logged and left alone.
type StateProjector struct {
	logger *zap.Logger
}

// NewStateProjector creates a projector. A nil logger is replaced with a
// no-op logger.
func NewStateProjector(logger *zap.Logger) *StateProjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateProjector{logger: logger}
}

type inventoryPayload struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Quantity *int   `json:"quantity"`
}

type ticketPayload struct {
	TicketID string `json:"ticketId"`
	Code     string `json:"code"`
	Holder   string `json:"holder"`
}

// Apply implements Projector.
func (p *StateProjector) Apply(ctx context.Context, tx *sql.Tx, ev Event) error {
	switch ev.Type {
	case "item.created", "item.moved", "item.counted", "item.retired":
		return p.applyInventory(ctx, tx, ev)
	case "ticket.issued", "ticket.scanned", "ticket.voided":
		return p.applyTicket(ctx, tx, ev)
	default:
		p.logger.Debug("skipping projection for unknown event type",
			zap.String("scope", ev.Scope), zap.String("type", ev.Type))
		return nil
	}
}

func (p *StateProjector) applyInventory(ctx context.Context, tx *sql.Tx, ev Event) error {
	var payload inventoryPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode inventory payload: %w", err)
	}
	if payload.ItemID == "" {
		p.logger.Warn("inventory event without itemId, skipping projection",
			zap.String("event", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	now := ev.OccurredAt.UTC().Format(timeFormat)

	switch ev.Type {
	case "item.created":
		quantity := 1
		if payload.Quantity != nil {
			quantity = *payload.Quantity
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO inventory_items (id, name, location, quantity, retired, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?)
			 ON CONFLICT(id) DO UPDATE SET
			     name = excluded.name,
			     location = excluded.location,
			     quantity = excluded.quantity,
			     retired = 0,
			     updated_at = excluded.updated_at`,
			payload.ItemID, payload.Name, payload.Location, quantity, now)
		return err

	case "item.moved":
		_, err := tx.ExecContext(ctx,
			`UPDATE inventory_items SET location = ?, updated_at = ? WHERE id = ?`,
			payload.Location, now, payload.ItemID)
		return err

	case "item.counted":
		quantity := 0
		if payload.Quantity != nil {
			quantity = *payload.Quantity
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE inventory_items SET quantity = ?, updated_at = ? WHERE id = ?`,
			quantity, now, payload.ItemID)
		return err

	case "item.retired":
		_, err := tx.ExecContext(ctx,
			`UPDATE inventory_items SET retired = 1, updated_at = ? WHERE id = ?`,
			now, payload.ItemID)
		return err
	}
	return nil
}

func (p *StateProjector) applyTicket(ctx context.Context, tx *sql.Tx, ev Event) error {
	var payload ticketPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode ticket payload: %w", err)
	}
	if payload.TicketID == "" {
		p.logger.Warn("ticket event without ticketId, skipping projection",
			zap.String("event", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	now := ev.OccurredAt.UTC().Format(timeFormat)

	switch ev.Type {
	case "ticket.issued":
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tickets (id, code, holder, state, scanned_at, updated_at)
			 VALUES (?, ?, ?, 'issued', NULL, ?)
			 ON CONFLICT(id) DO UPDATE SET
			     code = excluded.code,
			     holder = excluded.holder,
			     updated_at = excluded.updated_at`,
			payload.TicketID, payload.Code, payload.Holder, now)
		return err

	case "ticket.scanned":
		_, err := tx.ExecContext(ctx,
			`UPDATE tickets SET state = 'scanned', scanned_at = ?, updated_at = ? WHERE id = ?`,
			now, now, payload.TicketID)
		return err

	case "ticket.voided":
		_, err := tx.ExecContext(ctx,
			`UPDATE tickets SET state = 'void', updated_at = ? WHERE id = ?`,
			now, payload.TicketID)
		return err
	}
	return nil
}
