package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InventoryItem is a row of the inventory current-state table: one prop or
// costume piece tracked by the stage crew.
type InventoryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Quantity  int       `json:"quantity"`
	Retired   bool      `json:"retired"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ticket is a row of the tickets current-state table.
type Ticket struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Holder    string     `json:"holder"`
	State     string     `json:"state"`
	ScannedAt *time.Time `json:"scannedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// InventoryPage returns up to limit inventory items with id > afterID,
// ordered by id. Keyset pagination keeps pages stable across requests as
// long as no concurrent mutation touches the window.
func (db *DB) InventoryPage(ctx context.Context, afterID string, limit int) ([]InventoryItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, location, quantity, retired, updated_at
		 FROM inventory_items WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory page: %w", err)
	}
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		var (
			item      InventoryItem
			retired   int
			updatedAt string
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Location, &item.Quantity, &retired, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		item.Retired = retired != 0
		t, err := time.Parse(timeFormat, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse inventory timestamp: %w", err)
		}
		item.UpdatedAt = t
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory items: %w", err)
	}
	return items, nil
}

// TicketPage returns up to limit tickets with id > afterID, ordered by id.
func (db *DB) TicketPage(ctx context.Context, afterID string, limit int) ([]Ticket, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, code, holder, state, scanned_at, updated_at
		 FROM tickets WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticket page: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var (
			tk        Ticket
			scannedAt sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&tk.ID, &tk.Code, &tk.Holder, &tk.State, &scannedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		if scannedAt.Valid {
			t, err := time.Parse(timeFormat, scannedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse scan timestamp: %w", err)
			}
			tk.ScannedAt = &t
		}
		t, err := time.Parse(timeFormat, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ticket timestamp: %w", err)
		}
		tk.UpdatedAt = t
		tickets = append(tickets, tk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return tickets, nil
}
