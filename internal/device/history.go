package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryEntry is one committed change of a device.
type HistoryEntry struct {
	ID         int64      `json:"id"`
	EventID    string     `json:"event_id"`
	Device     string     `json:"device"`
	Active     bool       `json:"active"`
	Attributes Attributes `json:"attributes"`
	Version    int64      `json:"version"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HistoryReader is the read side of the state history, used by the HTTP layer.
type HistoryReader interface {
	// GetHistory returns up to limit entries for name, newest first.
	GetHistory(ctx context.Context, name string, limit int) ([]HistoryEntry, error)
}

// SQLiteHistory records every committed change in the state_history table.
// Register it on a Registry with AddObserver.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history recorder on an open, migrated database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// OnStateChange inserts a history row for change.
func (h *SQLiteHistory) OnStateChange(ctx context.Context, change StateChange) error {
	d := change.Device
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO state_history (event_id, device_name, active, attributes, version, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.EventID,
		d.Name,
		d.Active,
		nullableAttributes(d.Attributes),
		d.Version,
		change.Source,
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for name ordered by version, newest first.
// limit defaults to 50 and is capped at 200.
func (h *SQLiteHistory) GetHistory(ctx context.Context, name string, limit int) ([]HistoryEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, event_id, device_name, active, attributes, version, source, created_at
		FROM state_history
		WHERE device_name = ?
		ORDER BY version DESC, id DESC
		LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, storageError("querying state history", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e         HistoryEntry
			attrs     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Device, &e.Active, &attrs, &e.Version, &e.Source, &createdAt); err != nil {
			return nil, storageError("scanning state history", err)
		}
		if attrs.Valid && attrs.String != "" {
			e.Attributes = Attributes(attrs.String)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating state history", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than olderThan and reports how many went.
func (h *SQLiteHistory) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := h.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, storageError("deleting state history", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
