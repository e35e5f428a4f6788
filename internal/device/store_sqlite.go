package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore implements Store on the devices table created by the embedded
// migrations.
//
// Toggle is a single UPDATE ... RETURNING statement, so the read and the write
// happen inside one SQLite statement and cannot interleave with another
// writer. Update relies on the connection being opened with _txlock=immediate
// so its SELECT already holds the write lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const deviceColumns = "name, active, attributes, version, updated_at"

// Initialize inserts missing devices in one transaction.
func (s *SQLiteStore) Initialize(ctx context.Context, names []string) error {
	if err := ValidateNames(names); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("beginning seed transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (name, active, attributes, version, updated_at)
		VALUES (?, 0, NULL, 0, ?)
		ON CONFLICT(name) DO NOTHING`)
	if err != nil {
		return storageError("preparing seed statement", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, name, now); err != nil {
			return storageError("seeding "+name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("committing seed", err)
	}
	return nil
}

// Get returns the record for name.
func (s *SQLiteStore) Get(ctx context.Context, name string) (*Device, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE name = ?", name)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, storageError("querying device", err)
	}
	return d, nil
}

// GetMany fetches all names in one query and returns them in caller order.
func (s *SQLiteStore) GetMany(ctx context.Context, names []string) ([]Device, error) {
	if len(names) == 0 {
		return []Device{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	found, err := s.query(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE name IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Device, len(found))
	for _, d := range found {
		byName[d.Name] = d
	}

	out := make([]Device, 0, len(names))
	for _, n := range names {
		d, ok := byName[n]
		if !ok {
			return nil, notFound(n)
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

// ListByPrefix matches on the leading bytes of name; unlike LIKE this is
// case-sensitive and has no wildcard characters to escape.
func (s *SQLiteStore) ListByPrefix(ctx context.Context, prefix string) ([]Device, error) {
	return s.query(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE substr(name, 1, length(?)) = ? ORDER BY name",
		prefix, prefix)
}

// List returns every device ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Device, error) {
	return s.query(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY name")
}

// SetActive replaces the active flag.
func (s *SQLiteStore) SetActive(ctx context.Context, name string, active bool) (*Device, error) {
	return s.writeReturning(ctx, name, "setting active",
		"UPDATE devices SET active = ?, version = version + 1, updated_at = ? WHERE name = ?",
		active, formatTime(time.Now()), name)
}

// SetAttributes replaces the attributes payload.
func (s *SQLiteStore) SetAttributes(ctx context.Context, name string, attrs Attributes) (*Device, error) {
	return s.writeReturning(ctx, name, "setting attributes",
		"UPDATE devices SET attributes = ?, version = version + 1, updated_at = ? WHERE name = ?",
		nullableAttributes(attrs), formatTime(time.Now()), name)
}

// Toggle negates active in a single statement.
func (s *SQLiteStore) Toggle(ctx context.Context, name string) (*Device, error) {
	return s.writeReturning(ctx, name, "toggling",
		"UPDATE devices SET active = NOT active, version = version + 1, updated_at = ? WHERE name = ?",
		formatTime(time.Now()), name)
}

// Update performs a read-modify-write inside one immediate transaction.
func (s *SQLiteStore) Update(ctx context.Context, name string, fn UpdateFunc) (*Device, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("beginning update", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	current, err := scanDevice(tx.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, storageError("reading device for update", err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	updated, err := scanDevice(tx.QueryRowContext(ctx,
		`UPDATE devices SET active = ?, attributes = ?, version = version + 1, updated_at = ?
		 WHERE name = ? RETURNING `+deviceColumns,
		next.Active, nullableAttributes(next.Attributes), formatTime(time.Now()), name))
	if err != nil {
		return nil, storageError("writing device update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("committing update", err)
	}
	return updated, nil
}

// writeReturning runs a single-row UPDATE and scans the committed row.
func (s *SQLiteStore) writeReturning(ctx context.Context, name, op, query string, args ...any) (*Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, query+" RETURNING "+deviceColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, storageError(op, err)
	}
	return d, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("querying devices", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, storageError("scanning device", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating devices", err)
	}
	return devices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d         Device
		attrs     sql.NullString
		updatedAt string
	)
	if err := row.Scan(&d.Name, &d.Active, &attrs, &d.Version, &updatedAt); err != nil {
		return nil, err
	}
	if attrs.Valid && attrs.String != "" {
		d.Attributes = Attributes(attrs.String)
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
	}
	d.UpdatedAt = t
	return &d, nil
}

func nullableAttributes(a Attributes) sql.NullString {
	if len(a) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(a), Valid: true}
}
