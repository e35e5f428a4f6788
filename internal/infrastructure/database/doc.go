// Package database manages the SQLite database file behind the device store.
//
// It owns the connection lifecycle (WAL mode, busy timeout, immediate
// transactions, a single pooled connection) and applies the embedded schema
// migrations shipped in the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql should ship with a matching .down.sql.
package database
