// Package database provides SQLite connectivity for Triggerflow Core.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned schema migrations read from any fs.FS (see /migrations)
//   - Health checks for the API health endpoint
//
// Tables are declared STRICT and timestamps are stored as fixed-width
// UTC text so they compare lexically.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive. New columns must be NULLABLE or have DEFAULT
// values, and each up file should ship with a down file.
package database
