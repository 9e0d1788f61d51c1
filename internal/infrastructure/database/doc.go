// Package database provides SQLite storage for the cover bridge.
//
// The bridge keeps a small amount of durable state: the last known state of
// each cover (so a restart can restore open/closed before the first poll) and
// a bounded history of state changes. This package owns the connection and
// schema migrations; the coverstore package owns the queries.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows reads during writes
//   - A single connection serialises writers and keeps ":memory:" databases alive
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are embedded by the migrations package.
package database
