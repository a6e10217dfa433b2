// Package database provides SQLite connection management and schema
// migrations for the feeder's local store.
//
// # Features
//
//   - WAL journal mode and busy-timeout pragmas for concurrent access
//   - Embedded migrations applied at startup, each in its own transaction
//   - Health check and connection pool statistics
//   - Single-writer pool sized for SQLite's locking model
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The store holds command audit entries, feed sessions, and feeding
// schedules. Time-series sensor history is written to InfluxDB instead.
package database
