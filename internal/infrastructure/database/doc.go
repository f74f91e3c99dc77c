// Package database provides the SQLite connection used for local M307 state.
//
// The bridge and the CLI keep record backups here so a unit's six user
// records (limits, names, calibration, settings) can be restored after a
// factory reset or copied to a replacement unit.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying versioned migrations from any fs.FS
//   - A small transaction helper
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
