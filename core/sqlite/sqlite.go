// Package sqlite opens SQLite databases through whichever driver the build
// selected: pure Go modernc.org/sqlite by default, or mattn/go-sqlite3 with
// the cgo_sqlite build tag.
//
// Use Open instead of sql.Open so callers never hard-code a driver name.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// DriverName returns the database/sql driver name of the linked driver.
func DriverName() string {
	return driverName
}

// DriverType returns "cgo" or "purego".
func DriverType() string {
	return driverType
}

// IsCGO reports whether the CGO driver is linked.
func IsCGO() bool {
	return driverType == "cgo"
}

// Open opens a SQLite database with the linked driver.
func Open(dataSourceName string) (*sql.DB, error) {
	return sql.Open(driverName, dataSourceName)
}

// OpenReadOnly opens a SQLite database in read-only mode.
func OpenReadOnly(path string) (*sql.DB, error) {
	return Open("file:" + path + "?mode=ro")
}

// OpenStore opens a database for an application store: a single connection,
// so that per-connection pragmas hold for every statement, with foreign keys
// enforced and a busy timeout.
func OpenStore(ctx context.Context, path string) (*sql.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// MustOpen opens a SQLite database and panics on error. It is meant for
// tests and initialization code.
func MustOpen(dataSourceName string) *sql.DB {
	db, err := Open(dataSourceName)
	if err != nil {
		panic(fmt.Sprintf("sqlite: failed to open %s: %v", dataSourceName, err))
	}
	return db
}

// Info describes the linked driver.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the linked driver.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}
