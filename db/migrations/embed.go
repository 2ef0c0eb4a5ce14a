// Package dbmigrations exposes embedded SQL migrations for oddstream binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into oddstream binaries.
//
//go:embed *.sql
var Files embed.FS
