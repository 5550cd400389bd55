// Package dbmigrations exposes embedded SQL migrations for loyalty-bridge binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into loyalty-bridge binaries.
//
//go:embed *.sql
var Files embed.FS
