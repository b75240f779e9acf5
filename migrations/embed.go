// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds the versioned up/down SQL files
//
//go:embed *.sql
var FS embed.FS
