// Package migrations embeds the SQL migration files into the binary so the
// bridge and CLI can create their schema without files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
