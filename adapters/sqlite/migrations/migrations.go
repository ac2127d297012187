// Package migrations embeds the SQLite schema of the event tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
