// Package migrations embeds the SQL schema of the violation archive.
package migrations

import "embed"

// FS holds the golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
