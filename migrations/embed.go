// Package migrations embeds the SQL migration files so the migration
// runner works regardless of the process working directory.
package migrations

import "embed"

// FS contains every .sql file in this directory, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
