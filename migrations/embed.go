// Package migrations embeds the SQL schema of the Postgres upstream.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
