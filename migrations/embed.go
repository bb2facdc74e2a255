// Package migrations embeds SQL migration files for the server, the CLI and integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
