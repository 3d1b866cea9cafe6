// Package migrations embeds the schema of the development forum database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
