// Package migrations embeds the schema migrations shipped with the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
