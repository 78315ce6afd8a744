// Package migrations embeds the blobstore schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
