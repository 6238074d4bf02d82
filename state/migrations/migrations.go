package migrations

import "embed"

// FS holds the migration sources so goose can discover their versions.
//
//go:embed *.go
var FS embed.FS
