// Package migrations embeds the SQL schema migrations into the binary.
//
// Files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and sit at the
// root of FS, which is what database.DB.Migrate expects.
package migrations

import "embed"

// FS holds every migration file in this directory.
//
//go:embed *.sql
var FS embed.FS
