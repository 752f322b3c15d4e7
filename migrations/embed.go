// Package migrations embeds the PostgreSQL schema and seed data.
package migrations

import "embed"

// Files holds sql/*.up.sql, sql/*.down.sql and seeds/*.sql.
//
//go:embed sql/*.sql seeds/*.sql
var Files embed.FS

const (
	Dir      = "sql"
	SeedsDir = "seeds"
)
