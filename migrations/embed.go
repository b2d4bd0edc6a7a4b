// Package migrations embeds the SQL schema of both services.
package migrations

import "embed"

// Account holds the PostgreSQL ledger schema.
//
//go:embed account/*.sql
var Account embed.FS

// Portfolio holds the SQLite holdings schema.
//
//go:embed portfolio/*.sql
var Portfolio embed.FS

// Seed holds optional demo data, one file per service.
//
//go:embed seed/*.sql
var Seed embed.FS
