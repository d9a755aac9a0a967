// Package migrations embeds the SQL schema applied by cmd/migrate.
package migrations

import "embed"

// SQL holds the numbered up/down migration files under sql/.
//
//go:embed sql/*.sql
var SQL embed.FS

// Seeds holds development fixtures applied by "migrate seed".
//
//go:embed seeds/*.sql
var Seeds embed.FS
