// Package migrations embeds the SQL migrations of the local credential
// database. They are applied with goose at startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
