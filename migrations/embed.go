package migrations

import "embed"

// Files holds the marketplace schema. Migrations are applied in version
// order by goose when the API starts against Postgres.
//
//go:embed *.sql
var Files embed.FS
