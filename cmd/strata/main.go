// Command strata plans and applies schema migrations for a YAML-declared
// strata schema.
package main

import (
	// Database drivers available to the CLI.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func main() {
	execute()
}
