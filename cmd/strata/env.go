package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	strsql "github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

func loadEnv() {
	// A missing .env file is fine; the variables may come from the
	// environment directly.
	_ = godotenv.Load()
}

func databaseURL() (string, error) {
	loadEnv()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return "", fmt.Errorf("DATABASE_URL not set (in .env or environment)")
	}
	return url, nil
}

// parseURL splits a connection URL into the strata dialect, the
// database/sql driver name and the driver-specific source string.
func parseURL(url string) (dialectName, driverName, source string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return dialect.Postgres, "pgx", url, nil
	case strings.HasPrefix(url, "mysql://"):
		return dialect.MySQL, "mysql", strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return dialect.SQLite, "sqlite", strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"):
		return dialect.SQLite, "sqlite", url, nil
	default:
		return "", "", "", fmt.Errorf("unrecognized DATABASE_URL %q", url)
	}
}

func loadSchema() (*schema.Schema, error) {
	loadEnv()
	file := schemaFile
	if env := os.Getenv("STRATA_SCHEMA"); env != "" && !rootCmd.PersistentFlags().Changed("schema") {
		file = env
	}
	return schema.LoadFile(file)
}

func openClient() (*strata.Client, error) {
	s, err := loadSchema()
	if err != nil {
		return nil, err
	}
	url, err := databaseURL()
	if err != nil {
		return nil, err
	}
	dialectName, driverName, source, err := parseURL(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return strata.NewClient(strsql.OpenDB(dialectName, db), s), nil
}
