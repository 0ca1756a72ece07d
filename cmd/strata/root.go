package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var schemaFile string

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Schema-driven migrations for strata projects",
	Long: `strata compares a YAML schema declaration with the connected
database and converges the two: missing tables and columns are created,
nullability drift is corrected, and nothing is ever dropped.

Examples:

  strata validate
  strata plan
  strata migrate
  DATABASE_URL=postgres://localhost/app strata status
`,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "schema", "s", "schema.yaml", "Schema file to load")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}
