package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/strata/migrate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how the database compares to the schema",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := openClient()
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
		defer client.Close()

		ops, err := client.Plan(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Status error:", err)
			os.Exit(1)
		}

		pending := make(map[string][]migrate.Operation)
		for _, op := range ops {
			table := tableOf(op)
			pending[table] = append(pending[table], op)
		}

		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)
		for _, table := range client.Schema().Tables() {
			switch n := len(pending[table]); n {
			case 0:
				green.Printf("  ✔ %s\n", table)
			default:
				yellow.Printf("  ⚠ %s (%d pending)\n", table, n)
				for _, op := range pending[table] {
					fmt.Printf("      - %s\n", op)
				}
			}
		}
		if len(ops) == 0 {
			green.Println("\n✅ Up to date")
		} else {
			fmt.Printf("\n🕒 %d pending change(s); run `strata migrate` to apply\n", len(ops))
		}
	},
}

func tableOf(op migrate.Operation) string {
	switch op := op.(type) {
	case *migrate.CreateTable:
		return op.Table
	case *migrate.AddColumn:
		return op.Table
	case *migrate.AlterColumn:
		return op.Table
	}
	return ""
}
