package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema changes",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := openClient()
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
		defer client.Close()

		if dryRun {
			ops, err := client.Plan(context.Background())
			if err != nil {
				fmt.Fprintln(os.Stderr, "❌ Dry run failed:", err)
				os.Exit(1)
			}
			printPlan(ops)
			return
		}

		ops, err := client.Migrate(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Migration failed:", err)
			os.Exit(1)
		}
		if len(ops) == 0 {
			color.New(color.FgGreen).Println("✅ Database matches the schema, nothing to do")
			return
		}
		green := color.New(color.FgGreen, color.Bold)
		for _, op := range ops {
			green.Printf("  ✔ %s\n", op)
		}
		fmt.Printf("✅ Applied %d change(s)\n", len(ops))
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the changes without applying them")
}
