package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/strata/migrate"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show pending schema changes without applying them",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := openClient()
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
		defer client.Close()

		ops, err := client.Plan(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Plan failed:", err)
			os.Exit(1)
		}
		printPlan(ops)
	},
}

func printPlan(ops []migrate.Operation) {
	if len(ops) == 0 {
		color.New(color.FgGreen).Println("✅ Database matches the schema, nothing to do")
		return
	}
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	fmt.Printf("📋 %d pending change(s):\n", len(ops))
	for _, op := range ops {
		switch op.(type) {
		case *migrate.AlterColumn:
			yellow.Printf("  ~ %s\n", op)
		default:
			green.Printf("  + %s\n", op)
		}
	}
}
