package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/strata/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the schema file without touching a database",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := loadSchema()
		if err != nil {
			red := color.New(color.FgRed, color.Bold)
			var verrs *schema.ValidationErrors
			if errors.As(err, &verrs) {
				red.Printf("❌ %s is not a valid schema:\n", schemaFile)
				for _, v := range verrs.Errors {
					fmt.Printf("  - %s\n", v)
				}
			} else {
				red.Println("❌", err)
			}
			os.Exit(1)
		}

		green := color.New(color.FgGreen)
		for _, table := range s.Tables() {
			green.Printf("  ✔ %s", table)
			fmt.Printf(" (%d columns, %d relations)\n",
				len(s.Columns(table)), len(s.Relations(table)))
		}
		color.New(color.FgGreen, color.Bold).Printf("✅ %s is valid\n", schemaFile)
	},
}
