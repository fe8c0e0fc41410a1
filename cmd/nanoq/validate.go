package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tobsdb/nanoq/internal/builder"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-file]",
		Short: "Check a schema file for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema_path := "./schema.nq"
			if len(args) > 0 {
				schema_path = args[0]
			}
			if abs, err := filepath.Abs(schema_path); err == nil {
				schema_path = abs
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking %s for errors\n", schema_path)

			schema_data, err := os.ReadFile(schema_path)
			if err != nil {
				return err
			}
			configs, err := builder.ParseSchema(string(schema_data))
			if err != nil {
				return fmt.Errorf("Invalid schema; %w", err)
			}

			fmt.Fprintf(out, "Schema checks successful: %d tables are valid\n", len(configs))
			return nil
		},
	}
}
