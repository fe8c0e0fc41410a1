package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	config_path string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "nanoq",
		Short:        "nanoq - an embeddable query engine",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.config_path, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newValidateCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
