package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/config"
	"github.com/tobsdb/nanoq/internal/conn"
	"github.com/tobsdb/nanoq/pkg"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a database over websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.config_path)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if err := cfg.Apply(); err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return conn.NewServer(db).Listen(cfg.Server.Port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on, overrides server.port")
	return cmd
}

// openDatabase connects the configured adapter and creates the schema's tables.
func openDatabase(ctx context.Context, cfg *config.Config) (*builder.Database, error) {
	a, err := cfg.NewAdapter()
	if err != nil {
		return nil, err
	}
	db := builder.NewDatabase(cfg.Database.Id, a)
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}

	schema, err := cfg.ReadSchema()
	if err != nil {
		return nil, err
	}
	if schema == "" {
		pkg.WarnLog("No schema provided, starting with no tables")
		return db, nil
	}
	if err := db.CreateTablesFromString(ctx, schema); err != nil {
		return nil, err
	}
	pkg.InfoLog("Using database", cfg.Database.Id, "with tables", db.TableNames())
	return db, nil
}
