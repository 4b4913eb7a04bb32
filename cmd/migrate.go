package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog schema migrations",
	Long:  "Applies pending SQL migrations to the catalog schema in lexicographic order. SQLite catalogs are created in place.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cat, err := openCatalog(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cat.Close()

		if err := cat.migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("catalog schema up to date", zap.String("store", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
