package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mushscript/pkg/sqlstore"
	"github.com/crystal-mush/mushscript/pkg/trigfile"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Copy YAML trigger files into the SQLite database",
		Long: `Read every trigger from the YAML directory (--dir) and insert or
replace it in the SQLite database (--db).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			dir, err := trigfile.Open(cfg.TriggerDir)
			if err != nil {
				return err
			}
			db, err := sqlstore.Open(cfg.SQLitePath, cfg.SQLTimeout)
			if err != nil {
				return err
			}
			defer db.Close()

			rows := dir.All()
			for _, td := range rows {
				if err := db.PutTrigger(cmd.Context(), td); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d triggers into %s\n", len(rows), db.Path())
			return nil
		},
	}
}
