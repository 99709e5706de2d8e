package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the BigQuery dataset and tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts)
		},
	}
}

func runMigrate(opts *rootOptions) error {
	ctx := opts.context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Printf("Dataset %s is up to date\n", opts.Dataset)
	return nil
}
