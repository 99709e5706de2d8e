package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newCategorizeCommand(opts *rootOptions) *cobra.Command {
	var limit int
	pipeOpts := &pipelineOptions{}

	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize pending and flagged transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategorize(opts, pipeOpts, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transactions to process")
	pipeOpts.register(cmd)

	return cmd
}

func runCategorize(opts *rootOptions, pipeOpts *pipelineOptions, limit int) error {
	ctx := opts.context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	pipe, err := pipeOpts.build(ctx, st, cfg)
	if err != nil {
		return err
	}

	summary, err := pipe.CategorizePending(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d transactions (%d transfers linked)\n", summary.Total, summary.TransferCount)
	methods := make([]string, 0, len(summary.MethodCounts))
	for m := range summary.MethodCounts {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		fmt.Printf("  %-20s %d\n", m, summary.MethodCounts[m])
	}
	return nil
}
