package commands

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/dedup"
	"github.com/dvloznov/momoney/internal/gcsarchive"
	"github.com/dvloznov/momoney/internal/importer"
	"github.com/dvloznov/momoney/internal/logger"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var budgetApp bool
	var archiveBucket string
	pipeOpts := &pipelineOptions{}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bank export file (QFX, OFX or CSV)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, pipeOpts, args[0], budgetApp, archiveBucket)
		},
	}

	cmd.Flags().BoolVar(&budgetApp, "budget-app", false, "treat the file as a budget-app register export with pre-assigned categories")
	cmd.Flags().StringVar(&archiveBucket, "archive-bucket", "", "GCS bucket to archive the file to after a successful import")
	pipeOpts.register(cmd)

	return cmd
}

func runImport(opts *rootOptions, pipeOpts *pipelineOptions, path string, budgetApp bool, archiveBucket string) error {
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
	imp := importer.New(st, cfg, dedup.NewEngine(st), pipe)

	var res *importer.Result
	if budgetApp {
		res, err = imp.ProcessBudgetAppFile(ctx, path)
	} else {
		res, err = imp.ProcessFile(ctx, path)
	}
	if err != nil {
		return err
	}

	printResult(res)

	if res.Status == importer.StatusError {
		return fmt.Errorf("import failed: %s", res.ErrorMessage)
	}
	if archiveBucket != "" && res.Status == importer.StatusSuccess {
		archiveImport(ctx, archiveBucket, path)
	}
	return nil
}

func printResult(res *importer.Result) {
	switch res.Status {
	case importer.StatusDuplicate:
		fmt.Printf("%s: already imported, skipping\n", res.FileName)
	case importer.StatusError:
		fmt.Printf("%s: failed\n", res.FileName)
	default:
		fmt.Printf("%s: %d new, %d duplicates, %d categorized, %d flagged",
			res.FileName, res.NewCount, res.DuplicateCount, res.CategorizedCount, res.FlaggedCount)
		if res.SkippedCount > 0 {
			fmt.Printf(", %d skipped", res.SkippedCount)
		}
		fmt.Println()
	}
}

// archiveImport copies the file to GCS. Archiving is best effort; the
// import already committed, so a failure here is only logged.
func archiveImport(ctx context.Context, bucket, path string) {
	log := logger.FromContext(ctx)
	uri, err := gcsarchive.ArchiveFile(ctx, bucket, path, civil.DateOf(time.Now()))
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("archiving import file failed")
		return
	}
	log.Info().Str("uri", uri).Msg("archived import file")
}
