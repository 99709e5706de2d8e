package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/dedup"
	"github.com/dvloznov/momoney/internal/importer"
	"github.com/dvloznov/momoney/internal/logger"
	"github.com/dvloznov/momoney/internal/watcher"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var dir string
	var interval time.Duration
	var archiveBucket string
	pipeOpts := &pipelineOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a folder and import dropped export files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, pipeOpts, dir, interval, archiveBucket)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "import", "folder to watch for export files")
	cmd.Flags().DurationVar(&interval, "interval", watcher.DefaultPollInterval, "poll interval")
	cmd.Flags().StringVar(&archiveBucket, "archive-bucket", "", "GCS bucket to archive imported files to")
	pipeOpts.register(cmd)

	return cmd
}

func runWatch(opts *rootOptions, pipeOpts *pipelineOptions, dir string, interval time.Duration, archiveBucket string) error {
	ctx, stop := signal.NotifyContext(opts.context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	var proc watcher.Processor = importer.New(st, cfg, dedup.NewEngine(st), pipe)
	if archiveBucket != "" {
		proc = &archivingProcessor{proc: proc, bucket: archiveBucket}
	}

	w := watcher.New(dir, proc)
	w.PollInterval = interval

	log := logger.FromContext(ctx)
	log.Info().
		Str("dir", dir).
		Dur("interval", interval).
		Msg("watching for export files")
	return w.Run(ctx)
}

// archivingProcessor archives successfully imported files to GCS after
// the wrapped processor commits them.
type archivingProcessor struct {
	proc   watcher.Processor
	bucket string
}

func (a *archivingProcessor) ProcessFile(ctx context.Context, path string) (*importer.Result, error) {
	res, err := a.proc.ProcessFile(ctx, path)
	if err != nil || res == nil || res.Status != importer.StatusSuccess {
		return res, err
	}
	archiveImport(ctx, a.bucket, path)
	return res, nil
}
