// Package commands wires the momoney CLI. Each subcommand is thin glue
// over the core packages: load config, open the store, run, print.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/aiclient"
	"github.com/dvloznov/momoney/internal/buildinfo"
	"github.com/dvloznov/momoney/internal/categorize"
	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/gmailclient"
	"github.com/dvloznov/momoney/internal/logger"
	"github.com/dvloznov/momoney/internal/store"
	bqstore "github.com/dvloznov/momoney/internal/store/bigquery"
)

const defaultDataset = "momoney"

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	ConfigDir string
	Project   string
	Dataset   string
	Verbose   bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "momoney",
		Short:   "Bank transaction import and categorization",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigDir, "config", "config", "directory holding accounts.yaml, categories.yaml and rules.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.Project, "project", "", "Google Cloud project (defaults to GOOGLE_CLOUD_PROJECT)")
	rootCmd.PersistentFlags().StringVar(&opts.Dataset, "dataset", defaultDataset, "BigQuery dataset")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newMigrateCommand(opts))
	rootCmd.AddCommand(newImportCommand(opts))
	rootCmd.AddCommand(newCategorizeCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newReviewCommand(opts))
	rootCmd.AddCommand(newReconcileCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newSyncNotionCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// context returns a base context carrying the configured logger.
func (o *rootOptions) context() context.Context {
	log := logger.New(o.Verbose)
	return logger.WithContext(context.Background(), log)
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) openStore(ctx context.Context) (*bqstore.Store, error) {
	project := o.Project
	if project == "" {
		project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if project == "" {
		return nil, fmt.Errorf("no project set: use --project or GOOGLE_CLOUD_PROJECT")
	}
	st, err := bqstore.New(ctx, project, o.Dataset)
	if err != nil {
		return nil, fmt.Errorf("opening BigQuery store: %w", err)
	}
	return st, nil
}

// pipelineOptions holds the flags for the optional categorization
// collaborators. The Gemini client and Gmail receipt lookup are opt-in;
// without them the pipeline runs rules and history matching only.
type pipelineOptions struct {
	AI         bool
	Model      string
	GmailCreds string
	GmailUser  string
}

func (p *pipelineOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&p.AI, "ai", false, "enable Gemini fallback categorization")
	cmd.Flags().StringVar(&p.Model, "model", aiclient.DefaultModelName, "Gemini model name")
	cmd.Flags().StringVar(&p.GmailCreds, "gmail-credentials", "", "service account JSON file for Gmail receipt lookup")
	cmd.Flags().StringVar(&p.GmailUser, "gmail-user", "", "mailbox to impersonate for receipt lookup")
}

func (p *pipelineOptions) build(ctx context.Context, st store.Store, cfg *config.Config) (*categorize.Pipeline, error) {
	var ai categorize.AIClient
	if p.AI {
		client, err := aiclient.New(ctx, p.Model)
		if err != nil {
			return nil, fmt.Errorf("creating Gemini client: %w", err)
		}
		ai = client
	}

	var receipts *categorize.ReceiptLookup
	if p.GmailCreds != "" {
		if ai == nil {
			return nil, fmt.Errorf("receipt lookup needs the model for extraction: pass --ai with --gmail-credentials")
		}
		if p.GmailUser == "" {
			return nil, fmt.Errorf("--gmail-user is required with --gmail-credentials")
		}
		mail, err := gmailclient.New(ctx, p.GmailCreds, p.GmailUser)
		if err != nil {
			return nil, fmt.Errorf("creating Gmail client: %w", err)
		}
		receipts = categorize.NewReceiptLookup(mail, st, ai, cfg)
	}

	return categorize.NewPipeline(st, cfg, receipts, ai), nil
}
