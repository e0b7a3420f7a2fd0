package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/app"
	"github.com/unclebandit/followup-engine/internal/config"
	"github.com/unclebandit/followup-engine/internal/db"
	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/logger"
)

type rootOptions struct {
	DatabaseURL string
	Timeout     time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "seeder",
		Short: "Prepare a follow-up database",
	}
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "postgres DSN (defaults to DATABASE_URL)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall timeout")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Create the schema",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), opts, func(ctx context.Context, _ config.Config, conn *sql.DB, _ *zap.Logger) error {
				if err := db.Migrate(ctx, conn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var principal string
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Insert a demo sender, sequence and prospects",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), opts, func(ctx context.Context, cfg config.Config, conn *sql.DB, log *zap.Logger) error {
				repos := app.NewRepositories(conn)
				gen := &generator.Generator{
					Sequences:   repos.Sequences,
					Messages:    repos.Messages,
					Content:     app.Content(cfg),
					Logger:      log.Named("generator"),
					SlotTimeout: cfg.GenerationTimeout,
				}
				summary, err := seedDemo(ctx, repos, gen, principal)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded sender %d, sequence %d with %d messages, %d prospects for %s\n",
					summary.SenderID, summary.SequenceID, summary.Messages, len(summary.ProspectIDs), principal)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "acct-demo", "principal that owns the demo data")
	return cmd
}

func withDB(parent context.Context, opts *rootOptions, fn func(context.Context, config.Config, *sql.DB, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.DatabaseURL != "" {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, cfg, conn, log)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
