package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"leavn/api/internal/app"
	"leavn/api/internal/config"
	"leavn/api/internal/explorer"
	"leavn/api/internal/logging"
	"leavn/api/internal/search"
	"leavn/api/internal/store"
	"leavn/api/internal/tags"
)

type options struct {
	cfg         config.Config
	databaseURL string
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.Load()}

	rootCmd := &cobra.Command{
		Use:           "tagctl",
		Short:         "Operate the leavn tag index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database", opts.cfg.DatabaseURL, "database URL (postgres://... or sqlite://path)")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newReindexCmd(opts),
		newGraphCmd(opts),
		newRecommendCmd(opts),
	)
	return rootCmd
}

func openStore(ctx context.Context, opts *options) (*store.DB, *store.SQLStore, error) {
	db, err := store.Open(ctx, opts.databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store.NewSQLStore(db), nil
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", db.Dialect())
			return nil
		},
	}
}

func newReindexCmd(opts *options) *cobra.Command {
	var meiliURL, meiliKey string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch index from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(meiliURL) == "" {
				return errors.New("--meili-url (or MEILI_URL) is required")
			}
			logger, err := logging.New(opts.cfg.Env)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(meiliURL, meiliKey, logger.Named("search"))
			defer meili.Close()
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch at %s is not reachable", meiliURL)
			}

			count, err := search.NewService(meili, st, logger.Named("search")).Resync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d associations\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&meiliURL, "meili-url", opts.cfg.MeiliURL, "Meilisearch URL")
	cmd.Flags().StringVar(&meiliKey, "meili-key", opts.cfg.MeiliMasterKey, "Meilisearch API key")
	return cmd
}

func newGraphCmd(opts *options) *cobra.Command {
	var metadataPath, configPath string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the explorer graph as JSON",
		Long: `Build the relationship graph from a metadata file and print it as JSON.

Without --metadata the fallback graph is printed. Unlike the API, a
metadata file that cannot be read or produces an invalid graph is an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if configPath != "" {
				cfg.ExplorerConfigPath = configPath
			}
			static, err := app.ExplorerStatic(cfg)
			if err != nil {
				return err
			}

			graph := static.Fallback()
			if metadataPath != "" {
				maps, err := explorer.FileSource{Path: metadataPath}.Load(cmd.Context())
				if err != nil {
					return err
				}
				graph = explorer.Build(maps, static)
				if err := graph.Validate(); err != nil {
					return fmt.Errorf("built graph is invalid: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(graph)
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "metadata file (YAML or JSON)")
	cmd.Flags().StringVar(&configPath, "config", "", "explorer config override file")
	return cmd
}

func newRecommendCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recommend <reference>",
		Short: "List tags recommended for a verse reference",
		Example: `  tagctl recommend "Genesis 1:5"
  tagctl recommend "1 John 4:8" --limit 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			usage, err := st.ListChapterUsage(cmd.Context(), tags.ChapterPrefix(args[0]))
			if err != nil {
				return err
			}
			for _, name := range tags.Rank(usage, limit) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", tags.DefaultRecommendLimit, "maximum number of tags")
	return cmd
}
