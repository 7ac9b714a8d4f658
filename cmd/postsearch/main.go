package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devthoughts/postsearch/internal/config"
	"github.com/devthoughts/postsearch/internal/hydrate"
	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
	"github.com/devthoughts/postsearch/internal/sync"
	"github.com/devthoughts/postsearch/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postsearch",
		Short:         "Keeps a full-text search index in sync with the post store and serves relevance search",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newSyncCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newReindexCmd())

	return root
}

// loadSettings resolves and validates configuration for a command.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.LoadSettingsWithFlags(cmd.Root().PersistentFlags())
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return settings, nil
}

func indexOptions(settings *config.Settings) index.Options {
	return index.Options{
		PageSize:      settings.Search.PageSize,
		HighlightPre:  settings.Search.HighlightPre,
		HighlightPost: settings.Search.HighlightPost,
		WriteAttempts: settings.Sync.RetryAttempts,
	}
}

// newSyncCmd runs one synchronization pass. Invoked with zero arguments by
// an external scheduler: exit 0 on success (including per-document
// failures), non-zero on unrecoverable failure.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync of the post store into the search index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			logger, closer := config.NewSyncLogger(settings.Sync.LogPath)
			defer closer.Close()

			db, err := storage.Open(settings.DBPath())
			if err != nil {
				logger.Error("cannot open post store", "error", err)
				return err
			}
			defer db.Close()

			idx, err := index.Open(settings.IndexPath(), indexOptions(settings))
			if err != nil {
				logger.Error("cannot open search index", "error", err)
				return err
			}
			defer idx.Close()

			watermark := sync.NewWatermark(settings.StatePath())
			orch := sync.NewOrchestrator(db, idx, watermark, settings.Sync.BatchSize, logger)

			stats, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("=== Sync Complete ===")
			fmt.Printf("Mode:      %s\n", stats.Mode)
			fmt.Printf("Selected:  %d\n", stats.Selected)
			fmt.Printf("Indexed:   %d\n", stats.Indexed)
			fmt.Printf("Failed:    %d\n", stats.Failed)
			fmt.Printf("Watermark: %s\n", stats.Watermark.Format("2006-01-02T15:04:05Z"))
			fmt.Printf("Duration:  %v\n", stats.Duration)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger := config.NewLogger()

			db, err := storage.Open(settings.DBPath())
			if err != nil {
				return fmt.Errorf("open post store: %w", err)
			}
			defer db.Close()

			idx, err := index.Open(settings.IndexPath(), indexOptions(settings))
			if err != nil {
				return fmt.Errorf("open search index: %w", err)
			}
			defer idx.Close()

			server := web.NewServer(db, idx, settings.Search.PageSize, settings.Server.ProbeTimeout, logger)

			addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
			logger.Info("search API listening", "addr", addr)
			return http.ListenAndServe(addr, server.Handler())
		},
	}
}

func newSearchCmd() *cobra.Command {
	var viewer int64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search posts from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger := config.NewLogger()

			db, err := storage.Open(settings.DBPath())
			if err != nil {
				return fmt.Errorf("open post store: %w", err)
			}
			defer db.Close()

			idx, err := index.Open(settings.IndexPath(), indexOptions(settings))
			if err != nil {
				return fmt.Errorf("open search index: %w", err)
			}
			defer idx.Close()

			query := strings.Join(args, " ")
			result, err := idx.Search(query, 1)
			if err != nil {
				return err
			}

			items, err := hydrate.New(db, logger).Hydrate(result.Hits, viewer)
			if err != nil {
				return err
			}

			if len(items) == 0 {
				fmt.Println("No results found")
				return nil
			}

			fmt.Printf("Found %d results:\n\n", result.Total)
			for i, item := range items {
				fmt.Printf("%d. %s (by %s, %d likes, score %.3f)\n",
					i+1, item.ID, item.Username, item.LikeCount, item.Score)
				if len(item.Highlight) > 0 {
					fmt.Printf("   %s\n", item.Highlight[0])
				} else {
					fmt.Printf("   %s\n", item.Content)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&viewer, "viewer", 0, "Viewer user ID for the is_liked flag (0 = anonymous)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store and index document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			db, err := storage.Open(settings.DBPath())
			if err != nil {
				return fmt.Errorf("open post store: %w", err)
			}
			defer db.Close()

			idx, err := index.Open(settings.IndexPath(), indexOptions(settings))
			if err != nil {
				return fmt.Errorf("open search index: %w", err)
			}
			defer idx.Close()

			storeCount, err := db.CountPosts()
			if err != nil {
				return fmt.Errorf("count posts: %w", err)
			}
			indexCount, err := idx.DocCount()
			if err != nil {
				return fmt.Errorf("count index records: %w", err)
			}

			fmt.Println("=== Index Statistics ===")
			fmt.Printf("Posts in store: %d\n", storeCount)
			fmt.Printf("Posts in index: %d\n", indexCount)
			return nil
		},
	}
}

// newReindexCmd discards the index and rebuilds it from scratch. The change
// detector sees an empty index and plans a full run.
func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Discard the search index and rebuild it from the post store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			logger, closer := config.NewSyncLogger(settings.Sync.LogPath)
			defer closer.Close()

			if err := os.RemoveAll(settings.IndexPath()); err != nil {
				return fmt.Errorf("remove index: %w", err)
			}

			db, err := storage.Open(settings.DBPath())
			if err != nil {
				logger.Error("cannot open post store", "error", err)
				return err
			}
			defer db.Close()

			idx, err := index.Open(settings.IndexPath(), indexOptions(settings))
			if err != nil {
				logger.Error("cannot create search index", "error", err)
				return err
			}
			defer idx.Close()

			watermark := sync.NewWatermark(settings.StatePath())
			orch := sync.NewOrchestrator(db, idx, watermark, settings.Sync.BatchSize, logger)

			stats, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("=== Reindex Complete ===")
			fmt.Printf("Indexed:  %d\n", stats.Indexed)
			fmt.Printf("Failed:   %d\n", stats.Failed)
			fmt.Printf("Duration: %v\n", stats.Duration)
			return nil
		},
	}
}
