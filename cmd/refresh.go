package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pautahq/newsbot/internal/app"
	"github.com/pautahq/newsbot/internal/config"
	"github.com/pautahq/newsbot/internal/log"
	"github.com/pautahq/newsbot/internal/store"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [feed-id]",
	Short: "Run one ingestion pass over all active feeds, or a single feed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefresh(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(parent context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("feed id must be a positive integer, got %q", args[0])
		}
		count, err := a.Ingest.RefreshFeed(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrFeedNotFound) {
				return fmt.Errorf("feed %d does not exist", id)
			}
			return fmt.Errorf("refreshing feed %d: %w", id, err)
		}
		fmt.Printf("feed %d: %d new articles\n", id, count)
		return nil
	}

	feeds, err := a.Store.ActiveFeeds(ctx)
	if err != nil {
		return fmt.Errorf("listing active feeds: %w", err)
	}
	if len(feeds) == 0 {
		fmt.Println("no active feeds")
		return nil
	}

	total := 0
	for _, f := range feeds {
		count, err := a.Ingest.RefreshFeed(ctx, f.ID)
		if err != nil {
			logger.Warn("refresh failed", "feed_id", f.ID, "name", f.Name, "error", err)
			continue
		}
		fmt.Printf("%s: %d new articles\n", f.Name, count)
		total += count
	}
	fmt.Printf("total: %d new articles across %d feeds\n", total, len(feeds))
	return nil
}
