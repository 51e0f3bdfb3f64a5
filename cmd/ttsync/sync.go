package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pders01/ttsync/internal/feed"
	"github.com/pders01/ttsync/internal/storage"
)

var errOffline = errors.New("cannot reach the server while --offline is set")

var (
	syncForce  bool
	syncFeedID int
	syncCatID  int
	syncUnread bool
	purgeForce bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send local changes and refresh the cache",
	Long: `Send pending marks and notes to the server, then refresh categories, feeds
and articles. With --feed or --cat only that scope's articles are refreshed.

Scopes synced within the update interval are skipped unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return errOffline
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts := feed.SyncOptions{OverrideOffline: true}
		if syncForce {
			opts = feed.Forced
		}

		switch {
		case cmd.Flags().Changed("feed"):
			err = a.manager.UpdateArticles(ctx, syncFeedID, false, syncUnread, opts)
		case cmd.Flags().Changed("cat"):
			err = a.manager.UpdateArticles(ctx, syncCatID, true, syncUnread, opts)
		default:
			err = a.manager.RefreshAll(ctx, opts)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if lastErr := a.manager.PullLastError(); lastErr != nil {
			printWarning(out, "sync incomplete: %v", lastErr)
		}
		return printSummary(ctx, cmd, a)
	},
}

func printSummary(ctx context.Context, cmd *cobra.Command, a *app) error {
	total, err := a.store.CountArticles(ctx)
	if err != nil {
		return err
	}
	unread, err := a.store.GetUnreadCount(ctx, storage.CategoryAll, true)
	if err != nil {
		return err
	}
	pending, err := a.manager.Queue().Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d articles cached, %s, %d pending\n",
		successStyle.Render("✓"), total, unreadStyle.Render(fmt.Sprintf("%d unread", unread)), pending)
	return nil
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending marks and notes without fetching",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return errOffline
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.manager.SynchronizeStatus(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if lastErr := a.manager.PullLastError(); lastErr != nil {
			printWarning(out, "flush incomplete: %v", lastErr)
		}
		left, err := a.manager.Queue().Len(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Sent %d marks and %d notes, %d still pending\n", res.Marks, res.Notes, left)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached articles whose feed is gone",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.manager.PurgeOrphanedArticles(cmd.Context(), purgeForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d articles\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, flushCmd, purgeCmd)

	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "sync scopes even when they are fresh")
	syncCmd.Flags().IntVar(&syncFeedID, "feed", 0, "only refresh the articles of this feed or label")
	syncCmd.Flags().IntVar(&syncCatID, "cat", 0, "only refresh the articles of this category")
	syncCmd.Flags().BoolVar(&syncUnread, "unread", false, "with --feed or --cat, only fetch unread articles")
	syncCmd.MarkFlagsMutuallyExclusive("feed", "cat")

	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "purge even if the cleanup interval has not passed")
}
