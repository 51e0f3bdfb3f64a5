package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/ttsync/internal/feed"
	"github.com/pders01/ttsync/internal/storage"
)

var (
	markFeed     bool
	markCategory bool
	subscribeCat int
)

type markAction struct {
	kind  storage.MarkKind
	value bool
}

var markActions = map[string]markAction{
	"read":      {storage.MarkUnread, false},
	"unread":    {storage.MarkUnread, true},
	"star":      {storage.MarkStarred, true},
	"unstar":    {storage.MarkStarred, false},
	"publish":   {storage.MarkPublished, true},
	"unpublish": {storage.MarkPublished, false},
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}

var markCmd = &cobra.Command{
	Use:   "mark <read|unread|star|unstar|publish|unpublish> <id>...",
	Short: "Change article flags",
	Long: `Change the flags of cached articles. The change is applied locally at once
and sent to the server when it is reachable, or on the next sync otherwise.

With --feed or --cat, "mark read <id>" marks a whole feed or category read.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, ok := markActions[args[0]]
		if !ok {
			return fmt.Errorf("unknown action %q", args[0])
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if markFeed || markCategory {
			if args[0] != "read" {
				return fmt.Errorf("--feed and --cat only work with \"read\"")
			}
			for _, id := range ids {
				if err := a.manager.SetRead(ctx, id, markCategory); err != nil {
					return err
				}
			}
		} else {
			switch action.kind {
			case storage.MarkUnread:
				err = a.manager.SetArticleRead(ctx, ids, !action.value)
			case storage.MarkStarred:
				err = a.manager.SetArticleStarred(ctx, ids, action.value)
			case storage.MarkPublished:
				err = a.manager.SetArticlePublished(ctx, ids, action.value)
			}
			if err != nil {
				return err
			}
		}

		return reportPending(cmd, a)
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <article-id> <text>",
	Short: "Set the note of an article",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid article id %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.SetArticleNote(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		return reportPending(cmd, a)
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <add|remove> <label-id> <article-id>...",
	Short: "Assign or remove a label (needs the server)",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var assign bool
		switch args[0] {
		case "add":
			assign = true
		case "remove":
		default:
			return fmt.Errorf("unknown action %q", args[0])
		}
		labelID, err := strconv.Atoi(args[1])
		if err != nil || !storage.IsLabel(labelID) {
			return fmt.Errorf("invalid label id %q", args[1])
		}
		ids, err := parseIDs(args[2:])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.SetLabel(cmd.Context(), ids, labelID, assign); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓")+" label updated")
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <title> <url> [content]",
	Short: "Publish a link to the Published feed (needs the server)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return errOffline
		}
		content := ""
		if len(args) == 3 {
			content = args[2]
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.ShareToPublished(cmd.Context(), args[0], args[1], content); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓")+" shared")
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <url>",
	Short: "Subscribe to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return errOffline
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.manager.Subscribe(cmd.Context(), args[0], subscribeCat)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("server refused subscription: %s", res)
		}
		out := cmd.OutOrStdout()
		if res.FeedID != 0 {
			fmt.Fprintf(out, "%s %s (feed %d)\n", successStyle.Render("✓"), res, res.FeedID)
		} else {
			fmt.Fprintf(out, "%s %s\n", successStyle.Render("✓"), res)
		}
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <feed-id>",
	Short: "Unsubscribe from a feed and drop its cached articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid feed id %q", args[0])
		}
		if offline {
			return errOffline
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Unsubscribe(cmd.Context(), id); err != nil {
			if errors.Is(err, feed.ErrOffline) {
				return errOffline
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s unsubscribed from feed %d\n", successStyle.Render("✓"), id)
		return nil
	},
}

// reportPending tells the user when changes are waiting for the server.
func reportPending(cmd *cobra.Command, a *app) error {
	n, err := a.manager.Queue().Len(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if n > 0 {
		fmt.Fprintf(out, "%s %d changes pending until the next sync\n", mutedStyle.Render("•"), n)
		return nil
	}
	fmt.Fprintln(out, successStyle.Render("✓")+" saved")
	return nil
}

func init() {
	rootCmd.AddCommand(markCmd, noteCmd, labelCmd, shareCmd, subscribeCmd, unsubscribeCmd)

	markCmd.Flags().BoolVar(&markFeed, "feed", false, "ids are feeds: mark all their articles read")
	markCmd.Flags().BoolVar(&markCategory, "cat", false, "ids are categories: mark all their articles read")
	markCmd.MarkFlagsMutuallyExclusive("feed", "cat")

	subscribeCmd.Flags().IntVar(&subscribeCat, "cat", 0, "category to subscribe into")
}
