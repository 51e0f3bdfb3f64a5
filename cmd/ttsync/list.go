package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pders01/ttsync/internal/storage"
)

var (
	listAll      bool
	articlesFeed int
	articlesCat  int
	articlesOnly bool
	articlesMax  int
)

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cats"},
	Short:   "List cached categories with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		cats, err := a.store.GetCategories(cmd.Context(), true, listAll)
		if err != nil {
			return err
		}

		t := newTable("ID", "CATEGORY", "UNREAD")
		for _, c := range cats {
			title := c.Title
			if storage.IsVirtualCategory(c.ID) {
				title = mutedStyle.Render(title)
			}
			t.addRow(strconv.Itoa(c.ID), title, unreadCell(c.Unread))
		}
		t.render(cmd.OutOrStdout())
		return nil
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds [category-id]",
	Short: "List cached feeds, optionally of one category",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catID := storage.CategoryAll
		if len(args) == 1 {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid category id %q", args[0])
			}
			catID = id
		}

		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		feeds, err := a.store.GetFeeds(cmd.Context(), catID)
		if err != nil {
			return err
		}
		if catID == storage.CategoryAll {
			labels, err := a.store.GetLabelFeeds(cmd.Context())
			if err != nil {
				return err
			}
			feeds = append(feeds, labels...)
		}

		t := newTable("ID", "FEED", "UNREAD", "URL")
		for _, f := range feeds {
			t.addRow(strconv.Itoa(f.ID), truncateEnd(f.Title, 40), unreadCell(f.Unread), mutedStyle.Render(truncateMiddle(f.URL, 50)))
		}
		t.render(cmd.OutOrStdout())
		return nil
	},
}

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "List cached articles, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := storage.ArticleFilter{ID: storage.CategoryAll, IsCategory: true, OnlyUnread: articlesOnly, Limit: articlesMax}
		switch {
		case cmd.Flags().Changed("feed"):
			filter.ID, filter.IsCategory = articlesFeed, false
		case cmd.Flags().Changed("cat"):
			filter.ID = articlesCat
		}

		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		articles, err := a.store.GetArticles(cmd.Context(), filter)
		if err != nil {
			return err
		}

		t := newTable("ID", "FLAGS", "UPDATED", "TITLE")
		for _, art := range articles {
			title := truncateEnd(art.Title, 60)
			if art.IsUnread {
				title = unreadStyle.Render(title)
			} else {
				title = readStyle.Render(title)
			}
			t.addRow(strconv.Itoa(art.ID), flags(art), mutedStyle.Render(art.Updated.Format("2006-01-02 15:04")), title)
		}
		t.render(cmd.OutOrStdout())
		return nil
	},
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Recalculate and show unread counters and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if err := a.store.CalculateCounters(ctx); err != nil {
			return err
		}
		virtual, err := a.store.VirtualCategories(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		t := newTable("ID", "VIEW", "UNREAD")
		for _, c := range virtual {
			t.addRow(strconv.Itoa(c.ID), c.Title, unreadCell(c.Unread))
		}
		t.render(out)

		st, err := a.state.Load()
		if err != nil {
			return err
		}
		marks, err := a.store.GetPendingMarks(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s %d\n", headerStyle.Render("Pending changes:"), len(marks))
		fmt.Fprintf(out, "%s %d\n", headerStyle.Render("Highest article id:"), st.SinceID)
		lastSync := "never"
		if !st.LastSync.IsZero() {
			lastSync = st.LastSync.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Last sync:"), lastSync)
		if a.index != nil {
			if n, err := a.index.DocCount(); err == nil {
				fmt.Fprintf(out, "%s %d\n", headerStyle.Render("Indexed articles:"), n)
			}
		}
		return nil
	},
}

func unreadCell(n int) string {
	if n == 0 {
		return readStyle.Render("0")
	}
	return unreadStyle.Render(strconv.Itoa(n))
}

// flags renders unread, starred and published as a fixed-width marker.
func flags(a storage.Article) string {
	b := []byte("---")
	if a.IsUnread {
		b[0] = 'U'
	}
	if a.IsStarred {
		b[1] = 'S'
	}
	if a.IsPublished {
		b[2] = 'P'
	}
	return accentStyle.Render(string(b))
}

func init() {
	rootCmd.AddCommand(categoriesCmd, feedsCmd, articlesCmd, countersCmd)

	categoriesCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include categories without unread articles")

	articlesCmd.Flags().IntVar(&articlesFeed, "feed", 0, "only articles of this feed or label")
	articlesCmd.Flags().IntVar(&articlesCat, "cat", 0, "only articles of this category or virtual category")
	articlesCmd.Flags().BoolVarP(&articlesOnly, "unread", "u", false, "only unread articles")
	articlesCmd.Flags().IntVarP(&articlesMax, "limit", "n", 50, "maximum number of articles, 0 for all")
	articlesCmd.MarkFlagsMutuallyExclusive("feed", "cat")
}
