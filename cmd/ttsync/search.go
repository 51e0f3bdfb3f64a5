package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit   int
	searchReindex bool
	searchArticle int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached articles offline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if searchReindex {
			if a.index == nil {
				return fmt.Errorf("search index is unavailable")
			}
			n, err := a.index.Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s indexed %d articles\n", successStyle.Render("✓"), n)
		}

		query := strings.Join(args, " ")
		if searchArticle > 0 {
			return searchOneArticle(cmd, a, searchArticle, query)
		}

		results, err := a.searcher().Search(ctx, query, searchLimit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("no matches"))
			return nil
		}

		t := newTable("ID", "FEED", "TITLE", "MATCH")
		for _, r := range results {
			if !r.IsArticle {
				t.addRow("feed "+strconv.Itoa(r.Feed.ID), truncateEnd(r.Feed.Title, 24), "", "")
				continue
			}
			feedTitle := ""
			if r.Feed != nil {
				feedTitle = r.Feed.Title
			}
			match := ""
			if len(r.Matches) > 0 {
				match = mutedStyle.Render(r.Matches[0].Field + ": " + truncateEnd(r.Matches[0].Text, 40))
			}
			t.addRow(strconv.Itoa(r.Article.ID), truncateEnd(feedTitle, 24), truncateEnd(r.Article.Title, 50), match)
		}
		t.render(out)
		return nil
	},
}

// searchOneArticle lists where query matches inside a single cached article.
func searchOneArticle(cmd *cobra.Command, a *app, id int, query string) error {
	out := cmd.OutOrStdout()
	article, err := a.store.GetArticle(cmd.Context(), id)
	if err != nil {
		return err
	}
	if article == nil {
		return fmt.Errorf("article %d is not cached", id)
	}

	results, err := a.searcher().SearchInArticle(article, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no matches"))
		return nil
	}

	fmt.Fprintln(out, headerStyle.Render(article.Title))
	t := newTable("FIELD", "MATCH")
	for _, m := range results[0].Matches {
		t.addRow(m.Field, truncateEnd(m.Text, 60))
	}
	t.render(out)
	return nil
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchReindex, "reindex", false, "rebuild the index from the cache first")
	searchCmd.Flags().IntVar(&searchArticle, "article", 0, "search inside a single cached article")
}
