package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/ttsync/internal/config"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss/ttrsstest"
)

// resetFlags restores every flag so state does not leak between runs of
// the shared root command.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfg = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

type cliFixture struct {
	srv    *ttrsstest.Server
	config string
	dir    string
}

// run executes a command against the fixture's configuration.
func (f *cliFixture) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, append([]string{"--config", f.config}, args...)...)
	require.NoError(t, err, out)
	return out
}

func setupCLI(t *testing.T) *cliFixture {
	t.Helper()
	srv := ttrsstest.New(t)
	srv.AddCategory(storage.Category{ID: 1, Title: "Tech"})
	srv.AddCategory(storage.Category{ID: 2, Title: "News"})
	srv.AddFeed(storage.Feed{ID: 10, CategoryID: 1, Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"})
	srv.AddFeed(storage.Feed{ID: 20, CategoryID: 2, Title: "Wire", URL: "https://news.example.com/rss"})
	srv.AddArticles(
		storage.Article{ID: 1, FeedID: 10, Title: "Range over functions", IsUnread: true,
			Content: "<p>Iterators in Go</p>", Updated: time.Unix(1700000000, 0)},
		storage.Article{ID: 2, FeedID: 20, Title: "Kernel scheduler rework", IsUnread: true,
			Content: "<p>EEVDF lands</p>", Updated: time.Unix(1700000100, 0)},
		storage.Article{ID: 3, FeedID: 20, Title: "Old news", Updated: time.Unix(1600000000, 0)},
	)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[server]
url = %q
username = %q
password = %q
allow_insecure = true

[database]
path = %q
state_path = %q
search_index = %q

[sync]
probe_subscriptions = false

[log]
level = "off"
`, srv.BaseURL(), srv.Username, srv.Password,
		filepath.Join(dir, "cache.db"), filepath.Join(dir, "state.db"), filepath.Join(dir, "index.bleve"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return &cliFixture{srv: srv, config: path, dir: dir}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	if !strings.Contains(out, "ttsync dev") {
		t.Errorf("Expected version output to contain 'ttsync dev', got: %s", out)
	}
	if !strings.Contains(out, "github.com/pders01/ttsync") {
		t.Errorf("Expected version output to contain 'github.com/pders01/ttsync', got: %s", out)
	}

	out, err = execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestGenerateConfigCommand(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), ".config", "ttsync", "config.toml")

	out, err := execute(t, "generate-config", "-o", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated default configuration at:")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configFile)
	}
	loaded, err := config.Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 5000, loaded.Sync.ArticleLimit)

	_, err = execute(t, "generate-config", "-o", configFile)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "generate-config", "-o", configFile, "--force")
	assert.NoError(t, err)
}

func TestSyncAndList(t *testing.T) {
	f := setupCLI(t)

	out := f.run(t, "sync")
	assert.Contains(t, out, "3 articles cached")
	assert.Contains(t, out, "2 unread")
	assert.Equal(t, 1, f.srv.CallCount("getCategories"))

	out = f.run(t, "categories")
	assert.Contains(t, out, "Tech")
	assert.Contains(t, out, "News")
	assert.Contains(t, out, "All articles")

	out = f.run(t, "feeds", "2")
	assert.Contains(t, out, "Wire")
	assert.NotContains(t, out, "Go Blog")

	out = f.run(t, "articles", "--unread")
	assert.Contains(t, out, "Range over functions")
	assert.Contains(t, out, "Kernel scheduler rework")
	assert.NotContains(t, out, "Old news")

	out = f.run(t, "articles", "--feed", "20")
	assert.Contains(t, out, "Old news")
	assert.NotContains(t, out, "Range over functions")

	out = f.run(t, "counters")
	assert.Contains(t, out, "Pending changes: 0")
	assert.Contains(t, out, "Highest article id: 3")
	assert.Contains(t, out, "Indexed articles: 3")
}

func TestScopedSync(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")
	f.srv.ResetCalls()

	f.run(t, "sync", "--feed", "10", "--force")
	calls := f.srv.Calls("getHeadlines")
	require.NotEmpty(t, calls)
	assert.Equal(t, "10", calls[0].Params["feed_id"])
	assert.Zero(t, f.srv.CallCount("getCategories"))
}

func TestMarkOfflineThenFlush(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")
	f.srv.ResetCalls()

	out := f.run(t, "--offline", "mark", "read", "1")
	assert.Contains(t, out, "1 changes pending")
	assert.Zero(t, f.srv.CallCount("updateArticle"))

	out = f.run(t, "articles", "--unread")
	assert.NotContains(t, out, "Range over functions")

	_, err := execute(t, "--config", f.config, "--offline", "flush")
	assert.ErrorIs(t, err, errOffline)

	out = f.run(t, "flush")
	assert.Contains(t, out, "Sent 1 marks and 0 notes, 0 still pending")
	a, _ := f.srv.Article(1)
	assert.False(t, a.IsUnread)
}

func TestMarkOnline(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")

	out := f.run(t, "mark", "star", "2,3")
	assert.Contains(t, out, "saved")
	a, _ := f.srv.Article(3)
	assert.True(t, a.IsStarred)

	f.run(t, "note", "2", "read", "later")
	a, _ = f.srv.Article(2)
	assert.Equal(t, "read later", a.Note)

	f.run(t, "mark", "read", "--feed", "20")
	assert.Equal(t, 1, f.srv.CallCount("catchupFeed"))

	_, err := execute(t, "--config", f.config, "mark", "star", "--feed", "20")
	assert.Error(t, err)
	_, err = execute(t, "--config", f.config, "mark", "shout", "1")
	assert.ErrorContains(t, err, "unknown action")
}

func TestSearchCommand(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")

	out := f.run(t, "search", "scheduler")
	assert.Contains(t, out, "Kernel scheduler rework")
	assert.NotContains(t, out, "Range over functions")

	out = f.run(t, "search", "--reindex", "iterators")
	assert.Contains(t, out, "indexed 3 articles")
	assert.Contains(t, out, "Range over functions")

	out = f.run(t, "search", "nothing-like-this")
	assert.Contains(t, out, "no matches")
}

func TestSearchInsideArticle(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")

	out := f.run(t, "search", "--article", "1", "iterators")
	assert.Contains(t, out, "Range over functions")
	assert.Contains(t, out, "content")
	assert.Contains(t, out, "Iterators in Go")

	out = f.run(t, "search", "--article", "2", "iterators")
	assert.Contains(t, out, "no matches")

	_, err := execute(t, "--config", f.config, "search", "--article", "99", "iterators")
	assert.ErrorContains(t, err, "article 99 is not cached")
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := setupCLI(t)
	f.run(t, "sync")

	out := f.run(t, "subscribe", "https://example.com/feed.xml", "--cat", "1")
	assert.Contains(t, out, "subscribed")
	require.Equal(t, 1, f.srv.CallCount("subscribeToFeed"))

	out = f.run(t, "unsubscribe", "20")
	assert.Contains(t, out, "unsubscribed from feed 20")
	out = f.run(t, "articles")
	assert.NotContains(t, out, "Kernel scheduler rework")

	f.srv.SetSubscribeCode(3)
	_, err := execute(t, "--config", f.config, "subscribe", "https://example.com/page.html")
	assert.ErrorContains(t, err, "server refused subscription")
}

func TestOfflineCommandsNeedServer(t *testing.T) {
	f := setupCLI(t)

	for _, args := range [][]string{
		{"sync"},
		{"subscribe", "https://example.com/feed.xml"},
		{"unsubscribe", "10"},
		{"share", "title", "https://example.com"},
	} {
		_, err := execute(t, append([]string{"--config", f.config, "--offline"}, args...)...)
		assert.ErrorIs(t, err, errOffline, args[0])
	}
	assert.Zero(t, f.srv.CallCount("login"))
}

func TestInvalidServerURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf("[server]\nurl = \"https://rss.example.org/?op=x\"\n\n[database]\npath = %q\nstate_path = %q\nsearch_index = %q\n\n[log]\nlevel = \"off\"\n",
		filepath.Join(dir, "cache.db"), filepath.Join(dir, "state.db"), filepath.Join(dir, "index.bleve"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := execute(t, "--config", path, "flush")
	assert.ErrorContains(t, err, "server.url")

	// Local commands do not need the server.
	_, err = execute(t, "--config", path, "categories")
	assert.NoError(t, err)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1,2", "3", ""})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)

	_, err = parseIDs([]string{"x"})
	assert.Error(t, err)
	_, err = parseIDs([]string{","})
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	tbl := newTable("ID", "TITLE")
	tbl.addRow("1", "short")
	tbl.addRow("100", "longer title")

	var buf bytes.Buffer
	tbl.render(&buf)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID   TITLE", lines[0])
	assert.Equal(t, "1    short", lines[1])
	assert.Equal(t, "100  longer title", lines[2])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncateEnd("short", 10))
	assert.Equal(t, "abcd…", truncateEnd("abcdefgh", 5))
	assert.Equal(t, "", truncateEnd("abc", 0))
	assert.Equal(t, "ab…gh", truncateMiddle("abcdefgh", 5))
	assert.Equal(t, "…", truncateMiddle("abcdefgh", 1))
	assert.Equal(t, "short", truncateMiddle("short", 10))
}
