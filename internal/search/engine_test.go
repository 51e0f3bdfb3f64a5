package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/ttsync/internal/storage"
)

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.ReplaceCategories(ctx, []storage.Category{{ID: 1, Title: "Tech"}}))
	require.NoError(t, store.ReplaceFeeds(ctx, []storage.Feed{
		{ID: 10, CategoryID: 1, Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{ID: 11, CategoryID: 1, Title: "Kernel News", URL: "https://lwn.net/headlines/rss"},
	}))
	require.NoError(t, store.InsertArticles(ctx, []storage.Article{
		{ID: 1, FeedID: 10, Title: "Range over functions", Author: "Russ", Updated: time.Unix(100, 0),
			Content: "<p>Iterators arrive in <b>Go</b> 1.23</p>", URL: "https://go.dev/blog/range-functions"},
		{ID: 2, FeedID: 11, Title: "Scheduler rework", Author: "Jonathan",
			Updated: time.Unix(200, 0), Content: "<p>The new scheduler lands in 6.6</p>", URL: "https://lwn.net/Articles/1"},
		{ID: 3, FeedID: 11, Title: "Filesystem roundup", Author: "Jonathan",
			Updated: time.Unix(300, 0), Content: "bcachefs and iterators of another kind", URL: "https://lwn.net/Articles/2"},
	}))
	return store
}

func TestNewEngine(t *testing.T) {
	store := &storage.Store{}
	engine := NewEngine(store)
	assert.NotNil(t, engine)
	assert.Equal(t, store, engine.store)
}

func TestSearchMinLength(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	tests := []struct {
		name  string
		query string
	}{
		{name: "Empty query", query: ""},
		{name: "Single character query", query: "a"},
		{name: "Whitespace only", query: "   "},
		{name: "Only punctuation", query: "?!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.Search(context.Background(), tt.query, 10)
			assert.NoError(t, err)
			assert.NotNil(t, results)
			assert.Equal(t, 0, len(results), "short queries should return empty results")
		})
	}
}

func TestEngineSearch(t *testing.T) {
	engine := NewEngine(setupStore(t))
	ctx := context.Background()

	results, err := engine.Search(ctx, "scheduler", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsArticle)
	assert.Equal(t, 2, results[0].Article.ID)
	require.NotNil(t, results[0].Feed)
	assert.Equal(t, "Kernel News", results[0].Feed.Title)

	// Both hits are in content. The shorter body scores higher.
	results, err = engine.Search(ctx, "iterators", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Article.ID)

	results, err = engine.Search(ctx, "kernel", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.False(t, results[0].IsArticle)
	assert.Equal(t, 11, results[0].Feed.ID)

	results, err = engine.Search(ctx, "jonathan", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEngineSearchCanceled(t *testing.T) {
	engine := NewEngine(setupStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Search(ctx, "scheduler", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchInArticle(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	article := &storage.Article{
		ID:      1,
		Title:   "Test Article",
		Content: "This is test content",
	}

	tests := []struct {
		name        string
		query       string
		expectEmpty bool
	}{
		{name: "Empty query", query: "", expectEmpty: true},
		{name: "Short query", query: "a", expectEmpty: true},
		{name: "Valid query", query: "test", expectEmpty: false},
		{name: "No match", query: "absent", expectEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.SearchInArticle(article, tt.query)
			assert.NoError(t, err)
			assert.NotNil(t, results)
			assert.Equal(t, tt.expectEmpty, len(results) == 0)
		})
	}

	results, err := engine.SearchInArticle(nil, "test query")
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "simple words", input: "hello world", expected: []string{"hello", "world"}},
		{name: "with punctuation", input: "hello, world! test.", expected: []string{"hello", "world", "test"}},
		{name: "with numbers", input: "test123 456hello", expected: []string{"test123", "456hello"}},
		{name: "mixed case", input: "Hello WORLD Test", expected: []string{"hello", "world", "test"}},
		{name: "single characters filtered", input: "a b test c d word", expected: []string{"test", "word"}},
		{name: "empty string", input: "", expected: nil},
		{name: "special characters", input: "test@email.com hello-world", expected: []string{"test", "email", "com", "hello", "world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactlyten", truncate("exactlyten", 10))
	assert.Equal(t, "this is a…", truncate("this is a very long text", 10))
	assert.Equal(t, "", truncate("", 10))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain words", plainText("plain words"))
	assert.Equal(t, "Hello world", plainText("<p>Hello <em>world</em></p><script>var x = 1</script>"))
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(&storage.Store{})
	engine.now = func() time.Time { return now }

	assert.InDelta(t, 0.1, engine.recencyBoost(now), 1e-9)
	assert.InDelta(t, 0.05, engine.recencyBoost(now.Add(-84*time.Hour)), 1e-9)
	assert.Zero(t, engine.recencyBoost(now.Add(-8*24*time.Hour)))
	assert.InDelta(t, 0.1, engine.recencyBoost(now.Add(time.Hour)), 1e-9)
}

func TestScoreField(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	tests := []struct {
		name     string
		text     string
		terms    []string
		minScore float64
	}{
		{name: "exact match", text: "hello world", terms: []string{"hello"}, minScore: 2.0},
		{name: "partial match", text: "hello world", terms: []string{"hel"}, minScore: 1.0},
		{name: "no match", text: "hello world", terms: []string{"xyz"}, minScore: 0},
		{name: "empty text", text: "", terms: []string{"hello"}, minScore: 0},
		{name: "multiple terms", text: "hello world test", terms: []string{"hello", "test"}, minScore: 4.0},
		{name: "case insensitive", text: "HELLO WORLD", terms: []string{"hello"}, minScore: 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := engine.scoreField(tt.text, tt.terms, 1.0)
			assert.GreaterOrEqual(t, score, tt.minScore)
		})
	}

	assert.Zero(t, engine.scoreField("hello world", []string{"xyz"}, 1.0))
}

func TestFindBestSnippet(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	tests := []struct {
		name      string
		text      string
		terms     []string
		maxLength int
		contains  string
	}{
		{
			name:      "find term in text",
			text:      "This is a long text with the word hello in the middle and more text after",
			terms:     []string{"hello"},
			maxLength: 50,
			contains:  "hello",
		},
		{name: "empty text", text: "", terms: []string{"hello"}, maxLength: 50, contains: ""},
		{name: "text shorter than max", text: "short text", terms: []string{"short"}, maxLength: 100, contains: "short text"},
		{
			name:      "multiple terms",
			text:      "The quick brown fox jumps over the lazy dog",
			terms:     []string{"quick", "dog"},
			maxLength: 50,
			contains:  "quick",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snippet := engine.findBestSnippet(tt.text, tt.terms, tt.maxLength)
			if tt.contains != "" {
				assert.Contains(t, snippet, tt.contains)
			} else {
				assert.Equal(t, "", snippet)
			}
			assert.LessOrEqual(t, len(snippet), tt.maxLength)
		})
	}
}

func TestSearchFeed(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	feed := &storage.Feed{
		ID:    10,
		Title: "Test Feed",
		URL:   "https://example.com/feed.xml",
	}

	tests := []struct {
		name        string
		terms       []string
		expectMatch bool
	}{
		{name: "match title", terms: []string{"test"}, expectMatch: true},
		{name: "match URL", terms: []string{"example"}, expectMatch: true},
		{name: "no match", terms: []string{"nonexistent"}, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.searchFeed(feed, tt.terms)
			if tt.expectMatch {
				require.NotNil(t, result)
				assert.Equal(t, feed, result.Feed)
				assert.False(t, result.IsArticle)
				assert.Greater(t, result.Score, 0.0)
				assert.NotEmpty(t, result.Matches)
			} else {
				assert.Nil(t, result)
			}
		})
	}
}
