package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	cleanup := func() {
		store.Close()
	}

	return store, cleanup
}

func intPtr(n int) *int { return &n }

func article(id, feedID int, updated int64) Article {
	return Article{
		ID:      id,
		FeedID:  feedID,
		Title:   "Article",
		Updated: time.Unix(updated, 0),
	}
}

func seedFeeds(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ReplaceCategories(ctx, []Category{{ID: 1, Title: "Tech"}, {ID: 2, Title: "News"}}))
	require.NoError(t, s.ReplaceFeeds(ctx, []Feed{
		{ID: 10, CategoryID: 1, Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{ID: 11, CategoryID: 1, Title: "another feed", URL: "https://b.example.org/rss"},
		{ID: 20, CategoryID: 2, Title: "Wire", URL: "https://c.example.org/rss"},
		{ID: 30, CategoryID: 0, Title: "Loose", URL: "https://d.example.org/rss"},
	}))
}

func TestOpen_MemoryAndMigrations(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	version, err := getSchemaVersion(store.db)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)
	assert.True(t, store.Available())
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.UpsertCategories(ctx, []Category{{ID: 5, Title: "Kept"}}))
	require.NoError(t, store.Close())

	store, err = Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	cat, err := store.GetCategory(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "Kept", cat.Title)
}

func TestStore_UnavailableIsNoop(t *testing.T) {
	store, cleanup := setupTestStore(t)
	cleanup()
	ctx := context.Background()

	assert.False(t, store.Available())

	err := store.InsertArticles(ctx, []Article{article(1, 10, 100)})
	assert.NoError(t, err)

	a, err := store.GetArticle(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, a)

	n, err := store.GetUnreadCount(ctx, CategoryAll, true)
	assert.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := store.PurgeLastArticles(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, deleted)

	var nilStore *Store
	cats, err := nilStore.GetCategories(ctx, true, true)
	assert.NoError(t, err)
	assert.Empty(t, cats)
}

func TestStore_ReplaceCategoriesKeepsVirtual(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.UpsertCategories(ctx, []Category{
		{ID: CategoryStarred, Title: "Starred articles", Unread: 3},
		{ID: 1, Title: "old"},
		{ID: 2, Title: "gone"},
	}))

	require.NoError(t, store.ReplaceCategories(ctx, []Category{{ID: 1, Title: "Tech"}, {ID: 3, Title: "art"}}))

	cats, err := store.GetCategories(ctx, true, true)
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, CategoryStarred, cats[0].ID)
	assert.Equal(t, 3, cats[0].Unread)
	// Real categories sort case-insensitively by title.
	assert.Equal(t, "art", cats[1].Title)
	assert.Equal(t, "Tech", cats[2].Title)

	real, err := store.GetCategories(ctx, false, true)
	require.NoError(t, err)
	assert.Len(t, real, 2)

	unreadOnly, err := store.GetCategories(ctx, true, false)
	require.NoError(t, err)
	assert.Len(t, unreadOnly, 1)
}

func TestStore_ReplaceFeedsKeepsIcon(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	seedFeeds(t, store)
	require.NoError(t, store.SetFeedIcon(ctx, 10, []byte{0x1, 0x2}))

	require.NoError(t, store.ReplaceFeeds(ctx, []Feed{
		{ID: 10, CategoryID: 2, Title: "Go Blog (moved)"},
		{ID: -11, CategoryID: -2, Title: "Important"},
	}))

	feed, err := store.GetFeed(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, 2, feed.CategoryID)
	assert.Equal(t, []byte{0x1, 0x2}, feed.Icon)

	gone, err := store.GetFeed(ctx, 20)
	require.NoError(t, err)
	assert.Nil(t, gone)

	all, err := store.GetFeeds(ctx, CategoryAll)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	labels, err := store.GetLabelFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "Important", labels[0].Title)
}

func TestStore_GetFeedsOrderedByTitle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	seedFeeds(t, store)

	feeds, err := store.GetFeeds(ctx, 1)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "another feed", feeds[0].Title)
	assert.Equal(t, "Go Blog", feeds[1].Title)
}

func TestStore_ReplaceCategoryFeeds(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	seedFeeds(t, store)

	require.NoError(t, store.ReplaceCategoryFeeds(ctx, 1, []Feed{
		{ID: 10, CategoryID: 1, Title: "Go Blog renamed"},
		{ID: 12, CategoryID: 1, Title: "New"},
	}))

	feeds, err := store.GetFeeds(ctx, 1)
	require.NoError(t, err)
	var ids []int
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []int{10, 12}, ids)

	other, err := store.GetFeeds(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
