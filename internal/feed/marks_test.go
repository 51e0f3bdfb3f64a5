package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/ttsync/internal/storage"
)

// cached seeds the server and the cache with the same articles.
func cached(t *testing.T, f *fixture, articles ...storage.Article) {
	t.Helper()
	seedServer(f.srv)
	f.srv.AddArticles(articles...)
	f.syncFeeds(t)
	require.NoError(t, f.m.CacheArticles(context.Background(), Forced))
	f.srv.ResetCalls()
}

func TestManager_OfflineReadThenFlush(t *testing.T) {
	f := setupManager(t)
	cached(t, f, serverArticle(7, 10, 100, true))
	ctx := context.Background()

	f.conn.Set(false)
	require.NoError(t, f.m.SetArticleRead(ctx, []int{7}, true))

	assert.Zero(t, f.srv.CallCount("updateArticle"))
	marks, err := f.m.Queue().List(ctx)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, 7, marks[0].ArticleID)
	require.NotNil(t, marks[0].Unread)
	assert.False(t, *marks[0].Unread)
	assert.Empty(t, unreadIDs(t, f.store))

	// Flushing while offline does nothing.
	res, err := f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Marks)
	assert.Equal(t, 1, pendingLen(t, f.m))

	f.conn.Set(true)
	res, err = f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marks)

	calls := f.srv.Calls("updateArticle")
	require.Len(t, calls, 1)
	assert.Equal(t, "7", calls[0].Params["article_ids"])
	assert.Equal(t, "2", calls[0].Params["field"])
	assert.Equal(t, "0", calls[0].Params["mode"])
	assert.Zero(t, pendingLen(t, f.m))

	a, _ := f.srv.Article(7)
	assert.False(t, a.IsUnread)
}

func TestManager_OnlineMarkIsSentAndCleared(t *testing.T) {
	f := setupManager(t)
	cached(t, f, serverArticle(1, 10, 100, true), serverArticle(2, 10, 100, true))
	ctx := context.Background()

	require.NoError(t, f.m.SetArticleStarred(ctx, []int{1, 2}, true))
	calls := f.srv.Calls("updateArticle")
	require.Len(t, calls, 1)
	assert.Equal(t, "1,2", calls[0].Params["article_ids"])
	assert.Equal(t, "0", calls[0].Params["field"])
	assert.Equal(t, "1", calls[0].Params["mode"])
	assert.Zero(t, pendingLen(t, f.m))

	a, err := f.store.GetArticle(ctx, 2)
	require.NoError(t, err)
	assert.True(t, a.IsStarred)
	starred, err := f.store.GetCategory(ctx, storage.CategoryStarred)
	require.NoError(t, err)
	require.NotNil(t, starred)
	assert.Equal(t, 2, starred.Unread)

	require.NoError(t, f.m.SetArticlePublished(ctx, []int{1}, true))
	srvArticle, _ := f.srv.Article(1)
	assert.True(t, srvArticle.IsPublished)
}

func TestManager_FailedMarkStaysPending(t *testing.T) {
	f := setupManager(t)
	cached(t, f, serverArticle(1, 10, 100, true))
	ctx := context.Background()

	f.srv.FailHTTP("updateArticle", 503)
	require.NoError(t, f.m.SetArticleRead(ctx, []int{1}, true))
	assert.Equal(t, 1, pendingLen(t, f.m))
	assert.Empty(t, unreadIDs(t, f.store))

	// The flush error is transient, so the caller sees no error.
	res, err := f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Marks)
	assert.Equal(t, 1, pendingLen(t, f.m))

	f.srv.ClearFailures()
	_, err = f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingLen(t, f.m))
}

func TestManager_SetArticleNote(t *testing.T) {
	f := setupManager(t)
	cached(t, f, serverArticle(3, 10, 100, false))
	ctx := context.Background()

	f.conn.Set(false)
	require.NoError(t, f.m.SetArticleNote(ctx, 3, "read later"))
	a, err := f.store.GetArticle(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "read later", a.Note)
	assert.Zero(t, f.srv.CallCount("updateArticle"))

	f.conn.Set(true)
	res, err := f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notes)
	srvArticle, _ := f.srv.Article(3)
	assert.Equal(t, "read later", srvArticle.Note)

	require.NoError(t, f.m.SetArticleNote(ctx, 3, "done"))
	srvArticle, _ = f.srv.Article(3)
	assert.Equal(t, "done", srvArticle.Note)
	assert.Zero(t, pendingLen(t, f.m))
}

func TestManager_SetReadCatchesUp(t *testing.T) {
	f := setupManager(t)
	cached(t, f,
		serverArticle(1, 10, 100, true),
		serverArticle(2, 10, 101, true),
		serverArticle(3, 20, 102, true),
	)
	ctx := context.Background()

	require.NoError(t, f.m.SetRead(ctx, 1, true))
	calls := f.srv.Calls("catchupFeed")
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0].Params["feed_id"])
	assert.Equal(t, "1", calls[0].Params["is_cat"])
	assert.Equal(t, []int{3}, unreadIDs(t, f.store))
	assert.Zero(t, pendingLen(t, f.m))

	feed, err := f.store.GetFeed(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, feed.Unread)
}

func TestManager_SetReadOfflineQueuesMarks(t *testing.T) {
	f := setupManager(t)
	cached(t, f, serverArticle(1, 10, 100, true), serverArticle(2, 10, 101, true))
	ctx := context.Background()

	f.conn.Set(false)
	require.NoError(t, f.m.SetRead(ctx, 10, false))
	assert.Zero(t, f.srv.CallCount("catchupFeed"))
	assert.Equal(t, 2, pendingLen(t, f.m))

	f.conn.Set(true)
	_, err := f.m.SynchronizeStatus(ctx)
	require.NoError(t, err)
	a, _ := f.srv.Article(2)
	assert.False(t, a.IsUnread)
}

func TestManager_SetLabel(t *testing.T) {
	f := setupManager(t)
	f.srv.AddLabel(storage.Label{ID: -1025, Caption: "later"})
	cached(t, f, serverArticle(1, 10, 100, true))
	ctx := context.Background()

	require.NoError(t, f.m.SetLabel(ctx, []int{1}, -1025, true))
	labelled, err := f.store.GetArticles(ctx, storage.ArticleFilter{ID: -1025})
	require.NoError(t, err)
	require.Len(t, labelled, 1)
	assert.Equal(t, 1, labelled[0].ID)
	srvArticle, _ := f.srv.Article(1)
	require.Len(t, srvArticle.Labels, 1)

	f.conn.Set(false)
	assert.ErrorIs(t, f.m.SetLabel(ctx, []int{1}, -1025, false), ErrOffline)
}

func TestManager_ShareToPublished(t *testing.T) {
	f := setupManager(t)
	cached(t, f)
	ctx := context.Background()

	require.NoError(t, f.m.ShareToPublished(ctx, "Shared", "https://example.com/x", "<p>x</p>"))
	require.Equal(t, 1, f.srv.CallCount("shareToPublished"))

	require.NoError(t, f.m.UpdateArticles(ctx, storage.CategoryPublished, true, false, SyncOptions{}))
	published, err := f.store.GetArticles(ctx, storage.ArticleFilter{ID: storage.CategoryPublished, IsCategory: true})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "Shared", published[0].Title)

	f.conn.Set(false)
	assert.ErrorIs(t, f.m.ShareToPublished(ctx, "x", "https://example.com/y", ""), ErrOffline)
}
