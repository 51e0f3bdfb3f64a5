package feed

import (
	"context"
	"fmt"
	"slices"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss"
)

// fetchLimit halves n while the client is in low-memory mode.
func (m *Manager) fetchLimit(n int) int {
	if m.client.LowMemory() {
		n /= 2
	}
	return max(n, 1)
}

// CacheArticles runs the global two-phase cache cycle. Phase A fetches the
// unread articles, skipping those already cached with the same update time.
// Phase B fetches everything above the high-water mark. The unread state of
// the whole cache is then rebuilt from both phases.
func (m *Manager) CacheArticles(ctx context.Context, opts SyncOptions) error {
	return m.run(ctx, scopeCache, opts, m.cacheArticles)
}

func (m *Manager) cacheArticles(ctx context.Context) error {
	limit := m.fetchLimit(m.config.Sync.CacheLimit)

	known, err := m.store.KnownUpdates(ctx, storage.KnownAll)
	if err != nil {
		return fmt.Errorf("loading known articles: %w", err)
	}
	unreadOmitter := ttrss.NewIDUpdatedOmitter(known)
	unread, err := m.client.GetHeadlines(ctx, ttrss.HeadlinesRequest{
		FeedID:   storage.CategoryAll,
		ViewMode: ttrss.ViewUnread,
		Limit:    limit,
		Omitter:  unreadOmitter,
	})
	if err != nil {
		return err
	}
	// A truncated phase A cannot tell which cached articles became read.
	complete := len(unread) < limit && !m.client.LowMemory()

	sinceID, err := m.state.SinceID()
	if err != nil {
		return fmt.Errorf("loading high-water mark: %w", err)
	}
	req := ttrss.HeadlinesRequest{
		FeedID:   storage.CategoryAll,
		ViewMode: ttrss.ViewAll,
		SinceID:  sinceID,
		Limit:    limit,
	}
	if sinceID > 0 {
		newest, err := m.store.GetArticle(ctx, sinceID)
		if err != nil {
			return fmt.Errorf("loading newest article: %w", err)
		}
		if newest != nil {
			req.Omitter = ttrss.NewIDUnreadOmitter(newest.Updated)
		}
	}
	changed, err := m.client.GetHeadlines(ctx, req)
	if err != nil {
		return err
	}

	articles := dedupe(unread, changed)
	// Phase B drops unread articles before their updated time is known, so
	// its omissions say nothing about unread state. Only phase A's do.
	unreadIDs := unreadOmitter.Omitted()
	maxID := sinceID
	for _, a := range articles {
		if a.IsUnread {
			unreadIDs = append(unreadIDs, a.ID)
		}
		maxID = max(maxID, a.ID)
	}
	for _, id := range unreadIDs {
		maxID = max(maxID, id)
	}

	if err := m.commit(ctx, articles); err != nil {
		return err
	}
	if complete {
		err = m.store.ResetUnread(ctx, unreadIDs)
	} else {
		err = m.store.MergeUnread(ctx, unreadIDs)
	}
	if err != nil {
		return fmt.Errorf("reconciling unread state: %w", err)
	}

	if err := m.state.SetSinceID(maxID); err != nil {
		return fmt.Errorf("saving high-water mark: %w", err)
	}
	if err := m.state.SetLastSync(m.now()); err != nil {
		return fmt.Errorf("saving last sync: %w", err)
	}
	debuglog.Infof("sync: cached %d articles, %d unread, since id %d", len(articles), len(unreadIDs), maxID)
	return m.store.CalculateCounters(ctx)
}

// UpdateArticles refreshes one feed, label or category. The unread articles
// are always fetched. Unless onlyUnread is set, the rest of the scope
// follows. Starred and Published scopes are not append-only, so they are
// fetched without the high-water mark and stale flags are cleared after.
func (m *Manager) UpdateArticles(ctx context.Context, id int, isCategory, onlyUnread bool, opts SyncOptions) error {
	return m.run(ctx, articlesScope(id, isCategory), opts, func(ctx context.Context) error {
		return m.updateArticles(ctx, id, isCategory, onlyUnread)
	})
}

func (m *Manager) updateArticles(ctx context.Context, id int, isCategory, onlyUnread bool) error {
	unreadCount, err := m.store.GetUnreadCount(ctx, id, isCategory)
	if err != nil {
		return fmt.Errorf("counting unread: %w", err)
	}
	limit := m.fetchLimit(max(unreadCount, m.config.Sync.MinUpdateLimit))
	// Virtual categories are addressed as feeds on the wire.
	remoteIsCat := isCategory && id >= storage.CategoryUncategorized

	known, err := m.store.KnownUpdates(ctx, storage.KnownAll)
	if err != nil {
		return fmt.Errorf("loading known articles: %w", err)
	}
	unreadOmitter := ttrss.NewIDUpdatedOmitter(known)
	unread, err := m.client.GetHeadlines(ctx, ttrss.HeadlinesRequest{
		FeedID:     id,
		IsCategory: remoteIsCat,
		ViewMode:   ttrss.ViewUnread,
		Limit:      limit,
		Omitter:    unreadOmitter,
	})
	if err != nil {
		return err
	}

	var rest []storage.Article
	if !onlyUnread {
		if rest, err = m.fetchRest(ctx, id, remoteIsCat, limit); err != nil {
			return err
		}
	}

	articles := dedupe(unread, rest)
	if err := m.commit(ctx, articles); err != nil {
		return err
	}
	if err := m.store.MergeUnread(ctx, unreadOmitter.Omitted()); err != nil {
		return fmt.Errorf("reconciling unread state: %w", err)
	}
	debuglog.Debugf("sync: scope %s got %d articles", articlesScope(id, isCategory), len(articles))
	return m.store.CalculateCounters(ctx)
}

// fetchRest fetches the non-unread part of a scope. For Starred and
// Published it also clears the flag on cached articles the server no longer
// lists.
func (m *Manager) fetchRest(ctx context.Context, id int, remoteIsCat bool, limit int) ([]storage.Article, error) {
	var kind storage.MarkKind
	switch id {
	case storage.CategoryStarred:
		kind = storage.MarkStarred
	case storage.CategoryPublished:
		kind = storage.MarkPublished
	default:
		sinceID, err := m.state.SinceID()
		if err != nil {
			return nil, fmt.Errorf("loading high-water mark: %w", err)
		}
		known, err := m.store.KnownUpdates(ctx, storage.KnownAll)
		if err != nil {
			return nil, fmt.Errorf("loading known articles: %w", err)
		}
		return m.client.GetHeadlines(ctx, ttrss.HeadlinesRequest{
			FeedID:     id,
			IsCategory: remoteIsCat,
			ViewMode:   ttrss.ViewAll,
			SinceID:    sinceID,
			Limit:      limit,
			Omitter:    ttrss.NewIDUpdatedOmitter(known),
		})
	}

	known, err := m.store.KnownUpdates(ctx, storage.KnownMarked)
	if err != nil {
		return nil, fmt.Errorf("loading marked articles: %w", err)
	}
	omitter := ttrss.NewIDUpdatedOmitter(known)
	articles, err := m.client.GetHeadlines(ctx, ttrss.HeadlinesRequest{
		FeedID:   id,
		ViewMode: ttrss.ViewAll,
		Limit:    limit,
		Omitter:  omitter,
	})
	if err != nil {
		return nil, err
	}

	listed := omitter.Omitted()
	for _, a := range articles {
		listed = append(listed, a.ID)
	}
	// A truncated listing only proves absence above its lowest id.
	minID := 0
	if len(articles) >= limit || m.client.LowMemory() {
		if len(listed) == 0 {
			return articles, nil
		}
		minID = slices.Min(listed)
	}
	cleared, err := m.store.PurgeMarked(ctx, kind, minID, listed)
	if err != nil {
		return nil, fmt.Errorf("clearing %s flags: %w", kind, err)
	}
	if cleared > 0 {
		debuglog.Infof("sync: cleared %s on %d articles", kind, cleared)
	}
	return articles, nil
}

// commit stores a batch, applies the retention ceiling and keeps the search
// index in step.
func (m *Manager) commit(ctx context.Context, articles []storage.Article) error {
	if len(articles) > 0 {
		if err := m.store.InsertArticles(ctx, articles); err != nil {
			return fmt.Errorf("saving articles: %w", err)
		}
	}
	deleted, err := m.store.PurgeLastArticles(ctx, m.config.Sync.ArticleLimit)
	if err != nil {
		return fmt.Errorf("applying retention: %w", err)
	}
	if len(deleted) > 0 {
		debuglog.Infof("sync: retention removed %d articles", len(deleted))
	}
	m.reindex(ctx, articles, deleted)
	return nil
}

// reindex is best effort; the cache stays authoritative.
func (m *Manager) reindex(ctx context.Context, articles []storage.Article, deleted []int) {
	if m.indexer == nil {
		return
	}
	if len(articles) > 0 {
		if err := m.indexer.IndexArticles(ctx, articles); err != nil {
			debuglog.Warnf("search: indexing %d articles: %v", len(articles), err)
		}
	}
	if len(deleted) > 0 {
		if err := m.indexer.DeleteArticles(ctx, deleted); err != nil {
			debuglog.Warnf("search: removing %d articles: %v", len(deleted), err)
		}
	}
}

// dedupe concatenates the lists, keeping the first copy of each id.
func dedupe(lists ...[]storage.Article) []storage.Article {
	seen := make(map[int]bool)
	var out []storage.Article
	for _, list := range lists {
		for _, a := range list {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	return out
}
