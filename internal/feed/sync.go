package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/pending"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss"
)

const scopeIcons = "icons"

// SynchronizeStatus sends every pending mutation to the server. Offline it
// does nothing.
func (m *Manager) SynchronizeStatus(ctx context.Context) (pending.FlushResult, error) {
	if !m.conn.IsConnected() {
		return pending.FlushResult{}, nil
	}
	res, err := m.queue.Flush(ctx)
	if err != nil {
		return res, m.settle(ctx, "status", err)
	}
	return res, nil
}

// PurgeOrphanedArticles deletes articles whose feed is gone. Unless force is
// set it runs at most once per cleanup interval.
func (m *Manager) PurgeOrphanedArticles(ctx context.Context, force bool) (int, error) {
	st, err := m.state.Load()
	if err != nil {
		return 0, fmt.Errorf("loading sync state: %w", err)
	}
	if !force && m.now().Sub(st.LastCleanup) < m.config.Sync.CleanupInterval {
		return 0, nil
	}

	deleted, err := m.store.PurgeOrphanedArticles(ctx)
	if err != nil {
		return 0, fmt.Errorf("purging orphans: %w", err)
	}
	if err := m.state.SetLastCleanup(m.now()); err != nil {
		return len(deleted), fmt.Errorf("saving last cleanup: %w", err)
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	debuglog.Infof("sync: purged %d orphaned articles", len(deleted))
	m.reindex(ctx, nil, deleted)
	return len(deleted), m.CalculateCounters(ctx)
}

// Subscribe validates feedURL, optionally checks it serves a feed, and asks
// the server to subscribe. On success the category's feeds are refreshed.
func (m *Manager) Subscribe(ctx context.Context, feedURL string, categoryID int) (ttrss.SubscribeResult, error) {
	normalized, err := m.urlValidator.ValidateAndNormalize(feedURL)
	if err != nil {
		return ttrss.SubscribeResult{}, fmt.Errorf("invalid feed URL: %w", err)
	}

	if m.config.Sync.ProbeSubscriptions {
		probe, err := m.prober.Probe(ctx, normalized)
		switch {
		case errors.Is(err, ErrNotAFeed):
			return ttrss.SubscribeResult{}, err
		case err != nil:
			// The server may reach hosts this machine cannot.
			debuglog.Warnf("sync: %v", err)
		default:
			debuglog.Infof("sync: %s is a %s feed %q with %d items", normalized, probe.FeedType, probe.Title, probe.Items)
		}
	}

	if !m.online(ctx, true) {
		return ttrss.SubscribeResult{}, ErrOffline
	}
	res, err := m.client.Subscribe(ctx, normalized, categoryID)
	if err != nil {
		return res, fmt.Errorf("subscribing to %s: %w", normalized, err)
	}
	if !res.OK() {
		return res, nil
	}

	m.clock.invalidate(feedsScope(storage.CategoryAll))
	if err := m.UpdateFeeds(ctx, categoryID, Forced); err != nil {
		return res, err
	}
	return res, nil
}

// Unsubscribe removes a feed on the server, then locally with its articles.
func (m *Manager) Unsubscribe(ctx context.Context, feedID int) error {
	if !m.online(ctx, true) {
		return ErrOffline
	}
	if err := m.client.Unsubscribe(ctx, feedID); err != nil {
		return fmt.Errorf("unsubscribing from feed %d: %w", feedID, err)
	}
	if err := m.store.DeleteFeed(ctx, feedID); err != nil {
		return fmt.Errorf("deleting feed %d: %w", feedID, err)
	}
	m.clock.invalidate("")
	_, err := m.PurgeOrphanedArticles(ctx, true)
	return err
}

// FetchIcons downloads the icon of every cached feed, revalidating those
// fetched before.
func (m *Manager) FetchIcons(ctx context.Context, opts SyncOptions) (int, error) {
	var updated atomic.Int64
	err := m.run(ctx, scopeIcons, opts, func(ctx context.Context) error {
		feeds, err := m.store.GetFeeds(ctx, storage.CategoryAll)
		if err != nil {
			return fmt.Errorf("listing feeds: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.workers())
		for _, f := range feeds {
			g.Go(func() error {
				changed, err := m.fetchIcon(gctx, f.ID)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					debuglog.Debugf("sync: icon of feed %d: %v", f.ID, err)
					return nil
				}
				if changed {
					updated.Add(1)
				}
				return nil
			})
		}
		return g.Wait()
	})
	return int(updated.Load()), err
}

func (m *Manager) fetchIcon(ctx context.Context, feedID int) (bool, error) {
	meta, err := m.state.IconMeta(feedID)
	if err != nil {
		return false, fmt.Errorf("loading icon metadata: %w", err)
	}
	if meta == nil {
		meta = &storage.IconMetadata{FeedID: feedID}
	}

	data, resp, err := m.icons.Fetch(ctx, feedID, meta)
	if err != nil {
		return false, err
	}
	m.icons.UpdateMetadata(meta, resp)
	if data != nil {
		if err := m.store.SetFeedIcon(ctx, feedID, data); err != nil {
			return false, fmt.Errorf("saving icon: %w", err)
		}
	}
	if err := m.state.SaveIconMeta(meta); err != nil {
		return false, fmt.Errorf("saving icon metadata: %w", err)
	}
	return data != nil, nil
}

func (m *Manager) workers() int {
	return max(m.config.Sync.Workers, 1)
}

// RefreshAll runs a complete cycle: pending mutations first, then
// categories, feeds, the global article cache and each category, with the
// per-category updates spread over the worker pool. A remote failure stops
// the cycle after the step that hit it; the error stays available through
// PullLastError.
func (m *Manager) RefreshAll(ctx context.Context, opts SyncOptions) error {
	if err := m.client.PullLastError(); err != nil {
		debuglog.Debugf("sync: dropping stale error: %v", err)
	}

	steps := []func(context.Context) error{
		func(ctx context.Context) error {
			_, err := m.SynchronizeStatus(ctx)
			return err
		},
		func(ctx context.Context) error { return m.UpdateCategories(ctx, opts) },
		func(ctx context.Context) error { return m.UpdateFeeds(ctx, storage.CategoryAll, opts) },
		func(ctx context.Context) error { return m.CacheArticles(ctx, opts) },
		m.updateAllCategories(opts),
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
		if m.client.HasLastError() {
			return nil
		}
	}

	if err := m.UpdateVirtualCategories(ctx, SyncOptions{OverrideDelay: true}); err != nil {
		return err
	}
	if _, err := m.PurgeOrphanedArticles(ctx, false); err != nil {
		return err
	}
	if _, err := m.FetchIcons(ctx, opts); err != nil {
		return err
	}
	return m.CalculateCounters(ctx)
}

func (m *Manager) updateAllCategories(opts SyncOptions) func(context.Context) error {
	return func(ctx context.Context) error {
		cats, err := m.store.GetCategories(ctx, false, true)
		if err != nil {
			return fmt.Errorf("listing categories: %w", err)
		}
		ids := []int{storage.CategoryUncategorized}
		for _, c := range cats {
			ids = append(ids, c.ID)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.workers())
		for _, id := range ids {
			g.Go(func() error {
				return m.UpdateArticles(gctx, id, true, false, opts)
			})
		}
		return g.Wait()
	}
}
