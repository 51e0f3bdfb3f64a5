package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/storage"
)

// ErrOffline is returned by operations that cannot be queued.
var ErrOffline = errors.New("server not reachable")

// SetArticleRead marks articles read or unread.
func (m *Manager) SetArticleRead(ctx context.Context, ids []int, read bool) error {
	return m.setMark(ctx, storage.MarkUnread, ids, !read)
}

func (m *Manager) SetArticleStarred(ctx context.Context, ids []int, starred bool) error {
	return m.setMark(ctx, storage.MarkStarred, ids, starred)
}

func (m *Manager) SetArticlePublished(ctx context.Context, ids []int, published bool) error {
	return m.setMark(ctx, storage.MarkPublished, ids, published)
}

// setMark applies a flag change locally and records it as pending before
// telling the server. A failed or skipped remote call leaves the pending row
// for SynchronizeStatus, so the local change is never lost. Only local
// failures are returned.
func (m *Manager) setMark(ctx context.Context, kind storage.MarkKind, ids []int, value bool) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.store.MarkArticles(ctx, ids, kind, value); err != nil {
		return fmt.Errorf("marking %s: %w", kind, err)
	}
	if err := m.queue.Record(ctx, kind, ids, value); err != nil {
		return err
	}
	if err := m.CalculateCounters(ctx); err != nil {
		return err
	}

	if !m.conn.IsConnected() {
		debuglog.Debugf("sync: %s=%t for %d articles queued, offline", kind, value, len(ids))
		return nil
	}
	if err := m.queue.Push(ctx, kind, ids, value); err != nil {
		debuglog.Warnf("sync: %v, kept for the next flush", err)
		m.client.PullLastError()
	}
	return nil
}

// SetArticleNote follows the same pending rules as the flags.
func (m *Manager) SetArticleNote(ctx context.Context, id int, note string) error {
	if err := m.store.SetArticleNote(ctx, id, note); err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	if err := m.queue.RecordNote(ctx, id, note); err != nil {
		return err
	}
	m.notifier.Notify()

	if !m.conn.IsConnected() {
		return nil
	}
	if err := m.queue.PushNote(ctx, id, note); err != nil {
		debuglog.Warnf("sync: %v, kept for the next flush", err)
		m.client.PullLastError()
	}
	return nil
}

// SetRead catches up a whole feed or category. The server is told with one
// catchupFeed call. When that is not possible each affected article gets a
// pending read mark instead.
func (m *Manager) SetRead(ctx context.Context, id int, isCategory bool) error {
	ids, err := m.store.MarkScopeRead(ctx, id, isCategory)
	if err != nil {
		return fmt.Errorf("marking scope read: %w", err)
	}
	m.notifier.Notify()
	if len(ids) == 0 {
		return nil
	}

	if m.conn.IsConnected() {
		remoteIsCat := isCategory && id >= storage.CategoryUncategorized
		err := m.client.CatchupFeed(ctx, id, remoteIsCat)
		if err == nil {
			return nil
		}
		debuglog.Warnf("sync: catching up %d: %v, queueing %d read marks", id, err, len(ids))
		m.client.PullLastError()
	}
	return m.queue.Record(ctx, storage.MarkUnread, ids, false)
}

// SetLabel assigns or removes a label. Labels are not queued, so the server
// must accept the change before it is applied locally.
func (m *Manager) SetLabel(ctx context.Context, ids []int, labelID int, assign bool) error {
	if len(ids) == 0 {
		return nil
	}
	if !m.conn.IsConnected() {
		return ErrOffline
	}
	if err := m.client.SetArticleLabel(ctx, ids, labelID, assign); err != nil {
		return fmt.Errorf("setting label %d: %w", labelID, err)
	}
	if err := m.store.SetArticleLabel(ctx, ids, labelID, assign); err != nil {
		return fmt.Errorf("saving label %d: %w", labelID, err)
	}
	return m.CalculateCounters(ctx)
}

// ShareToPublished creates a published article on the server. It shows up
// locally with the next Published update.
func (m *Manager) ShareToPublished(ctx context.Context, title, url, content string) error {
	if !m.online(ctx, true) {
		return ErrOffline
	}
	if err := m.client.ShareToPublished(ctx, title, url, content); err != nil {
		return fmt.Errorf("sharing %q: %w", title, err)
	}
	m.clock.invalidate(articlesScope(storage.CategoryPublished, true))
	m.clock.invalidate(articlesScope(storage.CategoryPublished, false))
	return nil
}
