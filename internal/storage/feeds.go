package storage

import (
	"context"
	"database/sql"
	"errors"
)

const feedColumns = "_id, categoryId, title, url, unread, icon"

// ReplaceFeeds makes feeds the complete feed list. Rows missing from feeds
// are deleted, the rest are upserted. Stored icons survive the replace.
func (s *Store) ReplaceFeeds(ctx context.Context, feeds []Feed) error {
	ids := make([]int, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}

	return s.update(ctx, "replacing feeds", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM feeds WHERE _id NOT IN (SELECT value FROM json_each(?))", idList(ids)); err != nil {
			return err
		}
		return upsertFeedsTx(ctx, tx, feeds)
	})
}

// ReplaceCategoryFeeds makes feeds the complete feed list of one category.
// Feeds of other categories are kept.
func (s *Store) ReplaceCategoryFeeds(ctx context.Context, categoryID int, feeds []Feed) error {
	ids := make([]int, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}

	return s.update(ctx, "replacing category feeds", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM feeds WHERE categoryId = ? AND _id > 0 AND _id NOT IN (SELECT value FROM json_each(?))",
			categoryID, idList(ids)); err != nil {
			return err
		}
		return upsertFeedsTx(ctx, tx, feeds)
	})
}

// UpsertFeeds inserts or updates feeds by id.
func (s *Store) UpsertFeeds(ctx context.Context, feeds []Feed) error {
	return s.update(ctx, "upserting feeds", func(tx *sql.Tx) error {
		return upsertFeedsTx(ctx, tx, feeds)
	})
}

func upsertFeedsTx(ctx context.Context, tx *sql.Tx, feeds []Feed) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO feeds (_id, categoryId, title, url, unread, icon) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(_id) DO UPDATE SET
    categoryId = excluded.categoryId,
    title = excluded.title,
    url = excluded.url,
    unread = excluded.unread,
    icon = COALESCE(excluded.icon, feeds.icon)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range feeds {
		var icon any
		if len(f.Icon) > 0 {
			icon = f.Icon
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.CategoryID, f.Title, f.URL, f.Unread, icon); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFeed removes one feed. Its articles become orphans and go away with
// the next PurgeOrphanedArticles.
func (s *Store) DeleteFeed(ctx context.Context, id int) error {
	return s.update(ctx, "deleting feed", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM feeds WHERE _id = ?", id)
		return err
	})
}

// SetFeedIcon stores the icon bytes for a feed.
func (s *Store) SetFeedIcon(ctx context.Context, id int, icon []byte) error {
	return s.update(ctx, "setting feed icon", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE feeds SET icon = ? WHERE _id = ?", icon, id)
		return err
	})
}

// GetFeed returns nil when the feed is unknown.
func (s *Store) GetFeed(ctx context.Context, id int) (*Feed, error) {
	var feed *Feed
	_, err := s.view("getting feed", func(db *sql.DB) error {
		f, err := scanFeed(db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE _id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		feed = f
		return err
	})
	return feed, err
}

// GetFeeds lists the feeds of one category ordered by title. CategoryAll
// lists every real feed. Labels are listed by GetLabelFeeds.
func (s *Store) GetFeeds(ctx context.Context, categoryID int) ([]Feed, error) {
	query := "SELECT " + feedColumns + " FROM feeds WHERE _id > 0"
	var args []any
	if categoryID != CategoryAll {
		query += " AND categoryId = ?"
		args = append(args, categoryID)
	}
	query += " ORDER BY UPPER(title)"
	return s.queryFeeds(ctx, "listing feeds", query, args...)
}

// GetLabelFeeds lists the feed-shaped label views (ids below -10).
func (s *Store) GetLabelFeeds(ctx context.Context) ([]Feed, error) {
	return s.queryFeeds(ctx, "listing label feeds",
		"SELECT "+feedColumns+" FROM feeds WHERE _id < ? ORDER BY UPPER(title)", LabelIDThreshold)
}

func (s *Store) queryFeeds(ctx context.Context, op, query string, args ...any) ([]Feed, error) {
	var feeds []Feed
	_, err := s.view(op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFeed(rows)
			if err != nil {
				return err
			}
			feeds = append(feeds, *f)
		}
		return rows.Err()
	})
	return feeds, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var f Feed
	if err := row.Scan(&f.ID, &f.CategoryID, &f.Title, &f.URL, &f.Unread, &f.Icon); err != nil {
		return nil, err
	}
	return &f, nil
}
