package storage

import (
	"context"
	"database/sql"
)

// CalculateCounters recomputes every unread counter from the articles table.
// The result depends only on the current rows.
func (s *Store) CalculateCounters(ctx context.Context) error {
	since := s.freshSince()
	return s.update(ctx, "calculating counters", func(tx *sql.Tx) error {
		return calculateCountersTx(ctx, tx, since)
	})
}

func calculateCountersTx(ctx context.Context, tx *sql.Tx, freshSince int64) error {
	steps := []string{
		"UPDATE feeds SET unread = 0",
		"UPDATE categories SET unread = 0",
		`UPDATE feeds SET unread = (
    SELECT COUNT(*) FROM articles a WHERE a.feedId = feeds._id AND a.isUnread > 0
) WHERE _id > 0`,
		`UPDATE feeds SET unread = (
    SELECT COUNT(*) FROM articles2labels l JOIN articles a ON a._id = l.articleId
    WHERE l.labelId = feeds._id AND a.isUnread > 0
) WHERE _id < -10`,
		`UPDATE categories SET unread = (
    SELECT COALESCE(SUM(f.unread), 0) FROM feeds f WHERE f.categoryId = categories._id AND f._id > 0
) WHERE _id >= 0`,
	}
	for _, q := range steps {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	virtual := []struct {
		id    int
		where string
		args  []any
	}{
		{CategoryAll, "isUnread > 0", nil},
		{CategoryFresh, "isUnread > 0 AND updateDate > ?", []any{freshSince}},
		{CategoryPublished, "isUnread > 0 AND isPublished > 0", nil},
		{CategoryStarred, "isUnread > 0 AND isStarred > 0", nil},
		{CategoryUncategorized, "isUnread > 0 AND feedId IN (SELECT _id FROM feeds WHERE categoryId = 0)", nil},
	}
	for _, v := range virtual {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE "+v.where, v.args...).Scan(&n); err != nil {
			return err
		}
		if err := upsertCategoriesTx(ctx, tx, []Category{{ID: v.id, Title: VirtualCategoryTitles[v.id], Unread: n}}); err != nil {
			return err
		}
	}
	return nil
}

// GetUnreadCount returns the unread count of a feed, label, category or
// virtual category computed from the articles table.
func (s *Store) GetUnreadCount(ctx context.Context, id int, isCategory bool) (int, error) {
	clause, args := s.scopeClause(id, isCategory)
	var n int
	_, err := s.view("counting unread", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE isUnread > 0 AND "+clause, args...).Scan(&n)
	})
	return n, err
}

// VirtualCategories computes the five virtual categories from local counts.
func (s *Store) VirtualCategories(ctx context.Context) ([]Category, error) {
	ids := []int{CategoryAll, CategoryFresh, CategoryPublished, CategoryStarred, CategoryUncategorized}
	cats := make([]Category, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetUnreadCount(ctx, id, true)
		if err != nil {
			return nil, err
		}
		cats = append(cats, Category{ID: id, Title: VirtualCategoryTitles[id], Unread: n})
	}
	return cats, nil
}
