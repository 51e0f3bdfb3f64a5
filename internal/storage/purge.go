package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// PurgeLastArticles brings the article count down to keep by deleting the
// least recently updated articles. Starred and published articles are never
// deleted, so the count may stay above keep. It returns the deleted ids.
func (s *Store) PurgeLastArticles(ctx context.Context, keep int) ([]int, error) {
	if keep < 0 {
		keep = 0
	}
	var deleted []int
	err := s.update(ctx, "purging old articles", func(tx *sql.Tx) error {
		var total int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&total); err != nil {
			return err
		}
		excess := total - keep
		if excess <= 0 {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
SELECT _id FROM articles
WHERE isStarred = 0 AND isPublished = 0
ORDER BY updateDate ASC, _id ASC
LIMIT ?`, excess)
		if err != nil {
			return err
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		deleted, err = deleteArticlesTx(ctx, tx, ids)
		return err
	})
	return deleted, err
}

// PurgeOrphanedArticles deletes articles whose feed is gone.
func (s *Store) PurgeOrphanedArticles(ctx context.Context) ([]int, error) {
	var deleted []int
	err := s.update(ctx, "purging orphaned articles", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT _id FROM articles WHERE feedId NOT IN (SELECT _id FROM feeds)")
		if err != nil {
			return err
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		deleted, err = deleteArticlesTx(ctx, tx, ids)
		return err
	})
	return deleted, err
}

// PurgeMarked clears the starred or published flag on articles above minID
// that the server no longer reports in that set. keep holds the ids the
// server did report.
func (s *Store) PurgeMarked(ctx context.Context, kind MarkKind, minID int, keep []int) (int64, error) {
	if kind == MarkUnread {
		return 0, fmt.Errorf("purging marked: unread is not a membership flag")
	}
	col := kind.column()
	var n int64
	err := s.update(ctx, "purging "+kind.String()+" flags", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE articles SET `+col+` = 0
WHERE `+col+` > 0 AND _id > ?
  AND _id NOT IN (SELECT value FROM json_each(?))
  AND _id NOT IN (SELECT id FROM marked WHERE `+col+` IS NOT NULL)`, minID, idList(keep))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DeleteArticles removes articles together with their label links, remote
// file links and any remote file no other article references.
func (s *Store) DeleteArticles(ctx context.Context, ids []int) ([]int, error) {
	var deleted []int
	err := s.update(ctx, "deleting articles", func(tx *sql.Tx) error {
		var err error
		deleted, err = deleteArticlesTx(ctx, tx, ids)
		return err
	})
	return deleted, err
}

func deleteArticlesTx(ctx context.Context, tx *sql.Tx, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list := idList(ids)

	steps := []string{
		// Files used only by the doomed articles. The cascade drops their links.
		`DELETE FROM remotefiles
WHERE id IN (SELECT remotefileId FROM remotefile2article WHERE articleId IN (SELECT value FROM json_each(?1)))
  AND id NOT IN (SELECT remotefileId FROM remotefile2article WHERE articleId NOT IN (SELECT value FROM json_each(?1)))`,
		`DELETE FROM remotefile2article WHERE articleId IN (SELECT value FROM json_each(?1))`,
		`DELETE FROM articles2labels WHERE articleId IN (SELECT value FROM json_each(?1))`,
		`DELETE FROM articles WHERE _id IN (SELECT value FROM json_each(?1))`,
	}
	for _, q := range steps {
		if _, err := tx.ExecContext(ctx, q, list); err != nil {
			return nil, err
		}
	}

	// Links to labels that no longer exist.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM articles2labels
WHERE labelId NOT IN (SELECT _id FROM labels) OR articleId NOT IN (SELECT _id FROM articles)`); err != nil {
		return nil, err
	}
	return ids, nil
}
