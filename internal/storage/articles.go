package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const articleColumns = `_id, feedId, title, isUnread, articleUrl, articleCommentUrl, updateDate,
content, attachments, isStarred, isPublished, cachedImages, author, note, score`

// KnownSet selects which cached articles seed an omission filter.
type KnownSet int

const (
	KnownAll KnownSet = iota
	KnownUnread
	KnownMarked // starred or published
)

// ArticleFilter scopes a listing. ID is a feed id, or a category id when
// IsCategory is set. Virtual category ids select their predicates.
type ArticleFilter struct {
	ID         int
	IsCategory bool
	OnlyUnread bool
	Limit      int
}

// scopeClause returns the WHERE fragment selecting the articles of a feed,
// label, category or virtual category.
func (s *Store) scopeClause(id int, isCategory bool) (string, []any) {
	if isCategory {
		switch id {
		case CategoryAll:
			return "1=1", nil
		case CategoryFresh:
			return "updateDate > ?", []any{s.freshSince()}
		case CategoryPublished:
			return "isPublished > 0", nil
		case CategoryStarred:
			return "isStarred > 0", nil
		default:
			return "feedId IN (SELECT _id FROM feeds WHERE categoryId = ?)", []any{id}
		}
	}
	if IsLabel(id) {
		return "_id IN (SELECT articleId FROM articles2labels WHERE labelId = ?)", []any{id}
	}
	return "feedId = ?", []any{id}
}

// InsertArticles upserts articles together with their label and attachment
// links in one transaction. A nil CachedImages keeps the stored count.
func (s *Store) InsertArticles(ctx context.Context, articles []Article) error {
	if len(articles) == 0 {
		return nil
	}
	return s.update(ctx, "inserting articles", func(tx *sql.Tx) error {
		return insertArticlesTx(ctx, tx, articles)
	})
}

func insertArticlesTx(ctx context.Context, tx *sql.Tx, articles []Article) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO articles (`+articleColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(_id) DO UPDATE SET
    feedId = excluded.feedId,
    title = excluded.title,
    isUnread = excluded.isUnread,
    articleUrl = excluded.articleUrl,
    articleCommentUrl = excluded.articleCommentUrl,
    updateDate = excluded.updateDate,
    content = excluded.content,
    attachments = excluded.attachments,
    isStarred = excluded.isStarred,
    isPublished = excluded.isPublished,
    cachedImages = COALESCE(excluded.cachedImages, articles.cachedImages),
    author = excluded.author,
    note = excluded.note,
    score = excluded.score`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range articles {
		a := &articles[i]
		attachments, err := json.Marshal(nonNil(a.Attachments))
		if err != nil {
			return fmt.Errorf("encoding attachments of %d: %w", a.ID, err)
		}
		var cached any
		if a.CachedImages != nil {
			cached = *a.CachedImages
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.FeedID, a.Title, boolInt(a.IsUnread), a.URL, a.CommentURL, a.Updated.Unix(),
			a.Content, string(attachments), boolInt(a.IsStarred), boolInt(a.IsPublished), cached,
			a.Author, a.Note, a.Score,
		); err != nil {
			return fmt.Errorf("article %d: %w", a.ID, err)
		}

		if err := replaceLabelsTx(ctx, tx, a.ID, a.Labels); err != nil {
			return fmt.Errorf("labels of %d: %w", a.ID, err)
		}
		if err := linkRemoteFilesTx(ctx, tx, a); err != nil {
			return fmt.Errorf("remote files of %d: %w", a.ID, err)
		}
	}
	return applyPendingTx(ctx, tx)
}

// applyPendingTx lays unflushed local intents over server state so a fetch
// does not undo a change the server has not seen yet.
func applyPendingTx(ctx context.Context, tx *sql.Tx) error {
	for _, kind := range MarkKinds {
		col := kind.column()
		if _, err := tx.ExecContext(ctx, `
UPDATE articles SET `+col+` = (SELECT m.`+col+` FROM marked m WHERE m.id = articles._id)
WHERE _id IN (SELECT id FROM marked WHERE `+col+` IS NOT NULL)`); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `
UPDATE articles SET note = (SELECT n.note FROM notes n WHERE n._id = articles._id)
WHERE _id IN (SELECT _id FROM notes)`)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// replaceLabelsTx makes labels the complete label set of one article.
func replaceLabelsTx(ctx context.Context, tx *sql.Tx, articleID int, labels []Label) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM articles2labels WHERE articleId = ?", articleID); err != nil {
		return err
	}
	for _, l := range labels {
		if !IsLabel(l.ID) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO labels (_id, caption, fgColor, bgColor) VALUES (?, ?, ?, ?)
ON CONFLICT(_id) DO UPDATE SET caption = excluded.caption, fgColor = excluded.fgColor, bgColor = excluded.bgColor`,
			l.ID, l.Caption, l.ForegroundColor, l.BackgroundColor); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO articles2labels (articleId, labelId) VALUES (?, ?)", articleID, l.ID); err != nil {
			return err
		}
	}
	return nil
}

// linkRemoteFilesTx registers attachments and inline images of an article.
func linkRemoteFilesTx(ctx context.Context, tx *sql.Tx, a *Article) error {
	urls := append(append([]string(nil), a.Attachments...), imageURLs(a.Content)...)
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO remotefiles (url, ext, updateDate) VALUES (?, ?, ?)",
			u, fileExt(u), a.Updated.Unix()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO remotefile2article (remotefileId, articleId)
SELECT id, ? FROM remotefiles WHERE url = ?`, a.ID, u); err != nil {
			return err
		}
	}
	return nil
}

// imageURLs extracts <img src> values from article HTML.
func imageURLs(content string) []string {
	if !strings.Contains(content, "<img") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.HasPrefix(src, "http") {
			urls = append(urls, src)
		}
	})
	return urls
}

func fileExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

// GetArticle returns nil when the article is not cached.
func (s *Store) GetArticle(ctx context.Context, id int) (*Article, error) {
	articles, err := s.queryArticles(ctx, "getting article",
		"SELECT "+articleColumns+" FROM articles WHERE _id = ?", id)
	if err != nil || len(articles) == 0 {
		return nil, err
	}
	labels, err := s.articleLabels(ctx, id)
	if err != nil {
		return nil, err
	}
	articles[0].Labels = labels
	return &articles[0], nil
}

// GetArticles lists the articles of a scope, newest first.
func (s *Store) GetArticles(ctx context.Context, f ArticleFilter) ([]Article, error) {
	clause, args := s.scopeClause(f.ID, f.IsCategory)
	query := "SELECT " + articleColumns + " FROM articles WHERE " + clause
	if f.OnlyUnread {
		query += " AND isUnread > 0"
	}
	query += " ORDER BY updateDate DESC, _id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryArticles(ctx, "listing articles", query, args...)
}

// KnownUpdates maps article id to the stored updated time for the chosen
// subset of the cache.
func (s *Store) KnownUpdates(ctx context.Context, set KnownSet) (map[int]time.Time, error) {
	query := "SELECT _id, updateDate FROM articles"
	switch set {
	case KnownUnread:
		query += " WHERE isUnread > 0"
	case KnownMarked:
		query += " WHERE isStarred > 0 OR isPublished > 0"
	}

	known := make(map[int]time.Time)
	_, err := s.view("loading known articles", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			var updated int64
			if err := rows.Scan(&id, &updated); err != nil {
				return err
			}
			known[id] = time.Unix(updated, 0)
		}
		return rows.Err()
	})
	return known, err
}

// CountArticles returns the number of cached articles.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var n int
	_, err := s.view("counting articles", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&n)
	})
	return n, err
}

// MarkArticles sets one flag on the given articles. It returns the number of
// rows changed.
func (s *Store) MarkArticles(ctx context.Context, ids []int, kind MarkKind, value bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := s.update(ctx, "marking articles "+kind.String(), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE articles SET "+kind.column()+" = ? WHERE _id IN (SELECT value FROM json_each(?))",
			boolInt(value), idList(ids))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// MarkScopeRead marks every unread article of a feed or category read and
// returns the ids that changed.
func (s *Store) MarkScopeRead(ctx context.Context, id int, isCategory bool) ([]int, error) {
	clause, args := s.scopeClause(id, isCategory)
	var ids []int
	err := s.update(ctx, "marking scope read", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT _id FROM articles WHERE isUnread > 0 AND "+clause, args...)
		if err != nil {
			return err
		}
		if ids, err = scanIDs(rows); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE articles SET isUnread = 0 WHERE _id IN (SELECT value FROM json_each(?))", idList(ids)); err != nil {
			return err
		}
		return calculateCountersTx(ctx, tx, s.freshSince())
	})
	return ids, err
}

// ResetUnread makes unreadIDs the complete unread set of the cache and
// recomputes counters, all under one write lock.
func (s *Store) ResetUnread(ctx context.Context, unreadIDs []int) error {
	return s.update(ctx, "resetting unread state", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE articles SET isUnread = 0 WHERE isUnread > 0"); err != nil {
			return err
		}
		if len(unreadIDs) > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE articles SET isUnread = 1 WHERE _id IN (SELECT value FROM json_each(?))", idList(unreadIDs)); err != nil {
				return err
			}
		}
		if err := applyPendingTx(ctx, tx); err != nil {
			return err
		}
		return calculateCountersTx(ctx, tx, s.freshSince())
	})
}

// MergeUnread marks ids unread as reported by the server without touching
// other articles. Pending intents still win.
func (s *Store) MergeUnread(ctx context.Context, unreadIDs []int) error {
	if len(unreadIDs) == 0 {
		return nil
	}
	return s.update(ctx, "merging unread state", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE articles SET isUnread = 1 WHERE _id IN (SELECT value FROM json_each(?))", idList(unreadIDs)); err != nil {
			return err
		}
		return applyPendingTx(ctx, tx)
	})
}

// SetArticleNote stores a note on a cached article.
func (s *Store) SetArticleNote(ctx context.Context, id int, note string) error {
	return s.update(ctx, "setting note", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE articles SET note = ? WHERE _id = ?", note, id)
		return err
	})
}

// SetCachedImages explicitly overrides the derived image count.
func (s *Store) SetCachedImages(ctx context.Context, id int, count *int) error {
	return s.update(ctx, "setting cached images", func(tx *sql.Tx) error {
		var v any
		if count != nil {
			v = *count
		}
		_, err := tx.ExecContext(ctx, "UPDATE articles SET cachedImages = ? WHERE _id = ?", v, id)
		return err
	})
}

// MarkRemoteFileCached records that a remote file is on disk. A trigger
// refreshes cachedImages of every article linking to it.
func (s *Store) MarkRemoteFileCached(ctx context.Context, rawURL string, length int64) error {
	return s.update(ctx, "marking remote file cached", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE remotefiles SET cached = 1, length = ? WHERE url = ?", length, rawURL)
		return err
	})
}

// RemoteFiles lists the files linked to one article.
func (s *Store) RemoteFiles(ctx context.Context, articleID int) ([]RemoteFile, error) {
	var files []RemoteFile
	_, err := s.view("listing remote files", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
SELECT rf.id, rf.url, rf.length, rf.ext, rf.updateDate, rf.cached
FROM remotefiles rf JOIN remotefile2article r2a ON r2a.remotefileId = rf.id
WHERE r2a.articleId = ? ORDER BY rf.id`, articleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f RemoteFile
			var updated int64
			if err := rows.Scan(&f.ID, &f.URL, &f.Length, &f.Ext, &updated, &f.Cached); err != nil {
				return err
			}
			f.Updated = time.Unix(updated, 0)
			files = append(files, f)
		}
		return rows.Err()
	})
	return files, err
}

func (s *Store) queryArticles(ctx context.Context, op, query string, args ...any) ([]Article, error) {
	var articles []Article
	_, err := s.view(op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanArticle(rows)
			if err != nil {
				return err
			}
			articles = append(articles, *a)
		}
		return rows.Err()
	})
	return articles, err
}

func scanArticle(row rowScanner) (*Article, error) {
	var (
		a           Article
		updated     int64
		attachments string
		cached      sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.FeedID, &a.Title, &a.IsUnread, &a.URL, &a.CommentURL, &updated,
		&a.Content, &attachments, &a.IsStarred, &a.IsPublished, &cached, &a.Author, &a.Note, &a.Score); err != nil {
		return nil, err
	}
	a.Updated = time.Unix(updated, 0)
	if cached.Valid {
		n := int(cached.Int64)
		a.CachedImages = &n
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &a.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments of %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (s *Store) articleLabels(ctx context.Context, articleID int) ([]Label, error) {
	labels, err := s.GetLabelsForArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	var checked []Label
	for _, l := range labels {
		if l.Checked {
			checked = append(checked, l)
		}
	}
	return checked, nil
}

// GetLabelsForArticle lists every known label, with Checked set for the
// labels attached to the article.
func (s *Store) GetLabelsForArticle(ctx context.Context, articleID int) ([]Label, error) {
	var labels []Label
	_, err := s.view("listing labels", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
SELECT l._id, l.caption, l.fgColor, l.bgColor,
       EXISTS (SELECT 1 FROM articles2labels a2l WHERE a2l.labelId = l._id AND a2l.articleId = ?)
FROM labels l ORDER BY UPPER(l.caption)`, articleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l Label
			if err := rows.Scan(&l.ID, &l.Caption, &l.ForegroundColor, &l.BackgroundColor, &l.Checked); err != nil {
				return err
			}
			labels = append(labels, l)
		}
		return rows.Err()
	})
	return labels, err
}

// SetArticleLabel attaches or detaches a label on the given articles.
func (s *Store) SetArticleLabel(ctx context.Context, ids []int, labelID int, assign bool) error {
	if !IsLabel(labelID) {
		return fmt.Errorf("setting label: %d is not a label id", labelID)
	}
	return s.update(ctx, "setting label", func(tx *sql.Tx) error {
		query := "DELETE FROM articles2labels WHERE labelId = ? AND articleId IN (SELECT value FROM json_each(?))"
		if assign {
			query = "INSERT OR IGNORE INTO articles2labels (labelId, articleId) SELECT ?, value FROM json_each(?)"
		}
		_, err := tx.ExecContext(ctx, query, labelID, idList(ids))
		return err
	})
}
