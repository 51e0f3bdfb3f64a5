package storage

import "database/sql"

// Migration is a single schema step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial cache schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS categories (
    _id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    unread INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feeds (
    _id INTEGER PRIMARY KEY,
    categoryId INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    unread INTEGER NOT NULL DEFAULT 0,
    icon BLOB
);
CREATE INDEX IF NOT EXISTS idx_feeds_category ON feeds(categoryId);

CREATE TABLE IF NOT EXISTS articles (
    _id INTEGER PRIMARY KEY,
    feedId INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    isUnread INTEGER NOT NULL DEFAULT 0,
    articleUrl TEXT NOT NULL DEFAULT '',
    articleCommentUrl TEXT NOT NULL DEFAULT '',
    updateDate INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    attachments TEXT NOT NULL DEFAULT '[]',
    isStarred INTEGER NOT NULL DEFAULT 0,
    isPublished INTEGER NOT NULL DEFAULT 0,
    cachedImages INTEGER,
    author TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_articles_feed ON articles(feedId);
CREATE INDEX IF NOT EXISTS idx_articles_updated ON articles(updateDate);
CREATE INDEX IF NOT EXISTS idx_articles_unread ON articles(isUnread);

CREATE TABLE IF NOT EXISTS labels (
    _id INTEGER PRIMARY KEY,
    caption TEXT NOT NULL DEFAULT '',
    fgColor TEXT NOT NULL DEFAULT '',
    bgColor TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS articles2labels (
    articleId INTEGER NOT NULL,
    labelId INTEGER NOT NULL,
    PRIMARY KEY (articleId, labelId)
);

CREATE TABLE IF NOT EXISTS marked (
    id INTEGER PRIMARY KEY,
    isUnread INTEGER,
    isStarred INTEGER,
    isPublished INTEGER
);

CREATE TABLE IF NOT EXISTS notes (
    _id INTEGER PRIMARY KEY,
    note TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS remotefiles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    length INTEGER NOT NULL DEFAULT 0,
    ext TEXT NOT NULL DEFAULT '',
    updateDate INTEGER NOT NULL DEFAULT 0,
    cached INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS remotefile2article (
    remotefileId INTEGER NOT NULL REFERENCES remotefiles(id) ON DELETE CASCADE,
    articleId INTEGER NOT NULL REFERENCES articles(_id) ON UPDATE CASCADE ON DELETE NO ACTION,
    PRIMARY KEY (remotefileId, articleId)
);
CREATE INDEX IF NOT EXISTS idx_r2a_article ON remotefile2article(articleId);

CREATE TRIGGER IF NOT EXISTS remotefiles_cached_count
AFTER UPDATE OF cached ON remotefiles
BEGIN
    UPDATE articles SET cachedImages = (
        SELECT COUNT(*) FROM remotefile2article r2a
        JOIN remotefiles rf ON rf.id = r2a.remotefileId
        WHERE r2a.articleId = articles._id AND rf.cached = 1
    )
    WHERE _id IN (SELECT articleId FROM remotefile2article WHERE remotefileId = NEW.id);
END;
`)
			return err
		},
	},
}

func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
