package search

import (
	"context"

	"github.com/pders01/ttsync/internal/feed"
	"github.com/pders01/ttsync/internal/storage"
)

// Searcher is the query side shared by the index and the scanning engine.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	SearchInArticle(article *storage.Article, query string) ([]*Result, error)
}

// DebugStatser reports index size for status output.
type DebugStatser interface {
	DocCount() (int, error)
}

var (
	_ Searcher     = (*BleveSearcher)(nil)
	_ Searcher     = (*Engine)(nil)
	_ DebugStatser = (*BleveSearcher)(nil)
	_ feed.Indexer = (*BleveSearcher)(nil)
)
