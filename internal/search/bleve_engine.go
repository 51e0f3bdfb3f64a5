package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/storage"
)

const indexBatchSize = 500

// BleveSearcher keeps a full-text index of cached articles. The manager
// feeds it every committed batch and every purge.
type BleveSearcher struct {
	store  *storage.Store
	idx    bleve.Index
	engine *Engine
}

// NewBleveSearcher creates or opens the index at indexPath. An empty path
// keeps the index in memory.
func NewBleveSearcher(store *storage.Store, indexPath string) (*BleveSearcher, error) {
	idx, err := openIndex(indexPath)
	if err != nil {
		return nil, err
	}
	return &BleveSearcher{store: store, idx: idx, engine: NewEngine(store)}, nil
}

func openIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		return bleve.NewMemOnly(buildIndexMapping())
	}

	idx, err := bleve.Open(indexPath)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("opening search index %s: %w", indexPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	idx, err = bleve.New(indexPath, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index %s: %w", indexPath, err)
	}
	return idx, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	author := bleve.NewTextFieldMapping()
	author.Analyzer = standard.Name
	author.Store = true

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false
	content.IncludeTermVectors = false

	url := bleve.NewTextFieldMapping()
	url.Analyzer = standard.Name
	url.Store = true

	feedID := bleve.NewTextFieldMapping()
	feedID.Analyzer = keyword.Name
	feedID.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("author", author)
	dm.AddFieldMappingsAt("content", content)
	dm.AddFieldMappingsAt("url", url)
	dm.AddFieldMappingsAt("feed_id", feedID)

	im.DefaultMapping = dm
	return im
}

func articleDoc(a *storage.Article) map[string]any {
	return map[string]any{
		"feed_id": strconv.Itoa(a.FeedID),
		"title":   a.Title,
		"author":  a.Author,
		"content": plainText(a.Content),
		"url":     a.URL,
	}
}

// IndexArticles adds or replaces articles in the index.
func (b *BleveSearcher) IndexArticles(ctx context.Context, articles []storage.Article) error {
	for start := 0; start < len(articles); start += indexBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := b.idx.NewBatch()
		for i := start; i < min(start+indexBatchSize, len(articles)); i++ {
			a := &articles[i]
			if err := batch.Index(docIDForArticle(a.ID), articleDoc(a)); err != nil {
				return fmt.Errorf("indexing article %d: %w", a.ID, err)
			}
		}
		if err := b.idx.Batch(batch); err != nil {
			return fmt.Errorf("writing index batch: %w", err)
		}
	}
	return nil
}

// DeleteArticles drops ids from the index.
func (b *BleveSearcher) DeleteArticles(ctx context.Context, ids []int) error {
	for start := 0; start < len(ids); start += indexBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := b.idx.NewBatch()
		for _, id := range ids[start:min(start+indexBatchSize, len(ids))] {
			batch.Delete(docIDForArticle(id))
		}
		if err := b.idx.Batch(batch); err != nil {
			return fmt.Errorf("deleting from index: %w", err)
		}
	}
	return nil
}

// Reindex rebuilds the index from the cache. Documents of articles that are
// no longer cached are removed.
func (b *BleveSearcher) Reindex(ctx context.Context) (int, error) {
	articles, err := b.store.GetArticles(ctx, storage.ArticleFilter{ID: storage.CategoryAll, IsCategory: true})
	if err != nil {
		return 0, fmt.Errorf("loading articles: %w", err)
	}

	cached := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		cached[docIDForArticle(a.ID)] = struct{}{}
	}

	var stale []int
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), indexBatchSize, 0, false)
	for {
		res, err := b.idx.SearchInContext(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("listing index: %w", err)
		}
		for _, h := range res.Hits {
			if _, ok := cached[h.ID]; ok {
				continue
			}
			if id, ok := articleIDFromDoc(h.ID); ok {
				stale = append(stale, id)
			}
		}
		if len(res.Hits) < req.Size {
			break
		}
		req.From += req.Size
	}

	if err := b.DeleteArticles(ctx, stale); err != nil {
		return 0, err
	}
	if err := b.IndexArticles(ctx, articles); err != nil {
		return 0, err
	}
	debuglog.Infof("search: reindexed %d articles, dropped %d", len(articles), len(stale))
	return len(articles), nil
}

// Search runs query against title, author, content and url. Hits whose
// article left the cache are dropped from the result and the index.
func (b *BleveSearcher) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	fields := []struct {
		name        string
		boost       float64
		prefixBoost float64
	}{
		{"title", 4.0, 3.5},
		{"author", 2.0, 1.8},
		{"content", 1.0, 0.8},
		{"url", 0.5, 0.3},
	}

	var qs []bleveQuery.Query
	for _, tok := range tokens {
		for _, f := range fields {
			mq := bleve.NewMatchQuery(tok)
			mq.SetField(f.name)
			mq.SetBoost(f.boost)
			qs = append(qs, mq)

			pq := bleve.NewPrefixQuery(tok)
			pq.SetField(f.name)
			pq.SetBoost(f.prefixBoost)
			qs = append(qs, pq)
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	out := make([]*Result, 0, len(res.Hits))
	var gone []int
	feeds := map[int]*storage.Feed{}
	for _, h := range res.Hits {
		id, ok := articleIDFromDoc(h.ID)
		if !ok {
			continue
		}
		a, err := b.store.GetArticle(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			gone = append(gone, id)
			continue
		}

		feed, seen := feeds[a.FeedID]
		if !seen {
			if feed, err = b.store.GetFeed(ctx, a.FeedID); err != nil {
				return nil, err
			}
			feeds[a.FeedID] = feed
		}

		out = append(out, &Result{
			Feed:      feed,
			Article:   a,
			IsArticle: true,
			Score:     h.Score,
			Matches:   articleMatches(b.engine, a, tokens),
		})
	}

	if len(gone) > 0 {
		if err := b.DeleteArticles(ctx, gone); err != nil {
			debuglog.Warnf("search: pruning %d stale documents: %v", len(gone), err)
		}
	}
	return out, nil
}

// SearchInArticle searches a single article without the index.
func (b *BleveSearcher) SearchInArticle(article *storage.Article, query string) ([]*Result, error) {
	return b.engine.SearchInArticle(article, query)
}

// DocCount reports total documents in the index.
func (b *BleveSearcher) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *BleveSearcher) Close() error {
	return b.idx.Close()
}

func docIDForArticle(id int) string { return "article:" + strconv.Itoa(id) }

func articleIDFromDoc(docID string) (int, bool) {
	raw, ok := strings.CutPrefix(docID, "article:")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	return id, err == nil
}
