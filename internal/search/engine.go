package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/pders01/ttsync/internal/storage"
)

// Result represents a search match with relevance scoring
type Result struct {
	Feed      *storage.Feed
	Article   *storage.Article
	IsArticle bool
	Score     float64
	Matches   []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "title", "author", "content", "url"
	Text   string // matched text snippet
	Weight float64
}

// Engine searches the cache by scanning it. It needs no index and serves
// when the bleve index cannot be opened.
type Engine struct {
	store *storage.Store
	now   func() time.Time
}

// NewEngine creates a new scanning engine
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Search scores every cached feed and article against query.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	feeds, err := e.store.GetFeeds(ctx, storage.CategoryAll)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*storage.Feed, len(feeds))

	var results []*Result
	for i := range feeds {
		feed := &feeds[i]
		byID[feed.ID] = feed
		if result := e.searchFeed(feed, terms); result != nil {
			results = append(results, result)
		}
	}

	articles, err := e.store.GetArticles(ctx, storage.ArticleFilter{ID: storage.CategoryAll, IsCategory: true})
	if err != nil {
		return nil, err
	}
	for i := range articles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if result := e.searchArticle(byID[articles[i].FeedID], &articles[i], terms); result != nil {
			results = append(results, result)
		}
	}

	// Sort by relevance score (highest first)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// SearchInArticle searches within a specific article's content
func (e *Engine) SearchInArticle(article *storage.Article, query string) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 || article == nil {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	if result := e.searchArticle(nil, article, terms); result != nil {
		return []*Result{result}, nil
	}

	return []*Result{}, nil
}

// searchFeed searches within a feed's metadata
func (e *Engine) searchFeed(feed *storage.Feed, terms []string) *Result {
	var matches []Match
	var totalScore float64

	if titleScore := e.scoreField(feed.Title, terms, 3.0); titleScore > 0 {
		matches = append(matches, Match{
			Field:  "title",
			Text:   feed.Title,
			Weight: titleScore,
		})
		totalScore += titleScore
	}

	if urlScore := e.scoreField(feed.URL, terms, 0.5); urlScore > 0 {
		matches = append(matches, Match{
			Field:  "url",
			Text:   feed.URL,
			Weight: urlScore,
		})
		totalScore += urlScore
	}

	if totalScore > 0 {
		return &Result{
			Feed:      feed,
			IsArticle: false,
			Score:     totalScore,
			Matches:   matches,
		}
	}

	return nil
}

// searchArticle searches within an article. feed may be nil.
func (e *Engine) searchArticle(feed *storage.Feed, article *storage.Article, terms []string) *Result {
	matches := articleMatches(e, article, terms)
	var totalScore float64
	for _, m := range matches {
		totalScore += m.Weight
	}

	if totalScore == 0 {
		return nil
	}

	if !article.Updated.IsZero() {
		totalScore *= 1.0 + e.recencyBoost(article.Updated)
	}

	return &Result{
		Feed:      feed,
		Article:   article,
		IsArticle: true,
		Score:     totalScore,
		Matches:   matches,
	}
}

// articleMatches scores each field of article. The bleve searcher uses it to
// explain its hits.
func articleMatches(e *Engine, article *storage.Article, terms []string) []Match {
	var matches []Match

	if titleScore := e.scoreField(article.Title, terms, 4.0); titleScore > 0 {
		matches = append(matches, Match{Field: "title", Text: article.Title, Weight: titleScore})
	}

	if authorScore := e.scoreField(article.Author, terms, 2.0); authorScore > 0 {
		matches = append(matches, Match{Field: "author", Text: article.Author, Weight: authorScore})
	}

	content := plainText(article.Content)
	if contentScore := e.scoreField(content, terms, 1.0); contentScore > 0 {
		matches = append(matches, Match{
			Field:  "content",
			Text:   e.findBestSnippet(content, terms, 200),
			Weight: contentScore,
		})
	}

	if urlScore := e.scoreField(article.URL, terms, 0.5); urlScore > 0 {
		matches = append(matches, Match{Field: "url", Text: article.URL, Weight: urlScore})
	}

	return matches
}

// scoreField calculates relevance score for a field
func (e *Engine) scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		termLower := strings.ToLower(term)

		if strings.Contains(lower, termLower) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == termLower:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, termLower) || strings.HasSuffix(word, termLower):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, termLower):
				score += 0.5
				matchedTerms++
			}
		}
	}

	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet finds the most relevant text snippet containing search terms
func (e *Engine) findBestSnippet(text string, terms []string, maxLength int) string {
	if text == "" {
		return ""
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	bestScore := 0.0
	bestStart := 0
	windowSize := maxLength / 8 // Approximate words in snippet

	if windowSize > len(words) {
		return truncate(text, maxLength)
	}

	for i := 0; i <= len(words)-windowSize; i++ {
		windowText := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0.0

		for _, term := range terms {
			if strings.Contains(windowText, strings.ToLower(term)) {
				score += 1.0
			}
		}

		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	snippet := strings.Join(words[bestStart:bestStart+windowSize], " ")
	return truncate(snippet, maxLength)
}

// recencyBoost prefers articles from the last week, up to 10%.
func (e *Engine) recencyBoost(updated time.Time) float64 {
	const week = 7 * 24 * time.Hour
	age := e.now().Sub(updated)
	if age < 0 {
		age = 0
	}
	if age >= week {
		return 0
	}
	return 0.1 * (1 - float64(age)/float64(week))
}

// plainText drops markup from article content.
func plainText(content string) string {
	if !strings.Contains(content, "<") {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// tokenize breaks text into searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-1] + "…"
}
