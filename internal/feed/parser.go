package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"
)

// ErrNotAFeed is returned by Probe when the URL does not serve a feed.
var ErrNotAFeed = errors.New("URL does not serve a feed")

// Prober checks a URL serves RSS, Atom or JSON Feed before a subscription
// is sent to the server.
type Prober struct {
	parser *gofeed.Parser
}

func NewProber(client *http.Client, userAgent string) *Prober {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = userAgent
	return &Prober{parser: p}
}

// ProbeResult describes a feed found by Probe.
type ProbeResult struct {
	Title    string
	Link     string
	FeedType string
	Items    int
	Media    int
}

func (p *Prober) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	feed, err := p.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, fmt.Errorf("probing %s: %w", url, ErrNotAFeed)
		}
		return nil, fmt.Errorf("probing %s: %w", url, err)
	}

	res := &ProbeResult{
		Title:    feed.Title,
		Link:     feed.Link,
		FeedType: feed.FeedType,
		Items:    len(feed.Items),
	}
	for _, item := range feed.Items {
		res.Media += len(extractMediaURLs(item))
	}
	return res, nil
}

func extractMediaURLs(item *gofeed.Item) []string {
	var urls []string

	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" {
			urls = append(urls, enclosure.URL)
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		urls = append(urls, item.Image.URL)
	}

	return uniqueStrings(urls)
}

func uniqueStrings(strs []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, s := range strs {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
