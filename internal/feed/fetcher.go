package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pders01/ttsync/internal/storage"
)

const maxIconSize = 1 << 20

// IconFetcher downloads feed icons from the server's feed-icons directory,
// revalidating with the ETag and Last-Modified of the previous download.
type IconFetcher struct {
	client    *http.Client
	baseURL   string
	userAgent string
	auth      func(*http.Request)
}

func NewIconFetcher(client *http.Client, baseURL, userAgent string, auth func(*http.Request)) *IconFetcher {
	return &IconFetcher{client: client, baseURL: baseURL, userAgent: userAgent, auth: auth}
}

// IconURL is where the server keeps the icon of feedID.
func (f *IconFetcher) IconURL(feedID int) string {
	return f.baseURL + "feed-icons/" + strconv.Itoa(feedID) + ".ico"
}

// Fetch returns the icon bytes. A 304 answer returns nil data with the
// response. meta may be nil.
func (f *IconFetcher) Fetch(ctx context.Context, feedID int, meta *storage.IconMetadata) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.IconURL(feedID), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")
	if f.auth != nil {
		f.auth(req)
	}

	if meta != nil && meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}

	if meta != nil && meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching icon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp, nil
	}

	if resp.StatusCode >= 400 {
		return nil, resp, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconSize))
	if err != nil {
		return nil, resp, fmt.Errorf("reading icon: %w", err)
	}
	return data, resp, nil
}

// UpdateMetadata records the validators of resp for the next request.
func (f *IconFetcher) UpdateMetadata(meta *storage.IconMetadata, resp *http.Response) {
	if etag := resp.Header.Get("ETag"); etag != "" {
		meta.ETag = etag
	}

	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		meta.LastModified = lastMod
	}

	meta.LastFetched = time.Now()
}
