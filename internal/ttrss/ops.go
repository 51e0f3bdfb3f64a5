package ttrss

import (
	"context"
	"errors"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/storage"
)

// ViewMode selects which headlines getHeadlines returns.
type ViewMode string

const (
	ViewAll       ViewMode = "all_articles"
	ViewUnread    ViewMode = "unread"
	ViewAdaptive  ViewMode = "adaptive"
	ViewMarked    ViewMode = "marked"
	ViewPublished ViewMode = "published"
	ViewUpdated   ViewMode = "updated"
)

// UpdateField is the article field changed by updateArticle.
type UpdateField int

const (
	UpdateStarred   UpdateField = 0
	UpdatePublished UpdateField = 1
	UpdateUnread    UpdateField = 2
	UpdateNote      UpdateField = 3
)

// UpdateMode is the target value of updateArticle.
type UpdateMode int

const (
	ModeFalse  UpdateMode = 0
	ModeTrue   UpdateMode = 1
	ModeToggle UpdateMode = 2
)

func modeOf(v bool) UpdateMode {
	if v {
		return ModeTrue
	}
	return ModeFalse
}

func boolParam(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// APILevel returns the level reported at login or by GetAPILevel, -1 when
// unknown.
func (c *Client) APILevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiLevel
}

// GetAPILevel asks the server for its API level and caches it.
func (c *Client) GetAPILevel(ctx context.Context) (int, error) {
	level := -1
	err := c.call(ctx, request{op: "getApiLevel"}, contentHandler{
		object: func(obj map[string]any) error {
			if v, ok := obj["level"]; ok {
				level = asInt(v)
			}
			return nil
		},
	})
	if err != nil {
		return -1, err
	}
	if level < 0 {
		return -1, c.fail(malformed("getApiLevel", "no level in response"))
	}
	c.mu.Lock()
	c.apiLevel = level
	c.mu.Unlock()
	return level, nil
}

// GetVersion returns the server version string.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var version string
	err := c.call(ctx, request{op: "getVersion"}, contentHandler{
		object: func(obj map[string]any) error {
			version = asString(obj["version"])
			return nil
		},
	})
	return version, err
}

// GetCategories returns the real categories. Virtual ones are computed
// locally and dropped here.
func (c *Client) GetCategories(ctx context.Context) ([]storage.Category, error) {
	var categories []storage.Category
	err := c.call(ctx, request{op: "getCategories"}, contentHandler{
		array: func(iter *jsoniter.Iterator) error {
			categories = decodeCategories(iter)
			return iterError(iter)
		},
	})
	return categories, err
}

// GetFeeds returns the feeds of one category, or every feed and label for
// storage.CategoryAll. With a lazy server the feeds are asked to update
// first, at most once per housekeeping interval.
func (c *Client) GetFeeds(ctx context.Context, categoryID int) ([]storage.Feed, error) {
	if c.cfg.LazyServer && c.housekeeping.Allow() {
		c.housekeep(ctx)
	}
	return c.getFeeds(ctx, categoryID)
}

func (c *Client) getFeeds(ctx context.Context, categoryID int) ([]storage.Feed, error) {
	var feeds []storage.Feed
	err := c.call(ctx, request{
		op:     "getFeeds",
		params: map[string]string{"cat_id": strconv.Itoa(categoryID)},
	}, contentHandler{
		array: func(iter *jsoniter.Iterator) error {
			feeds = decodeFeeds(iter)
			return iterError(iter)
		},
	})
	return feeds, err
}

// housekeep asks a lazy server to update every feed. Failures are logged
// and dropped; they only mean stale unread counts.
func (c *Client) housekeep(ctx context.Context) {
	feeds, err := c.getFeeds(ctx, storage.CategoryAll)
	if err != nil {
		debuglog.Warnf("ttrss: housekeeping skipped: %v", err)
		c.PullLastError()
		return
	}
	for _, f := range feeds {
		if f.ID <= 0 {
			continue
		}
		if err := c.updateFeed(ctx, f.ID); err != nil {
			debuglog.Warnf("ttrss: updating feed %d: %v", f.ID, err)
			c.PullLastError()
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// UpdateFeed asks a lazy server to update one feed now. It uses the long
// read timeout and is limited to one call per housekeeping interval. It is
// a no-op for servers that update feeds themselves.
func (c *Client) UpdateFeed(ctx context.Context, feedID int) error {
	if !c.cfg.LazyServer || !c.housekeeping.Allow() {
		return nil
	}
	return c.updateFeed(ctx, feedID)
}

func (c *Client) updateFeed(ctx context.Context, feedID int) error {
	err := c.expectOK(ctx, request{
		op:     "updateFeed",
		params: map[string]string{"feed_id": strconv.Itoa(feedID)},
		lazy:   true,
	})
	// Some servers answer updateFeed with an empty body.
	if errors.Is(err, ErrMalformedResponse) {
		c.PullLastError()
		return nil
	}
	return err
}

// HeadlinesRequest describes a paginated getHeadlines fetch.
type HeadlinesRequest struct {
	FeedID     int
	IsCategory bool
	ViewMode   ViewMode
	// SinceID limits the result to ids above it. Zero means no bound.
	SinceID int
	// Limit caps the number of articles returned. Zero means no cap.
	Limit  int
	Search string
	// Omitter may be nil.
	Omitter Omitter
}

// PageSize returns the page size for a fetch of limit articles: 60 for
// servers below API level 6, otherwise 200, capped by the configured
// maximum.
func (c *Client) PageSize(limit int) int {
	size := pageSizeMax
	if c.APILevel() < 6 {
		size = pageSizeLegacy
	}
	if c.cfg.MaxPageSize < size {
		size = c.cfg.MaxPageSize
	}
	if limit > 0 && limit < size {
		size = limit
	}
	return size
}

// GetHeadlines fetches headlines page by page, in server order. It stops
// at a short page, when the omitter stops the list, when Limit articles
// were kept, or when the decode budget runs out. The last case sets the
// low-memory flag and returns what was decoded so far.
func (c *Client) GetHeadlines(ctx context.Context, req HeadlinesRequest) ([]storage.Article, error) {
	if req.ViewMode == "" {
		req.ViewMode = ViewAll
	}
	if !req.IsCategory {
		if err := c.UpdateFeed(ctx, req.FeedID); err != nil {
			debuglog.Warnf("ttrss: lazy update of feed %d: %v", req.FeedID, err)
			c.PullLastError()
		}
	}

	pageSize := c.PageSize(req.Limit)
	dec := &articleDecoder{omitter: req.Omitter, budget: c.cfg.DecodeBudget}

	var articles []storage.Article
	for offset := 0; req.Limit <= 0 || len(articles) < req.Limit; {
		params := map[string]string{
			"feed_id":             strconv.Itoa(req.FeedID),
			"is_cat":              boolParam(req.IsCategory),
			"view_mode":           string(req.ViewMode),
			"limit":               strconv.Itoa(pageSize),
			"skip":                strconv.Itoa(offset),
			"show_content":        "1",
			"include_attachments": "1",
		}
		if req.SinceID > 0 {
			params["since_id"] = strconv.Itoa(req.SinceID)
		}
		if req.Search != "" {
			params["search"] = req.Search
		}

		var page pageResult
		err := c.call(ctx, request{op: "getHeadlines", params: params}, contentHandler{
			array: func(iter *jsoniter.Iterator) error {
				page = dec.decodePage(iter, &articles)
				if err := iterError(iter); err != nil {
					return err
				}
				if page.stopped || page.exhausted {
					return errStopDecode
				}
				return nil
			},
		})
		if err != nil {
			return articles, err
		}
		if page.exhausted {
			debuglog.Warnf("ttrss: decode budget of %d bytes exhausted after %d articles", dec.budget, len(articles))
			c.lowMemory.Store(true)
			break
		}
		if page.stopped || page.processed < pageSize {
			break
		}
		offset += page.processed
	}

	if req.Limit > 0 && len(articles) > req.Limit {
		articles = articles[:req.Limit]
	}
	return articles, nil
}

// chunk splits ids into comma separated lists of at most size ids.
func chunk(ids []int, size int) []string {
	var lists []string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, strconv.Itoa(id))
		}
		lists = append(lists, strings.Join(parts, ","))
	}
	return lists
}

// UpdateArticle sets one field on a batch of articles. Batches above the
// id-list limit go out as several calls, stopping at the first failure.
func (c *Client) UpdateArticle(ctx context.Context, ids []int, field UpdateField, mode UpdateMode) error {
	for _, list := range chunk(ids, c.cfg.MaxIDListLength) {
		err := c.expectOK(ctx, request{op: "updateArticle", params: map[string]string{
			"article_ids": list,
			"field":       strconv.Itoa(int(field)),
			"mode":        strconv.Itoa(int(mode)),
		}})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetArticlesUnread marks articles unread (true) or read (false).
func (c *Client) SetArticlesUnread(ctx context.Context, ids []int, unread bool) error {
	return c.UpdateArticle(ctx, ids, UpdateUnread, modeOf(unread))
}

func (c *Client) SetArticlesStarred(ctx context.Context, ids []int, starred bool) error {
	return c.UpdateArticle(ctx, ids, UpdateStarred, modeOf(starred))
}

func (c *Client) SetArticlesPublished(ctx context.Context, ids []int, published bool) error {
	return c.UpdateArticle(ctx, ids, UpdatePublished, modeOf(published))
}

// SetArticleNote replaces the note of one article.
func (c *Client) SetArticleNote(ctx context.Context, id int, note string) error {
	return c.expectOK(ctx, request{op: "updateArticle", params: map[string]string{
		"article_ids": strconv.Itoa(id),
		"field":       strconv.Itoa(int(UpdateNote)),
		"data":        note,
	}})
}

// CatchupFeed marks a whole feed or category read on the server.
func (c *Client) CatchupFeed(ctx context.Context, id int, isCategory bool) error {
	return c.expectOK(ctx, request{op: "catchupFeed", params: map[string]string{
		"feed_id": strconv.Itoa(id),
		"is_cat":  boolParam(isCategory),
	}})
}

// SetArticleLabel attaches or detaches a label, chunked like UpdateArticle.
func (c *Client) SetArticleLabel(ctx context.Context, ids []int, labelID int, assign bool) error {
	for _, list := range chunk(ids, c.cfg.MaxIDListLength) {
		err := c.expectOK(ctx, request{op: "setArticleLabel", params: map[string]string{
			"article_ids": list,
			"label_id":    strconv.Itoa(labelID),
			"assign":      boolParam(assign),
		}})
		if err != nil {
			return err
		}
	}
	return nil
}

// ShareToPublished creates a published article from arbitrary content.
func (c *Client) ShareToPublished(ctx context.Context, title, url, content string) error {
	return c.expectOK(ctx, request{op: "shareToPublished", params: map[string]string{
		"title":   title,
		"url":     url,
		"content": content,
	}})
}

// Subscription status codes returned by subscribeToFeed.
const (
	SubscribeAlreadySubscribed = 0
	SubscribeAdded             = 1
	SubscribeInvalidURL        = 2
	SubscribeNotAFeed          = 3
	SubscribeMultipleFeeds     = 4
	SubscribeDownloadFailed    = 5
	SubscribeLoginFailed       = 6
)

// SubscribeResult is the server's answer to a subscription request.
type SubscribeResult struct {
	Code    int
	Message string
	FeedID  int
}

// OK reports whether the feed is subscribed after the call.
func (r SubscribeResult) OK() bool {
	return r.Code == SubscribeAdded || r.Code == SubscribeAlreadySubscribed
}

func (r SubscribeResult) String() string {
	switch r.Code {
	case SubscribeAlreadySubscribed:
		return "already subscribed"
	case SubscribeAdded:
		return "subscribed"
	case SubscribeInvalidURL:
		return "invalid URL"
	case SubscribeNotAFeed:
		return "URL content is not a feed"
	case SubscribeMultipleFeeds:
		return "URL contains multiple feeds"
	case SubscribeDownloadFailed:
		return "could not download URL"
	case SubscribeLoginFailed:
		return "feed requires login"
	default:
		return "unknown result " + strconv.Itoa(r.Code)
	}
}

// Subscribe asks the server to subscribe to feedURL in categoryID.
func (c *Client) Subscribe(ctx context.Context, feedURL string, categoryID int) (SubscribeResult, error) {
	res := SubscribeResult{Code: -1}
	err := c.call(ctx, request{op: "subscribeToFeed", params: map[string]string{
		"feed_url":    feedURL,
		"category_id": strconv.Itoa(categoryID),
	}}, contentHandler{
		object: func(obj map[string]any) error {
			status, ok := obj["status"].(map[string]any)
			if !ok {
				return malformed("subscribeToFeed", "no status object")
			}
			code := asString(status["code"])
			if strings.Contains(code, codeUnknownMethod) {
				return serverError("subscribeToFeed", codeUnknownMethod, "")
			}
			res.Code = asInt(status["code"])
			res.Message = asString(status["message"])
			res.FeedID = asInt(status["feed_id"])
			return nil
		},
	})
	return res, err
}

// Unsubscribe removes a feed subscription.
func (c *Client) Unsubscribe(ctx context.Context, feedID int) error {
	return c.expectOK(ctx, request{op: "unsubscribeFeed", params: map[string]string{
		"feed_id": strconv.Itoa(feedID),
	}})
}

// GetPref reads a server-side preference.
func (c *Client) GetPref(ctx context.Context, name string) (string, error) {
	var value string
	err := c.call(ctx, request{op: "getPref", params: map[string]string{"pref_name": name}}, contentHandler{
		object: func(obj map[string]any) error {
			v, ok := obj["value"]
			if !ok {
				return malformed("getPref", "no value for %s", name)
			}
			value = asString(v)
			return nil
		},
	})
	return value, err
}

// SetPref writes a server-side preference.
func (c *Client) SetPref(ctx context.Context, name, value string) error {
	return c.expectOK(ctx, request{op: "setPref", params: map[string]string{
		"pref_name": name,
		"value":     value,
	}})
}
