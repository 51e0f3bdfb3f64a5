package storage

import (
	"time"
)

// Virtual category ids. They are never created or deleted by category sync,
// only recomputed from local counts.
const (
	CategoryUncategorized = 0
	CategoryStarred       = -1
	CategoryPublished     = -2
	CategoryFresh         = -3
	CategoryAll           = -4
)

// LabelIDThreshold is the boundary below which a feed id denotes a label.
const LabelIDThreshold = -10

// VirtualCategoryTitles holds the display titles used when the store has to
// materialize a virtual category row itself.
var VirtualCategoryTitles = map[int]string{
	CategoryUncategorized: "Uncategorized Feeds",
	CategoryStarred:       "Starred articles",
	CategoryPublished:     "Published articles",
	CategoryFresh:         "Fresh articles",
	CategoryAll:           "All articles",
}

// IsVirtualCategory reports whether id is one of the reserved category ids.
func IsVirtualCategory(id int) bool {
	return id <= CategoryUncategorized && id >= CategoryAll
}

// IsLabel reports whether a feed id refers to a label.
func IsLabel(id int) bool {
	return id < LabelIDThreshold
}

type Category struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Unread int    `json:"unread"`
}

type Feed struct {
	ID         int    `json:"id"`
	CategoryID int    `json:"category_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Unread     int    `json:"unread"`
	Icon       []byte `json:"-"`
}

type Label struct {
	ID              int    `json:"id"`
	Caption         string `json:"caption"`
	ForegroundColor string `json:"fg_color"`
	BackgroundColor string `json:"bg_color"`
	// Checked is only meaningful when the label was loaded for one article.
	Checked bool `json:"checked"`
}

type Article struct {
	ID          int       `json:"id"`
	FeedID      int       `json:"feed_id"`
	Title       string    `json:"title"`
	IsUnread    bool      `json:"unread"`
	IsStarred   bool      `json:"starred"`
	IsPublished bool      `json:"published"`
	Updated     time.Time `json:"updated"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	CommentURL  string    `json:"comment_url"`
	Attachments []string  `json:"attachments"`
	Labels      []Label   `json:"labels"`
	Author      string    `json:"author"`
	Note        string    `json:"note"`
	Score       int       `json:"score"`
	// CachedImages is derived locally. nil means unknown, and an upsert with
	// nil keeps whatever value is already stored.
	CachedImages *int `json:"cached_images,omitempty"`
}

// MarkKind selects which article flag a pending mutation refers to.
type MarkKind int

const (
	MarkUnread MarkKind = iota
	MarkStarred
	MarkPublished
)

func (k MarkKind) String() string {
	switch k {
	case MarkUnread:
		return "unread"
	case MarkStarred:
		return "starred"
	case MarkPublished:
		return "published"
	default:
		return "unknown"
	}
}

// column maps the kind to the shared column name of articles and marked.
func (k MarkKind) column() string {
	switch k {
	case MarkStarred:
		return "isStarred"
	case MarkPublished:
		return "isPublished"
	default:
		return "isUnread"
	}
}

// MarkKinds lists every kind in flush order.
var MarkKinds = []MarkKind{MarkUnread, MarkStarred, MarkPublished}

// PendingMark is a local state change the server has not acknowledged yet.
// A nil field means nothing is pending for that flag.
type PendingMark struct {
	ArticleID int     `json:"article_id"`
	Unread    *bool   `json:"unread,omitempty"`
	Starred   *bool   `json:"starred,omitempty"`
	Published *bool   `json:"published,omitempty"`
	Note      *string `json:"note,omitempty"`
}

// RemoteFile tracks an attachment or inline image referenced by articles.
type RemoteFile struct {
	ID      int       `json:"id"`
	URL     string    `json:"url"`
	Length  int64     `json:"length"`
	Ext     string    `json:"ext"`
	Updated time.Time `json:"updated"`
	Cached  bool      `json:"cached"`
}

// SyncState is the sync metadata that outlives the process.
type SyncState struct {
	SinceID       int       `json:"since_id"`
	LastSync      time.Time `json:"last_sync"`
	LastCleanup   time.Time `json:"last_cleanup"`
	APILevel      int       `json:"api_level"`
	ServerVersion string    `json:"server_version"`
}

// IconMetadata keeps HTTP validators for feed icon downloads.
type IconMetadata struct {
	FeedID       int       `json:"feed_id"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	LastFetched  time.Time `json:"last_fetched"`
}
