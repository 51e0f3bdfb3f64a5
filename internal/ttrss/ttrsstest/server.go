// Package ttrsstest provides an in-memory Tiny Tiny RSS API server for
// tests. It keeps categories, feeds, labels and articles, answers the JSON
// API the way a real server does, and records every call.
package ttrsstest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pders01/ttsync/internal/storage"
)

// Call is one recorded API request.
type Call struct {
	Op     string
	Params map[string]string
}

// Server is a fake feed server. Exported fields may be set before the first
// request.
type Server struct {
	*httptest.Server

	Username string
	Password string
	// RequireEncodedPassword rejects plaintext passwords at login.
	RequireEncodedPassword bool
	HTTPUsername           string
	HTTPPassword           string
	APILevel               int
	Version                string

	mu            sync.Mutex
	categories    map[int]storage.Category
	feeds         map[int]storage.Feed
	labels        map[int]storage.Label
	articles      map[int]*storage.Article
	prefs         map[string]string
	icons         map[int][]byte
	sessions      map[string]bool
	nextSID       int
	calls         []Call
	iconRequests  int
	failOps       map[string]string
	failStatus    map[string]int
	subscribeCode int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		Username:      "admin",
		Password:      "password",
		APILevel:      14,
		Version:       "21.07",
		categories:    map[int]storage.Category{},
		feeds:         map[int]storage.Feed{},
		labels:        map[int]storage.Label{},
		articles:      map[int]*storage.Article{},
		prefs:         map[string]string{"FRESH_ARTICLE_MAX_AGE": "24"},
		icons:         map[int][]byte{},
		sessions:      map[string]bool{},
		failOps:       map[string]string{},
		failStatus:    map[string]int{},
		subscribeCode: 1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.handleAPI)
	mux.HandleFunc("/feed-icons/", s.handleIcon)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the server root as a client expects it.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

func (s *Server) AddCategory(c storage.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

func (s *Server) AddFeed(f storage.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[f.ID] = f
}

func (s *Server) AddLabel(l storage.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[l.ID] = l
}

// AddArticles stores copies of articles, replacing same ids.
func (s *Server) AddArticles(articles ...storage.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range articles {
		a := articles[i]
		s.articles[a.ID] = &a
	}
}

// Article returns a copy of the server-side article.
func (s *Server) Article(id int) (storage.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return storage.Article{}, false
	}
	return *a, true
}

// UpdateArticle changes a server-side article in place.
func (s *Server) UpdateArticle(id int, fn func(a *storage.Article)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.articles[id]; ok {
		fn(a)
	}
}

func (s *Server) SetPref(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[name] = value
}

func (s *Server) Pref(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs[name]
}

func (s *Server) SetIcon(feedID int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.icons[feedID] = data
}

// IconRequests counts icon downloads, 304 answers included.
func (s *Server) IconRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iconRequests
}

// SetSubscribeCode sets the status code subscribeToFeed answers with.
func (s *Server) SetSubscribeCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeCode = code
}

// FailWith makes op answer with an API error code until ClearFailures.
func (s *Server) FailWith(op, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = code
}

// FailHTTP makes op answer with an HTTP status until ClearFailures.
func (s *Server) FailHTTP(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus[op] = status
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps = map[string]string{}
	s.failStatus = map[string]int{}
}

// ExpireSessions invalidates every session id handed out so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]bool{}
}

// Calls returns the recorded calls of op, or all calls when op is empty.
func (s *Server) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) CallCount(op string) int {
	return len(s.Calls(op))
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type envelope struct {
	Seq     int `json:"seq"`
	Status  int `json:"status"`
	Content any `json:"content"`
}

func writeContent(w http.ResponseWriter, content any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Content: content})
}

func writeError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Status: 1, Content: map[string]string{"error": code}})
}

func (s *Server) checkBasicAuth(r *http.Request) bool {
	if s.HTTPUsername == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == s.HTTPUsername && pass == s.HTTPPassword
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, "INCORRECT_USAGE")
		return
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = fmt.Sprint(v)
	}
	op := params["op"]

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: op, Params: params})

	if status, ok := s.failStatus[op]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if code, ok := s.failOps[op]; ok {
		writeError(w, code)
		return
	}

	if op == "login" {
		s.login(w, params)
		return
	}
	if !s.sessions[params["sid"]] {
		writeError(w, "NOT_LOGGED_IN")
		return
	}

	switch op {
	case "logout":
		delete(s.sessions, params["sid"])
		writeContent(w, map[string]string{"status": "OK"})
	case "isLoggedIn":
		writeContent(w, map[string]bool{"status": true})
	case "getApiLevel":
		writeContent(w, map[string]int{"level": s.APILevel})
	case "getVersion":
		writeContent(w, map[string]string{"version": s.Version})
	case "getCategories":
		writeContent(w, s.categoryList())
	case "getFeeds":
		writeContent(w, s.feedList(atoi(params["cat_id"])))
	case "getHeadlines":
		writeContent(w, s.headlines(params))
	case "updateArticle":
		writeContent(w, map[string]any{"status": "OK", "updated": s.updateArticle(params)})
	case "catchupFeed":
		s.catchup(atoi(params["feed_id"]), params["is_cat"] == "1")
		writeContent(w, map[string]string{"status": "OK"})
	case "setArticleLabel":
		s.setLabel(params)
		writeContent(w, map[string]string{"status": "OK"})
	case "shareToPublished":
		s.share(params)
		writeContent(w, map[string]string{"status": "OK"})
	case "subscribeToFeed":
		writeContent(w, map[string]any{"status": s.subscribe(params)})
	case "unsubscribeFeed":
		id := atoi(params["feed_id"])
		if _, ok := s.feeds[id]; !ok {
			writeError(w, "FEED_NOT_FOUND")
			return
		}
		delete(s.feeds, id)
		writeContent(w, map[string]string{"status": "OK"})
	case "getPref":
		writeContent(w, map[string]string{"value": s.prefs[params["pref_name"]]})
	case "setPref":
		s.prefs[params["pref_name"]] = params["value"]
		writeContent(w, map[string]string{"status": "OK"})
	case "updateFeed":
		writeContent(w, map[string]string{"status": "OK"})
	default:
		writeError(w, "UNKNOWN_METHOD")
	}
}

func (s *Server) login(w http.ResponseWriter, params map[string]string) {
	password := s.Password
	if s.RequireEncodedPassword {
		password = base64.StdEncoding.EncodeToString([]byte(s.Password))
	}
	if params["user"] != s.Username || params["password"] != password {
		writeError(w, "LOGIN_ERROR")
		return
	}
	s.nextSID++
	sid := "sid-" + strconv.Itoa(s.nextSID)
	s.sessions[sid] = true
	writeContent(w, map[string]any{"session_id": sid, "api_level": s.APILevel})
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func (s *Server) unreadWhere(match func(a *storage.Article) bool) int {
	n := 0
	for _, a := range s.articles {
		if a.IsUnread && match(a) {
			n++
		}
	}
	return n
}

func (s *Server) categoryList() []map[string]any {
	var out []map[string]any
	// Special categories are part of real answers and must be ignored by
	// clients.
	out = append(out, map[string]any{"id": -1, "title": "Special", "unread": 0})
	ids := make([]int, 0, len(s.categories))
	for id := range s.categories {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := s.categories[id]
		unread := s.unreadWhere(func(a *storage.Article) bool {
			f, ok := s.feeds[a.FeedID]
			return ok && f.CategoryID == id
		})
		out = append(out, map[string]any{"id": strconv.Itoa(c.ID), "title": c.Title, "unread": unread, "order_id": 0})
	}
	return out
}

func (s *Server) feedList(catID int) []map[string]any {
	var out []map[string]any
	ids := make([]int, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		f := s.feeds[id]
		if catID != storage.CategoryAll && f.CategoryID != catID {
			continue
		}
		out = append(out, map[string]any{
			"id":       f.ID,
			"cat_id":   f.CategoryID,
			"title":    f.Title,
			"feed_url": f.URL,
			"unread":   s.unreadWhere(func(a *storage.Article) bool { return a.FeedID == id }),
			"has_icon": true,
		})
	}
	if catID == storage.CategoryAll {
		out = append(out, map[string]any{"id": -4, "cat_id": -1, "title": "All articles", "unread": 0})
		for id, l := range s.labels {
			out = append(out, map[string]any{
				"id":     id,
				"cat_id": -2,
				"title":  l.Caption,
				"unread": s.unreadWhere(func(a *storage.Article) bool { return hasLabel(a, id) }),
			})
		}
	}
	return out
}

func hasLabel(a *storage.Article, id int) bool {
	for _, l := range a.Labels {
		if l.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) inScope(a *storage.Article, id int, isCat bool) bool {
	fresh := time.Now().Add(-24 * time.Hour)
	switch {
	case id == storage.CategoryAll:
		return true
	case id == storage.CategoryFresh:
		return a.Updated.After(fresh)
	case id == storage.CategoryPublished:
		return a.IsPublished
	case id == storage.CategoryStarred:
		return a.IsStarred
	case isCat:
		f, ok := s.feeds[a.FeedID]
		return ok && f.CategoryID == id
	case storage.IsLabel(id):
		return hasLabel(a, id)
	default:
		return a.FeedID == id
	}
}

func (s *Server) headlines(params map[string]string) []wireHeadline {
	id := atoi(params["feed_id"])
	isCat := params["is_cat"] == "1"
	sinceID := atoi(params["since_id"])
	limit := atoi(params["limit"])
	skip := atoi(params["skip"])

	var selected []*storage.Article
	for _, a := range s.articles {
		if a.ID <= sinceID || !s.inScope(a, id, isCat) {
			continue
		}
		switch params["view_mode"] {
		case "unread":
			if !a.IsUnread {
				continue
			}
		case "marked":
			if !a.IsStarred {
				continue
			}
		case "published":
			if !a.IsPublished {
				continue
			}
		}
		selected = append(selected, a)
	}
	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].Updated.Equal(selected[j].Updated) {
			return selected[i].Updated.After(selected[j].Updated)
		}
		return selected[i].ID > selected[j].ID
	})

	if skip >= len(selected) {
		return []wireHeadline{}
	}
	selected = selected[skip:]
	if limit > 0 && limit < len(selected) {
		selected = selected[:limit]
	}

	out := make([]wireHeadline, 0, len(selected))
	for _, a := range selected {
		out = append(out, headline(a))
	}
	return out
}

// wireHeadline mirrors the field order of real getHeadlines answers,
// including fields clients do not know about.
type wireHeadline struct {
	ID          int              `json:"id"`
	GUID        string           `json:"guid"`
	Unread      bool             `json:"unread"`
	Marked      bool             `json:"marked"`
	Published   bool             `json:"published"`
	Updated     int64            `json:"updated"`
	IsUpdated   bool             `json:"is_updated"`
	Title       string           `json:"title"`
	Link        string           `json:"link"`
	FeedID      string           `json:"feed_id"`
	Tags        []string         `json:"tags"`
	Attachments []map[string]any `json:"attachments"`
	Content     string           `json:"content"`
	Labels      [][]any          `json:"labels"`
	FeedTitle   string           `json:"feed_title"`
	Comments    string           `json:"comments"`
	Author      string           `json:"author"`
	Score       int              `json:"score"`
	Note        any              `json:"note"`
	Lang        string           `json:"lang"`
}

func headline(a *storage.Article) wireHeadline {
	attachments := make([]map[string]any, 0, len(a.Attachments))
	for i, u := range a.Attachments {
		attachments = append(attachments, map[string]any{
			"id":           strconv.Itoa(a.ID*100 + i),
			"content_url":  u,
			"content_type": "application/octet-stream",
		})
	}
	labels := make([][]any, 0, len(a.Labels))
	for _, l := range a.Labels {
		labels = append(labels, []any{l.ID, l.Caption, l.ForegroundColor, l.BackgroundColor})
	}
	return wireHeadline{
		ID:          a.ID,
		GUID:        fmt.Sprintf("SHA1:%d", a.ID),
		Unread:      a.IsUnread,
		Marked:      a.IsStarred,
		Published:   a.IsPublished,
		Updated:     a.Updated.Unix(),
		Title:       a.Title,
		Link:        a.URL,
		FeedID:      strconv.Itoa(a.FeedID),
		Tags:        []string{""},
		Attachments: attachments,
		Content:     a.Content,
		Labels:      labels,
		FeedTitle:   "feed",
		Comments:    a.CommentURL,
		Author:      a.Author,
		Score:       a.Score,
		Note:        nullable(a.Note),
		Lang:        "en",
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseIDs(list string) []int {
	var ids []int
	for _, part := range strings.Split(list, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

func (s *Server) updateArticle(params map[string]string) int {
	field := atoi(params["field"])
	mode := atoi(params["mode"])
	apply := func(cur bool) bool {
		switch mode {
		case 0:
			return false
		case 1:
			return true
		default:
			return !cur
		}
	}

	updated := 0
	for _, id := range parseIDs(params["article_ids"]) {
		a, ok := s.articles[id]
		if !ok {
			continue
		}
		switch field {
		case 0:
			a.IsStarred = apply(a.IsStarred)
		case 1:
			a.IsPublished = apply(a.IsPublished)
		case 2:
			a.IsUnread = apply(a.IsUnread)
		case 3:
			a.Note = params["data"]
		}
		updated++
	}
	return updated
}

func (s *Server) catchup(id int, isCat bool) {
	for _, a := range s.articles {
		if s.inScope(a, id, isCat) {
			a.IsUnread = false
		}
	}
}

func (s *Server) setLabel(params map[string]string) {
	labelID := atoi(params["label_id"])
	l, ok := s.labels[labelID]
	if !ok {
		return
	}
	assign := params["assign"] == "1"
	for _, id := range parseIDs(params["article_ids"]) {
		a, ok := s.articles[id]
		if !ok {
			continue
		}
		kept := a.Labels[:0]
		for _, existing := range a.Labels {
			if existing.ID != labelID {
				kept = append(kept, existing)
			}
		}
		a.Labels = kept
		if assign {
			a.Labels = append(a.Labels, l)
		}
	}
}

func (s *Server) maxArticleID() int {
	maxID := 0
	for id := range s.articles {
		maxID = max(maxID, id)
	}
	return maxID
}

func (s *Server) share(params map[string]string) {
	id := s.maxArticleID() + 1
	s.articles[id] = &storage.Article{
		ID:          id,
		FeedID:      storage.CategoryPublished,
		Title:       params["title"],
		URL:         params["url"],
		Content:     params["content"],
		IsPublished: true,
		Updated:     time.Now(),
	}
}

func (s *Server) subscribe(params map[string]string) map[string]any {
	status := map[string]any{"code": s.subscribeCode}
	if s.subscribeCode != 1 {
		return status
	}
	for _, f := range s.feeds {
		if f.URL == params["feed_url"] {
			status["code"] = 0
			status["feed_id"] = f.ID
			return status
		}
	}
	id := 1
	for fid := range s.feeds {
		id = max(id, fid+1)
	}
	s.feeds[id] = storage.Feed{ID: id, CategoryID: atoi(params["category_id"]), Title: params["feed_url"], URL: params["feed_url"]}
	status["feed_id"] = id
	return status
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/feed-icons/"), ".ico")
	id, err := strconv.Atoi(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.iconRequests++

	data, ok := s.icons[id]
	if err != nil || !ok {
		http.NotFound(w, r)
		return
	}
	etag := fmt.Sprintf(`"icon-%d-%d"`, id, len(data))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "image/x-icon")
	_, _ = w.Write(data)
}
