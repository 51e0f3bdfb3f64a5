package ttrss

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/ttsync/internal/storage"
)

func decodeHeadlines(t *testing.T, body string, omitter Omitter) ([]storage.Article, pageResult) {
	t.Helper()
	var (
		articles []storage.Article
		page     pageResult
	)
	dec := &articleDecoder{omitter: omitter}
	err := decodeEnvelope("getHeadlines", strings.NewReader(body), contentHandler{
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
	if errors.Is(err, errStopDecode) {
		err = nil
	}
	require.NoError(t, err)
	return articles, page
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind error
		code string
	}{
		{"not an object", `[1,2]`, ErrMalformedResponse, ""},
		{"no content", `{"seq":0,"status":0}`, ErrMalformedResponse, ""},
		{"truncated", `{"seq":0,"status":0,"content":[{"id":1,`, ErrMalformedResponse, ""},
		{"not logged in", `{"seq":0,"status":1,"content":{"error":"NOT_LOGGED_IN"}}`, ErrNotAuthenticated, codeNotLoggedIn},
		{"api disabled", `{"seq":0,"status":1,"content":{"error":"API_DISABLED"}}`, ErrAPIDisabled, codeAPIDisabled},
		{"incorrect usage", `{"status":1,"content":{"error":"INCORRECT_USAGE"}}`, ErrIncorrectUsage, codeIncorrectUsage},
		{"other", `{"status":1,"content":{"error":"FEED_NOT_FOUND"}}`, ErrServerRejected, "FEED_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeEnvelope("op", strings.NewReader(tt.body), contentHandler{
				array: func(iter *jsoniter.Iterator) error {
					for iter.ReadArray() {
						iter.Skip()
					}
					return iterError(iter)
				},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.code != "" {
				var apiErr *Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.code, apiErr.Code)
			}
		})
	}
}

func TestDecodeEnvelope_Object(t *testing.T) {
	var got map[string]any
	err := decodeEnvelope("getVersion", strings.NewReader(`{"seq":0,"status":0,"content":{"version":"21.07"}}`), contentHandler{
		object: func(obj map[string]any) error {
			got = obj
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "21.07", got["version"])
}

func TestDecodeCategories_Lenient(t *testing.T) {
	body := `{"content":[
		{"id":"3","title":"Go","unread":"4"},
		{"id":-1,"title":"Special"},
		{"id":5},
		{"id":7.0,"title":"Float","unread":2,"order_id":1}
	]}`
	var cats []storage.Category
	err := decodeEnvelope("getCategories", strings.NewReader(body), contentHandler{
		array: func(iter *jsoniter.Iterator) error {
			cats = decodeCategories(iter)
			return iterError(iter)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []storage.Category{
		{ID: 3, Title: "Go", Unread: 4},
		{ID: 7, Title: "Float", Unread: 2},
	}, cats)
}

func TestDecodeHeadlines_Fields(t *testing.T) {
	body := `{"seq":0,"status":0,"content":[{
		"id":42,"guid":"x","unread":true,"marked":"1","published":0,
		"updated":1700000000,"is_updated":false,"title":"Hello",
		"link":"//example.org/post","feed_id":"7","tags":["go"],
		"attachments":[{"id":"1","content_url":"//cdn.example.org/a.mp3","content_type":"audio/mpeg"},{"content_url":"https://x/no-id"}],
		"content":"<p><img src=\"//cdn.example.org/i.png\"> <img src=\"https://ok/i.png\"></p>",
		"labels":[[-1025,"later","#fff","#000"],["bad"]],
		"comments":"//example.org/post#c","author":"ann","score":3,"note":null,
		"extra":{"nested":[1,2,{"deep":true}]}
	}]}`

	articles, page := decodeHeadlines(t, body, nil)
	require.Len(t, articles, 1)
	assert.Equal(t, 1, page.processed)

	a := articles[0]
	assert.Equal(t, 42, a.ID)
	assert.Equal(t, 7, a.FeedID)
	assert.Equal(t, "Hello", a.Title)
	assert.True(t, a.IsUnread)
	assert.True(t, a.IsStarred)
	assert.False(t, a.IsPublished)
	assert.Equal(t, time.Unix(1700000000, 0), a.Updated)
	assert.Equal(t, "https://example.org/post", a.URL)
	assert.Equal(t, "https://example.org/post#c", a.CommentURL)
	assert.Equal(t, []string{"https://cdn.example.org/a.mp3"}, a.Attachments)
	assert.Equal(t, `<p><img src="https://cdn.example.org/i.png"> <img src="https://ok/i.png"></p>`, a.Content)
	require.Len(t, a.Labels, 1)
	assert.Equal(t, storage.Label{ID: -1025, Caption: "later", ForegroundColor: "#fff", BackgroundColor: "#000", Checked: true}, a.Labels[0])
	assert.Equal(t, "ann", a.Author)
	assert.Equal(t, 3, a.Score)
	assert.Empty(t, a.Note)
	assert.Nil(t, a.CachedImages)
}

func TestDecodeHeadlines_DropsInvalid(t *testing.T) {
	body := `{"content":[
		{"id":0,"title":"zero"},
		{"id":2},
		{"id":3,"title":"ok","updated":10},
		{"title":"no id"}
	]}`
	articles, page := decodeHeadlines(t, body, nil)
	require.Len(t, articles, 1)
	assert.Equal(t, 3, articles[0].ID)
	assert.Equal(t, 4, page.processed)
}

func TestDecodeHeadlines_OmitSkipsRest(t *testing.T) {
	body := `{"content":[
		{"id":1,"updated":100,"title":"a","content":"big","labels":[[1,"x"]]},
		{"id":2,"updated":200,"title":"b"}
	]}`
	var seen []Field
	omitter := OmitFunc(func(f Field, a *storage.Article) Decision {
		if a.ID == 1 {
			seen = append(seen, f)
			if f == FieldUpdated {
				return Omit
			}
		}
		return Include
	})

	articles, page := decodeHeadlines(t, body, omitter)
	require.Len(t, articles, 1)
	assert.Equal(t, 2, articles[0].ID)
	assert.Equal(t, 2, page.processed)
	assert.False(t, page.stopped)
	assert.Equal(t, []Field{FieldID, FieldUpdated}, seen)
}

func TestDecodeHeadlines_Stop(t *testing.T) {
	body := `{"content":[
		{"id":3,"updated":300,"title":"c"},
		{"id":2,"updated":200,"title":"b"},
		{"id":1,"updated":100,"title":"a"}
	]}`
	omitter := OmitFunc(func(f Field, a *storage.Article) Decision {
		if f == FieldUpdated && a.Updated.Unix() < 250 {
			return StopAndOmitRest
		}
		return Include
	})

	articles, page := decodeHeadlines(t, body, omitter)
	require.Len(t, articles, 1)
	assert.Equal(t, 3, articles[0].ID)
	assert.True(t, page.stopped)
	assert.Equal(t, 2, page.processed)
}

func TestDecodeHeadlines_Budget(t *testing.T) {
	body := `{"content":[
		{"id":1,"title":"a","content":"0123456789"},
		{"id":2,"title":"b","content":"0123456789"},
		{"id":3,"title":"c","content":"0123456789"}
	]}`
	var articles []storage.Article
	dec := &articleDecoder{budget: 15}
	var page pageResult
	err := decodeEnvelope("getHeadlines", strings.NewReader(body), contentHandler{
		array: func(iter *jsoniter.Iterator) error {
			page = dec.decodePage(iter, &articles)
			return errStopDecode
		},
	})
	assert.ErrorIs(t, err, errStopDecode)
	assert.True(t, page.exhausted)
	assert.Len(t, articles, 2)
}

func TestDecodeEnvelope_HandlerErrorsGetAKind(t *testing.T) {
	body := `{"seq":0,"status":0,"content":[]}`
	decode := func(handlerErr error) error {
		return decodeEnvelope("getFeeds", strings.NewReader(body), contentHandler{
			array: func(iter *jsoniter.Iterator) error { return handlerErr },
		})
	}

	err := decode(errors.New("readObjectStart: expect { or n"))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "getFeeds", apiErr.Op)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	err = decode(io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrTransientIO)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Errors that already carry a kind pass through untouched.
	own := transportError("getFeeds", io.EOF)
	assert.Same(t, own, decode(own))
	assert.ErrorIs(t, decode(errStopDecode), errStopDecode)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 3))
	assert.Equal(t, []string{"1,2,3", "4,5"}, chunk([]int{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, []string{"9"}, chunk([]int{9}, 100))
}
