package ttrss

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/pders01/ttsync/internal/storage"
)

const readBufferSize = 4096

// decodeEnvelope walks {"seq":..,"status":..,"content":..} and hands the
// content to h. An error object in content becomes an *Error.
func decodeEnvelope(op string, body io.Reader, h contentHandler) error {
	iter := jsoniter.Parse(jsoniter.ConfigDefault, body, readBufferSize)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		if err := iterError(iter); err != nil {
			return readError(op, err)
		}
		return malformed(op, "response is not a JSON object")
	}

	seenContent := false
	for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
		if key != "content" {
			iter.Skip()
			continue
		}
		seenContent = true
		if err := decodeContent(op, iter, h); err != nil {
			return err
		}
	}
	// io.EOF here means the body ended inside the envelope.
	if iter.Error != nil {
		return readError(op, iter.Error)
	}
	if !seenContent {
		return malformed(op, "response has no content")
	}
	return nil
}

func decodeContent(op string, iter *jsoniter.Iterator, h contentHandler) error {
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		if h.array == nil {
			iter.Skip()
			return nil
		}
		if err := h.array(iter); err != nil {
			return wrapHandlerError(op, err)
		}
	case jsoniter.ObjectValue:
		var obj map[string]any
		iter.ReadVal(&obj)
		if err := iterError(iter); err != nil {
			return readError(op, err)
		}
		if code, ok := obj["error"]; ok {
			s := asString(code)
			return serverError(op, errorCode(s), s)
		}
		if h.object != nil {
			return wrapHandlerError(op, h.object(obj))
		}
	default:
		iter.Skip()
	}
	if err := iterError(iter); err != nil {
		return readError(op, err)
	}
	return nil
}

// wrapHandlerError gives bare decoder errors from a content handler a kind.
func wrapHandlerError(op string, err error) error {
	var apiErr *Error
	if err == nil || errors.Is(err, errStopDecode) || errors.As(err, &apiErr) {
		return err
	}
	return readError(op, err)
}

// errorCode extracts a known code from a free-text error message.
func errorCode(msg string) string {
	for _, code := range []string{codeNotLoggedIn, codeLoginError, codeAPIDisabled, codeUnknownMethod, codeIncorrectUsage} {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return msg
}

func iterError(iter *jsoniter.Iterator) error {
	if iter.Error == nil || errors.Is(iter.Error, io.EOF) {
		return nil
	}
	return iter.Error
}

// The read* helpers accept the loose typing servers use in practice:
// numbers as strings, booleans as 0/1. A value of the wrong kind is skipped
// and reported as absent.

func readInt(iter *jsoniter.Iterator) (int64, bool) {
	switch iter.WhatIsNext() {
	case jsoniter.NumberValue:
		return parseInt(string(iter.ReadNumber()))
	case jsoniter.StringValue:
		return parseInt(strings.TrimSpace(iter.ReadString()))
	case jsoniter.BoolValue:
		if iter.ReadBool() {
			return 1, true
		}
		return 0, true
	case jsoniter.NilValue:
		iter.ReadNil()
		return 0, false
	default:
		iter.Skip()
		return 0, false
	}
}

func parseInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

func readBool(iter *jsoniter.Iterator) (bool, bool) {
	switch iter.WhatIsNext() {
	case jsoniter.BoolValue:
		return iter.ReadBool(), true
	case jsoniter.StringValue:
		b, err := strconv.ParseBool(iter.ReadString())
		return b, err == nil
	case jsoniter.NumberValue:
		n, ok := parseInt(string(iter.ReadNumber()))
		return n != 0, ok
	case jsoniter.NilValue:
		iter.ReadNil()
		return false, false
	default:
		iter.Skip()
		return false, false
	}
}

func readString(iter *jsoniter.Iterator) (string, bool) {
	switch iter.WhatIsNext() {
	case jsoniter.StringValue:
		return iter.ReadString(), true
	case jsoniter.NumberValue:
		return string(iter.ReadNumber()), true
	case jsoniter.BoolValue:
		return strconv.FormatBool(iter.ReadBool()), true
	case jsoniter.NilValue:
		iter.ReadNil()
		return "", false
	default:
		iter.Skip()
		return "", false
	}
}

// asString and asInt read values of an already decoded object.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := parseInt(strings.TrimSpace(t))
		return int(n)
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

func decodeCategories(iter *jsoniter.Iterator) []storage.Category {
	var out []storage.Category
	for iter.ReadArray() {
		var (
			c        storage.Category
			hasTitle bool
		)
		for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
			switch key {
			case "id":
				n, _ := readInt(iter)
				c.ID = int(n)
			case "title":
				c.Title, hasTitle = readString(iter)
			case "unread":
				n, _ := readInt(iter)
				c.Unread = int(n)
			default:
				iter.Skip()
			}
		}
		// Virtual categories are computed locally.
		if c.ID > 0 && hasTitle {
			out = append(out, c)
		}
	}
	return out
}

func decodeFeeds(iter *jsoniter.Iterator) []storage.Feed {
	var out []storage.Feed
	for iter.ReadArray() {
		var (
			f        storage.Feed
			hasTitle bool
		)
		for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
			switch key {
			case "id":
				n, _ := readInt(iter)
				f.ID = int(n)
			case "cat_id":
				n, _ := readInt(iter)
				f.CategoryID = int(n)
			case "title":
				f.Title, hasTitle = readString(iter)
			case "feed_url":
				f.URL, _ = readString(iter)
			case "unread":
				n, _ := readInt(iter)
				f.Unread = int(n)
			default:
				iter.Skip()
			}
		}
		// Real feeds and labels. Special feeds -1..-4 mirror the virtual
		// categories.
		if hasTitle && (f.ID > 0 || storage.IsLabel(f.ID)) {
			out = append(out, f)
		}
	}
	return out
}

// articleDecoder decodes a headline array, consulting the omitter after
// every known field.
type articleDecoder struct {
	omitter Omitter
	budget  int64
	used    int64
}

// pageResult summarizes one decoded headline page.
type pageResult struct {
	processed int  // objects read, omitted ones included
	stopped   bool // omitter asked to stop
	exhausted bool // decode budget ran out
}

func (d *articleDecoder) decodePage(iter *jsoniter.Iterator, out *[]storage.Article) pageResult {
	var res pageResult
	for iter.ReadArray() {
		res.processed++
		a, decision, valid := d.decodeArticle(iter)
		if iter.Error != nil {
			return res
		}
		switch decision {
		case StopAndOmitRest:
			res.stopped = true
			return res
		case Omit:
			continue
		}
		if !valid {
			continue
		}
		*out = append(*out, a)

		d.used += int64(len(a.Content))
		if d.budget > 0 && d.used > d.budget {
			res.exhausted = true
			return res
		}
	}
	return res
}

// decodeArticle reads one headline object. Once the omitter decides
// against the article the remaining fields are skipped so the iterator
// ends up past the object either way.
func (d *articleDecoder) decodeArticle(iter *jsoniter.Iterator) (storage.Article, Decision, bool) {
	var (
		a        storage.Article
		decision = Include
		hasTitle bool
	)
	for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
		if decision != Include {
			iter.Skip()
			continue
		}
		f := parseField(key)
		if !readArticleField(iter, f, &a) {
			continue
		}
		if f == FieldTitle {
			hasTitle = true
		}
		if d.omitter != nil {
			decision = d.omitter.Decide(f, &a)
		}
	}
	return a, decision, a.ID > 0 && hasTitle
}

var protocolRelativeSrc = regexp.MustCompile(`(<(?:img|video)[^>]+?src=["'])//([^"']*)`)

// readArticleField stores one field on a. It reports false when the field
// is unknown or carries no usable value.
func readArticleField(iter *jsoniter.Iterator, f Field, a *storage.Article) bool {
	var ok bool
	switch f {
	case FieldID:
		var n int64
		n, ok = readInt(iter)
		a.ID = int(n)
	case FieldGUID:
		_, ok = readString(iter)
	case FieldTitle:
		a.Title, ok = readString(iter)
	case FieldUnread:
		a.IsUnread, ok = readBool(iter)
	case FieldUpdated:
		var n int64
		if n, ok = readInt(iter); ok {
			a.Updated = time.Unix(n, 0)
		}
	case FieldFeedID:
		var n int64
		n, ok = readInt(iter)
		a.FeedID = int(n)
	case FieldContent:
		var s string
		if s, ok = readString(iter); ok {
			a.Content = protocolRelativeSrc.ReplaceAllString(s, "${1}https://${2}")
		}
	case FieldLink:
		var s string
		s, ok = readString(iter)
		a.URL = absoluteURL(s)
	case FieldComments:
		var s string
		s, ok = readString(iter)
		a.CommentURL = absoluteURL(s)
	case FieldAttachments:
		a.Attachments, ok = readAttachments(iter)
	case FieldMarked:
		a.IsStarred, ok = readBool(iter)
	case FieldPublished:
		a.IsPublished, ok = readBool(iter)
	case FieldLabels:
		a.Labels, ok = readLabels(iter)
	case FieldAuthor:
		a.Author, ok = readString(iter)
	case FieldNote:
		a.Note, ok = readString(iter)
	case FieldScore:
		var n int64
		n, ok = readInt(iter)
		a.Score = int(n)
	default:
		iter.Skip()
	}
	return ok
}

// absoluteURL resolves protocol-relative links to https.
func absoluteURL(s string) string {
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	return s
}

func readAttachments(iter *jsoniter.Iterator) ([]string, bool) {
	if iter.WhatIsNext() != jsoniter.ArrayValue {
		iter.Skip()
		return nil, false
	}
	var urls []string
	for iter.ReadArray() {
		if iter.WhatIsNext() != jsoniter.ObjectValue {
			iter.Skip()
			continue
		}
		var (
			u     string
			hasID bool
		)
		for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
			switch key {
			case "content_url":
				u, _ = readString(iter)
				u = absoluteURL(u)
			case "id":
				_, hasID = readString(iter)
			default:
				iter.Skip()
			}
		}
		if hasID && u != "" {
			urls = append(urls, u)
		}
	}
	return urls, true
}

// readLabels decodes [[id, caption, fg, bg], ...].
func readLabels(iter *jsoniter.Iterator) ([]storage.Label, bool) {
	if iter.WhatIsNext() != jsoniter.ArrayValue {
		iter.Skip()
		return nil, false
	}
	var labels []storage.Label
	for iter.ReadArray() {
		if iter.WhatIsNext() != jsoniter.ArrayValue {
			iter.Skip()
			continue
		}
		var (
			l   = storage.Label{Checked: true}
			pos int
			ok  = true
		)
		for iter.ReadArray() {
			switch pos {
			case 0:
				var n int64
				n, ok = readInt(iter)
				l.ID = int(n)
			case 1:
				l.Caption, _ = readString(iter)
			case 2:
				l.ForegroundColor, _ = readString(iter)
			case 3:
				l.BackgroundColor, _ = readString(iter)
			default:
				iter.Skip()
			}
			pos++
		}
		if ok && pos >= 2 {
			labels = append(labels, l)
		}
	}
	return labels, true
}
