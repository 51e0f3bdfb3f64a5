package ttrss

import (
	"sort"
	"time"

	"github.com/pders01/ttsync/internal/storage"
)

// Field identifies a headline field in the wire format.
type Field int

const (
	FieldUnknown Field = iota
	FieldID
	FieldGUID
	FieldTitle
	FieldUnread
	FieldUpdated
	FieldFeedID
	FieldContent
	FieldLink
	FieldComments
	FieldAttachments
	FieldMarked
	FieldPublished
	FieldLabels
	FieldAuthor
	FieldNote
	FieldScore
)

func parseField(name string) Field {
	switch name {
	case "id":
		return FieldID
	case "guid":
		return FieldGUID
	case "title":
		return FieldTitle
	case "unread":
		return FieldUnread
	case "updated":
		return FieldUpdated
	case "feed_id":
		return FieldFeedID
	case "content":
		return FieldContent
	case "link":
		return FieldLink
	case "comments":
		return FieldComments
	case "attachments":
		return FieldAttachments
	case "marked":
		return FieldMarked
	case "published":
		return FieldPublished
	case "labels":
		return FieldLabels
	case "author":
		return FieldAuthor
	case "note":
		return FieldNote
	case "score":
		return FieldScore
	default:
		return FieldUnknown
	}
}

// Decision is an omitter's verdict on the article being decoded.
type Decision int

const (
	// Include keeps decoding the article.
	Include Decision = iota
	// Omit drops the article. Its remaining fields are skipped.
	Omit
	// StopAndOmitRest drops the article and ends the list. Used on lists
	// ordered newest first once everything that follows is known.
	StopAndOmitRest
)

// Omitter is consulted after every known field of a headline is decoded.
// The article holds the fields decoded so far.
type Omitter interface {
	Decide(f Field, a *storage.Article) Decision
}

// OmitFunc adapts a function to Omitter.
type OmitFunc func(f Field, a *storage.Article) Decision

func (fn OmitFunc) Decide(f Field, a *storage.Article) Decision { return fn(f, a) }

// omittedSet collects the ids an omitter dropped.
type omittedSet map[int]struct{}

func (s omittedSet) add(id int) {
	if id > 0 {
		s[id] = struct{}{}
	}
}

func (s omittedSet) ids() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// IDUpdatedOmitter drops articles already cached with an updated time at
// least as new as the server's.
type IDUpdatedOmitter struct {
	known   map[int]time.Time
	omitted omittedSet
}

func NewIDUpdatedOmitter(known map[int]time.Time) *IDUpdatedOmitter {
	return &IDUpdatedOmitter{known: known, omitted: omittedSet{}}
}

func (o *IDUpdatedOmitter) Decide(f Field, a *storage.Article) Decision {
	if f != FieldID && f != FieldUpdated {
		return Include
	}
	if a.ID <= 0 || a.Updated.IsZero() {
		return Include
	}
	cached, ok := o.known[a.ID]
	if !ok || a.Updated.After(cached) {
		return Include
	}
	o.omitted.add(a.ID)
	return Omit
}

// Omitted returns the dropped ids in ascending order.
func (o *IDUpdatedOmitter) Omitted() []int { return o.omitted.ids() }

// IDUnreadOmitter drops unread articles and stops the list at the first
// article older than lastUpdated, the updated time of the newest cached
// article. Articles exactly as old as lastUpdated are dropped and recorded.
type IDUnreadOmitter struct {
	lastUpdated time.Time
	omitted     omittedSet
}

func NewIDUnreadOmitter(lastUpdated time.Time) *IDUnreadOmitter {
	return &IDUnreadOmitter{lastUpdated: lastUpdated, omitted: omittedSet{}}
}

func (o *IDUnreadOmitter) Decide(f Field, a *storage.Article) Decision {
	switch f {
	case FieldUnread:
		if a.IsUnread {
			return Omit
		}
	case FieldUpdated:
		if o.lastUpdated.IsZero() || a.Updated.IsZero() {
			return Include
		}
		if o.lastUpdated.After(a.Updated) {
			return StopAndOmitRest
		}
		if a.Updated.Equal(o.lastUpdated) {
			o.omitted.add(a.ID)
			return Omit
		}
	}
	return Include
}

// Omitted returns the recorded ids in ascending order.
func (o *IDUnreadOmitter) Omitted() []int { return o.omitted.ids() }
