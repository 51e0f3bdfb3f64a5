package ttrss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pders01/ttsync/internal/storage"
)

func TestIDUpdatedOmitter(t *testing.T) {
	known := map[int]time.Time{
		1: time.Unix(100, 0),
		2: time.Unix(100, 0),
	}
	tests := []struct {
		name    string
		id      int
		updated int64
		want    Decision
	}{
		{"cached and unchanged", 1, 100, Omit},
		{"cached newer than server", 2, 50, Omit},
		{"changed on server", 2, 101, Include},
		{"unknown id", 3, 10, Include},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewIDUpdatedOmitter(known)
			a := &storage.Article{ID: tt.id}
			assert.Equal(t, Include, o.Decide(FieldID, a))
			a.Updated = time.Unix(tt.updated, 0)
			assert.Equal(t, tt.want, o.Decide(FieldUpdated, a))
		})
	}
}

func TestIDUpdatedOmitter_FieldOrder(t *testing.T) {
	o := NewIDUpdatedOmitter(map[int]time.Time{5: time.Unix(100, 0)})

	// updated before id: the decision comes with the id.
	a := &storage.Article{Updated: time.Unix(90, 0)}
	assert.Equal(t, Include, o.Decide(FieldUpdated, a))
	a.ID = 5
	assert.Equal(t, Omit, o.Decide(FieldID, a))
	assert.Equal(t, Include, o.Decide(FieldTitle, a))

	assert.Equal(t, []int{5}, o.Omitted())
}

func TestIDUnreadOmitter(t *testing.T) {
	last := time.Unix(1000, 0)

	t.Run("unread dropped", func(t *testing.T) {
		o := NewIDUnreadOmitter(last)
		assert.Equal(t, Omit, o.Decide(FieldUnread, &storage.Article{ID: 1, IsUnread: true}))
		assert.Empty(t, o.Omitted())
	})
	t.Run("newer kept", func(t *testing.T) {
		o := NewIDUnreadOmitter(last)
		a := &storage.Article{ID: 2}
		assert.Equal(t, Include, o.Decide(FieldUnread, a))
		a.Updated = time.Unix(1001, 0)
		assert.Equal(t, Include, o.Decide(FieldUpdated, a))
	})
	t.Run("same time recorded", func(t *testing.T) {
		o := NewIDUnreadOmitter(last)
		a := &storage.Article{ID: 3, Updated: last}
		assert.Equal(t, Omit, o.Decide(FieldUpdated, a))
		assert.Equal(t, []int{3}, o.Omitted())
	})
	t.Run("older stops", func(t *testing.T) {
		o := NewIDUnreadOmitter(last)
		a := &storage.Article{ID: 4, Updated: time.Unix(999, 0)}
		assert.Equal(t, StopAndOmitRest, o.Decide(FieldUpdated, a))
	})
	t.Run("empty cache never stops", func(t *testing.T) {
		o := NewIDUnreadOmitter(time.Time{})
		a := &storage.Article{ID: 5, Updated: time.Unix(1, 0)}
		assert.Equal(t, Include, o.Decide(FieldUpdated, a))
	})
}

func TestParseField(t *testing.T) {
	assert.Equal(t, FieldID, parseField("id"))
	assert.Equal(t, FieldMarked, parseField("marked"))
	assert.Equal(t, FieldUnknown, parseField("is_updated"))
	assert.Equal(t, FieldUnknown, parseField("ID"))
}
