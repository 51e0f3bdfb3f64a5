// Package pending keeps article state changes the server has not
// acknowledged and replays them later.
//
// An intent is stored per article and flag. Recording the same flag again
// overwrites the earlier intent. A flush sends every intent and clears it
// only after the server accepted it, comparing against the flushed value
// so an intent recorded mid-flush is kept for the next round.
package pending

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss"
)

// Store is the part of the local cache holding pending rows.
type Store interface {
	RecordMarks(ctx context.Context, kind storage.MarkKind, ids []int, value bool) error
	PendingMarks(ctx context.Context, kind storage.MarkKind, value bool) ([]int, error)
	ClearMarks(ctx context.Context, kind storage.MarkKind, ids []int, value bool) error
	RecordNote(ctx context.Context, id int, note string) error
	PendingNotes(ctx context.Context) (map[int]string, error)
	ClearNote(ctx context.Context, id int, note string) error
	GetPendingMarks(ctx context.Context) ([]storage.PendingMark, error)
}

// Remote is the part of the server client used for replay.
type Remote interface {
	UpdateArticle(ctx context.Context, ids []int, field ttrss.UpdateField, mode ttrss.UpdateMode) error
	SetArticleNote(ctx context.Context, id int, note string) error
}

// Queue records and flushes pending mutations.
type Queue struct {
	store  Store
	remote Remote
}

func New(store Store, remote Remote) *Queue {
	return &Queue{store: store, remote: remote}
}

// Record stores the intended value of one flag for ids. For
// storage.MarkUnread the value is the intended unread state.
func (q *Queue) Record(ctx context.Context, kind storage.MarkKind, ids []int, value bool) error {
	if err := q.store.RecordMarks(ctx, kind, ids, value); err != nil {
		return fmt.Errorf("recording %s=%t for %d articles: %w", kind, value, len(ids), err)
	}
	debuglog.Debugf("pending: recorded %s=%t for %d articles", kind, value, len(ids))
	return nil
}

// RecordNote stores a note for later replay.
func (q *Queue) RecordNote(ctx context.Context, id int, note string) error {
	if err := q.store.RecordNote(ctx, id, note); err != nil {
		return fmt.Errorf("recording note for article %d: %w", id, err)
	}
	return nil
}

// Push sends a recorded intent right away and clears it once the server
// acknowledged it. On failure the row stays for the next Flush.
func (q *Queue) Push(ctx context.Context, kind storage.MarkKind, ids []int, value bool) error {
	if err := q.remote.UpdateArticle(ctx, ids, fieldOf(kind), modeOf(value)); err != nil {
		return fmt.Errorf("sending %s=%t for %d articles: %w", kind, value, len(ids), err)
	}
	if err := q.store.ClearMarks(ctx, kind, ids, value); err != nil {
		return fmt.Errorf("clearing %s marks: %w", kind, err)
	}
	return nil
}

// PushNote is Push for a note.
func (q *Queue) PushNote(ctx context.Context, id int, note string) error {
	if err := q.remote.SetArticleNote(ctx, id, note); err != nil {
		return fmt.Errorf("sending note for article %d: %w", id, err)
	}
	if err := q.store.ClearNote(ctx, id, note); err != nil {
		return fmt.Errorf("clearing note for article %d: %w", id, err)
	}
	return nil
}

// List returns every pending row.
func (q *Queue) List(ctx context.Context) ([]storage.PendingMark, error) {
	return q.store.GetPendingMarks(ctx)
}

// Len returns the number of articles with anything pending.
func (q *Queue) Len(ctx context.Context) (int, error) {
	marks, err := q.store.GetPendingMarks(ctx)
	return len(marks), err
}

func fieldOf(kind storage.MarkKind) ttrss.UpdateField {
	switch kind {
	case storage.MarkStarred:
		return ttrss.UpdateStarred
	case storage.MarkPublished:
		return ttrss.UpdatePublished
	default:
		return ttrss.UpdateUnread
	}
}

func modeOf(value bool) ttrss.UpdateMode {
	if value {
		return ttrss.ModeTrue
	}
	return ttrss.ModeFalse
}

// FlushResult counts what a flush delivered.
type FlushResult struct {
	Marks int
	Notes int
}

// Flush replays every pending intent. Each flag is flushed on its own
// goroutine as two batches, one per target value, since the server takes a
// single value per call. Notes go one article at a time afterwards. The
// first failure stops the flush. Rows already acknowledged stay cleared.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	var marks atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range storage.MarkKinds {
		g.Go(func() error {
			n, err := q.flushKind(gctx, kind)
			marks.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	res := FlushResult{Marks: int(marks.Load())}
	if err != nil {
		return res, err
	}

	res.Notes, err = q.flushNotes(ctx)
	if res.Marks > 0 || res.Notes > 0 {
		debuglog.Infof("pending: flushed %d marks and %d notes", res.Marks, res.Notes)
	}
	return res, err
}

func (q *Queue) flushKind(ctx context.Context, kind storage.MarkKind) (int, error) {
	flushed := 0
	for _, value := range []bool{true, false} {
		ids, err := q.store.PendingMarks(ctx, kind, value)
		if err != nil {
			return flushed, fmt.Errorf("listing pending %s marks: %w", kind, err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := q.remote.UpdateArticle(ctx, ids, fieldOf(kind), modeOf(value)); err != nil {
			return flushed, fmt.Errorf("flushing %s=%t for %d articles: %w", kind, value, len(ids), err)
		}
		if err := q.store.ClearMarks(ctx, kind, ids, value); err != nil {
			return flushed, fmt.Errorf("clearing %s marks: %w", kind, err)
		}
		flushed += len(ids)
	}
	return flushed, nil
}

func (q *Queue) flushNotes(ctx context.Context) (int, error) {
	notes, err := q.store.PendingNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending notes: %w", err)
	}
	flushed := 0
	for id, note := range notes {
		if err := q.remote.SetArticleNote(ctx, id, note); err != nil {
			return flushed, fmt.Errorf("flushing note for article %d: %w", id, err)
		}
		if err := q.store.ClearNote(ctx, id, note); err != nil {
			return flushed, fmt.Errorf("clearing note for article %d: %w", id, err)
		}
		flushed++
	}
	return flushed, nil
}
