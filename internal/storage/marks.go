package storage

import (
	"context"
	"database/sql"
)

// RecordMarks stores the intended value of one flag for the given articles.
// An existing intent for the same article and flag is overwritten.
func (s *Store) RecordMarks(ctx context.Context, kind MarkKind, ids []int, value bool) error {
	if len(ids) == 0 {
		return nil
	}
	col := kind.column()
	list := idList(ids)
	return s.update(ctx, "recording "+kind.String()+" marks", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE marked SET "+col+" = ? WHERE id IN (SELECT value FROM json_each(?))", boolInt(value), list); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO marked (id, "+col+") SELECT value, ? FROM json_each(?)", boolInt(value), list)
		return err
	})
}

// PendingMarks returns the article ids with a pending intent of value for
// one flag, in id order.
func (s *Store) PendingMarks(ctx context.Context, kind MarkKind, value bool) ([]int, error) {
	var ids []int
	_, err := s.view("listing pending marks", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT id FROM marked WHERE "+kind.column()+" = ? ORDER BY id", boolInt(value))
		if err != nil {
			return err
		}
		ids, err = scanIDs(rows)
		return err
	})
	return ids, err
}

// ClearMarks drops flushed intents. Only rows still holding value are
// cleared, so an intent recorded while the flush was in flight survives.
// Rows left without any pending flag are deleted.
func (s *Store) ClearMarks(ctx context.Context, kind MarkKind, ids []int, value bool) error {
	if len(ids) == 0 {
		return nil
	}
	col := kind.column()
	return s.update(ctx, "clearing "+kind.String()+" marks", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE marked SET "+col+" = NULL WHERE "+col+" = ? AND id IN (SELECT value FROM json_each(?))",
			boolInt(value), idList(ids)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM marked WHERE isUnread IS NULL AND isStarred IS NULL AND isPublished IS NULL")
		return err
	})
}

// RecordNote stores a note that still has to reach the server.
func (s *Store) RecordNote(ctx context.Context, id int, note string) error {
	return s.update(ctx, "recording note", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO notes (_id, note) VALUES (?, ?)
ON CONFLICT(_id) DO UPDATE SET note = excluded.note`, id, note)
		return err
	})
}

// PendingNotes returns every unflushed note by article id.
func (s *Store) PendingNotes(ctx context.Context) (map[int]string, error) {
	notes := make(map[int]string)
	_, err := s.view("listing pending notes", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT _id, note FROM notes ORDER BY _id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			var note string
			if err := rows.Scan(&id, &note); err != nil {
				return err
			}
			notes[id] = note
		}
		return rows.Err()
	})
	return notes, err
}

// ClearNote removes a flushed note if it was not replaced in the meantime.
func (s *Store) ClearNote(ctx context.Context, id int, note string) error {
	return s.update(ctx, "clearing note", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM notes WHERE _id = ? AND note = ?", id, note)
		return err
	})
}

// GetPendingMarks lists every pending row, notes included.
func (s *Store) GetPendingMarks(ctx context.Context) ([]PendingMark, error) {
	var marks []PendingMark
	_, err := s.view("listing pending rows", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
SELECT ids.id, m.isUnread, m.isStarred, m.isPublished, n.note
FROM (SELECT id FROM marked UNION SELECT _id FROM notes) ids
LEFT JOIN marked m ON m.id = ids.id
LEFT JOIN notes n ON n._id = ids.id
ORDER BY ids.id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				pm                         PendingMark
				unread, starred, published sql.NullBool
				note                       sql.NullString
			)
			if err := rows.Scan(&pm.ArticleID, &unread, &starred, &published, &note); err != nil {
				return err
			}
			pm.Unread = nullBool(unread)
			pm.Starred = nullBool(starred)
			pm.Published = nullBool(published)
			if note.Valid {
				pm.Note = &note.String
			}
			marks = append(marks, pm)
		}
		return rows.Err()
	})
	return marks, err
}

func nullBool(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}
