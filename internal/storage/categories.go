package storage

import (
	"context"
	"database/sql"
	"errors"
)

// ReplaceCategories swaps in the server's category list. Virtual categories
// (id <= 0) are left alone.
func (s *Store) ReplaceCategories(ctx context.Context, categories []Category) error {
	return s.update(ctx, "replacing categories", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE _id > 0"); err != nil {
			return err
		}
		return upsertCategoriesTx(ctx, tx, categories)
	})
}

// UpsertCategories inserts or replaces categories by id.
func (s *Store) UpsertCategories(ctx context.Context, categories []Category) error {
	return s.update(ctx, "upserting categories", func(tx *sql.Tx) error {
		return upsertCategoriesTx(ctx, tx, categories)
	})
}

func upsertCategoriesTx(ctx context.Context, tx *sql.Tx, categories []Category) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO categories (_id, title, unread) VALUES (?, ?, ?)
ON CONFLICT(_id) DO UPDATE SET title = excluded.title, unread = excluded.unread`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range categories {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Title, c.Unread); err != nil {
			return err
		}
	}
	return nil
}

// GetCategory returns nil when the category is unknown.
func (s *Store) GetCategory(ctx context.Context, id int) (*Category, error) {
	var c *Category
	_, err := s.view("getting category", func(db *sql.DB) error {
		var cat Category
		err := db.QueryRowContext(ctx, "SELECT _id, title, unread FROM categories WHERE _id = ?", id).
			Scan(&cat.ID, &cat.Title, &cat.Unread)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		c = &cat
		return nil
	})
	return c, err
}

// GetCategories lists categories. Virtual categories come first in id order
// (Uncategorized, Starred, Published, Fresh, All), the rest sorted by title.
func (s *Store) GetCategories(ctx context.Context, includeVirtual, includeRead bool) ([]Category, error) {
	query := "SELECT _id, title, unread FROM categories WHERE 1=1"
	if !includeVirtual {
		query += " AND _id > 0"
	}
	if !includeRead {
		query += " AND unread > 0"
	}
	query += " ORDER BY CASE WHEN _id <= 0 THEN 0 ELSE 1 END, CASE WHEN _id <= 0 THEN -_id END, UPPER(title)"

	var categories []Category
	_, err := s.view("listing categories", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Category
			if err := rows.Scan(&c.ID, &c.Title, &c.Unread); err != nil {
				return err
			}
			categories = append(categories, c)
		}
		return rows.Err()
	})
	return categories, err
}
