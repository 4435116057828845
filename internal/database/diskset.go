package database

import (
	"context"
	"fmt"
)

// DiskSet is a disk-backed deduplicated set. Each item is stored under a
// caller-derived key; Add reports whether the key was previously unknown.
// Dedup relies on the primary-key constraint, so concurrent adders agree on
// who inserted first.
type DiskSet struct {
	db    *DB
	table string
}

// NewDiskSet creates a fresh set backed by a randomly named table under the
// given prefix.
func NewDiskSet(ctx context.Context, db *DB, prefix string) (*DiskSet, error) {
	table := RandomTableName(prefix)

	cols := []Column{
		{Name: "item_key", Type: "TEXT PRIMARY KEY"},
		{Name: "item", Type: "BLOB"},
	}
	if err := db.CreateTable(ctx, table, cols); err != nil {
		return nil, err
	}

	return &DiskSet{db: db, table: table}, nil
}

// Add inserts the item unless its key is already present. Returns true if
// the item was previously unknown.
func (s *DiskSet) Add(ctx context.Context, key string, item []byte) (bool, error) {
	var query string
	if s.db.Driver() == "postgres" {
		query = fmt.Sprintf(
			"INSERT INTO %s (item_key, item) VALUES (?, ?) ON CONFLICT (item_key) DO NOTHING",
			s.table)
	} else {
		query = fmt.Sprintf(
			"INSERT OR IGNORE INTO %s (item_key, item) VALUES (?, ?)",
			s.table)
	}

	result, err := s.db.Exec(ctx, query, key, item)
	if err != nil {
		return false, fmt.Errorf("failed to add to set %s: %w", s.table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Items returns every stored item.
func (s *DiskSet) Items(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT item FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate set %s: %w", s.table, err)
	}
	defer rows.Close()

	var items [][]byte
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Len returns the number of stored items.
func (s *DiskSet) Len(ctx context.Context) (int, error) {
	var count int
	_, err := s.db.SelectOne(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table), nil, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Drop removes the backing table entirely.
func (s *DiskSet) Drop(ctx context.Context) error {
	return s.db.DropTable(ctx, s.table)
}
