// Package aggregate maintains the item popularity aggregates served
// alongside rankings.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianlabs/meridian/pkg/types"
)

const popularitySchemaSQL = `
CREATE TABLE IF NOT EXISTS item_popularity (
	item_id            TEXT PRIMARY KEY,
	unique_users       INTEGER NOT NULL,
	total_interactions INTEGER NOT NULL,
	as_of              INTEGER NOT NULL
)`

// Store holds item popularity aggregates in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // write-only lock, reads go through the pool
}

// NewStore opens (and if needed creates) a popularity database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("aggregate: failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if _, err := db.Exec(popularitySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("aggregate: failed to initialize schema: %w", err)
	}
	return s, nil
}

// Stats returns the aggregates for the given items. Items without an
// aggregate row are simply absent from the result; callers render them
// as unknown rather than zero.
func (s *Store) Stats(ctx context.Context, itemIDs []string) (map[string]types.PopularityAggregate, error) {
	if len(itemIDs) == 0 {
		return map[string]types.PopularityAggregate{}, nil
	}

	placeholders := strings.Repeat("?,", len(itemIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT item_id, unique_users, total_interactions, as_of
		FROM item_popularity
		WHERE item_id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: query failed: %w", err)
	}
	defer rows.Close()

	result := make(map[string]types.PopularityAggregate, len(itemIDs))
	for rows.Next() {
		var agg types.PopularityAggregate
		var asOf int64
		if err := rows.Scan(&agg.ItemID, &agg.UniqueUsers, &agg.TotalInteractions, &asOf); err != nil {
			return nil, fmt.Errorf("aggregate: scan failed: %w", err)
		}
		agg.AsOf = time.Unix(asOf, 0).UTC()
		result[agg.ItemID] = agg
	}
	return result, rows.Err()
}

// ReplaceAll swaps in a freshly computed aggregate set atomically.
func (s *Store) ReplaceAll(ctx context.Context, aggs []types.PopularityAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("aggregate: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM item_popularity"); err != nil {
		return fmt.Errorf("aggregate: clear table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_popularity (item_id, unique_users, total_interactions, as_of)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("aggregate: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, agg := range aggs {
		if _, err := stmt.ExecContext(ctx, agg.ItemID, agg.UniqueUsers, agg.TotalInteractions, agg.AsOf.Unix()); err != nil {
			return fmt.Errorf("aggregate: insert %s: %w", agg.ItemID, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
