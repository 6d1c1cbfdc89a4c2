package ranking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianlabs/meridian/pkg/types"
)

const scoreSchemaSQL = `
CREATE TABLE IF NOT EXISTS ranking_scores (
	user_id    TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	score      REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_ranking_user_score
	ON ranking_scores (user_id, score DESC)`

// SQLiteSource serves rankings from a local score table, refreshed out of
// band by the model training pipeline.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource opens (and if needed creates) a score database.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ranking: failed to open database: %w", err)
	}

	if _, err := db.Exec(scoreSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ranking: failed to initialize schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// TopK returns the user's highest scored items.
func (s *SQLiteSource) TopK(ctx context.Context, userID string, k int) ([]types.RankingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, score
		FROM ranking_scores
		WHERE user_id = ?
		ORDER BY score DESC, item_id ASC
		LIMIT ?`, userID, k)
	if err != nil {
		return nil, fmt.Errorf("ranking: query failed: %w", err)
	}
	defer rows.Close()

	var entries []types.RankingEntry
	for rows.Next() {
		var e types.RankingEntry
		if err := rows.Scan(&e.UserID, &e.ItemID, &e.Score); err != nil {
			return nil, fmt.Errorf("ranking: scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Upsert replaces a user-item score. Used by score loaders and tests.
func (s *SQLiteSource) Upsert(ctx context.Context, entry types.RankingEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ranking_scores (user_id, item_id, score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			score = excluded.score,
			updated_at = excluded.updated_at`,
		entry.UserID, entry.ItemID, entry.Score, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ranking: upsert failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
