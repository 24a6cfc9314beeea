package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Cache persists the last fetched history snapshot per user in a local
// SQLite file, so the main view can show stale entries immediately and
// degraded mode (backend unreachable) still has something to render.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history cache: %w", err)
	}

	// WAL keeps reads cheap while a refresh is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring history cache: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history_entries (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			position    INTEGER NOT NULL,
			food_name   TEXT NOT NULL,
			safe_to_eat INTEGER NOT NULL,
			analyzed_at TEXT NOT NULL,
			thumbnail   BLOB,
			ingredients TEXT NOT NULL,
			allergens   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_user_position
			ON history_entries (user_id, position);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Replace swaps the cached snapshot for one user wholesale, preserving
// entry order via an explicit position column.
func (c *Cache) Replace(ctx context.Context, userID string, entries []Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history_entries WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing cached history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_entries
			(id, user_id, position, food_name, safe_to_eat, analyzed_at, thumbnail, ingredients, allergens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing cache insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		ingredients, err := json.Marshal(e.Ingredients)
		if err != nil {
			return fmt.Errorf("encoding ingredients: %w", err)
		}
		allergens, err := json.Marshal(e.Allergens)
		if err != nil {
			return fmt.Errorf("encoding allergens: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, i,
			e.FoodName, boolToInt(e.SafeToEat), e.AnalyzedAt.Format(time.RFC3339),
			e.Thumbnail, string(ingredients), string(allergens),
		); err != nil {
			return fmt.Errorf("caching history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history cache: %w", err)
	}
	return nil
}

// Load returns the cached snapshot for one user in its original order.
func (c *Cache) Load(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT food_name, safe_to_eat, analyzed_at, thumbnail, ingredients, allergens
		FROM history_entries
		WHERE user_id = ?
		ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying history cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			safe        int
			analyzedAt  string
			ingredients string
			allergens   string
		)
		if err := rows.Scan(&e.FoodName, &safe, &analyzedAt, &e.Thumbnail, &ingredients, &allergens); err != nil {
			return nil, fmt.Errorf("scanning cached entry: %w", err)
		}
		e.SafeToEat = safe != 0
		if t, err := time.Parse(time.RFC3339, analyzedAt); err == nil {
			e.AnalyzedAt = t
		}
		if err := json.Unmarshal([]byte(ingredients), &e.Ingredients); err != nil {
			return nil, fmt.Errorf("decoding ingredients: %w", err)
		}
		if err := json.Unmarshal([]byte(allergens), &e.Allergens); err != nil {
			return nil, fmt.Errorf("decoding allergens: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history cache: %w", err)
	}
	return entries, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
