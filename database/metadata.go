package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// SetMetadata stores a key/value pair in the generic metadata table,
// used for cached aggregate statistics.
func (d *DB) SetMetadata(key, value string) error {
	return d.execRetry(`
		INSERT INTO bot_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		key, value, nowMillis())
}

// GetMetadata returns a metadata value and whether it exists.
func (d *DB) GetMetadata(key string) (string, bool, error) {
	var value string
	err := d.queryRow(`SELECT value FROM bot_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, true, nil
}

// CacheArchiveStats refreshes the cached post/member counts consumed by
// the viewer's stats endpoint.
func (d *DB) CacheArchiveStats() error {
	var posts, members int64
	if err := d.queryRow(`SELECT COUNT(*) FROM posts`).Scan(&posts); err != nil {
		return fmt.Errorf("failed to count posts: %w", err)
	}
	if err := d.queryRow(`SELECT COUNT(*) FROM members`).Scan(&members); err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}
	if err := d.SetMetadata("stats_posts", fmt.Sprintf("%d", posts)); err != nil {
		return err
	}
	return d.SetMetadata("stats_members", fmt.Sprintf("%d", members))
}

// RefreshGMWindowView refreshes the 90-day materialized view backing the
// viewer's default listing. Only meaningful on Postgres; a no-op on
// SQLite deployments.
func (d *DB) RefreshGMWindowView() error {
	if !d.IsPostgres() {
		return nil
	}
	start := time.Now()
	if _, err := d.exec(`REFRESH MATERIALIZED VIEW CONCURRENTLY gm_posts_90day`); err != nil {
		return fmt.Errorf("failed to refresh 90-day view: %w", err)
	}
	log.Printf("[DB] 90-day view refreshed in %s", time.Since(start))
	return nil
}
