package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// GetLastSeenID returns the stored watermark for a channel, falling back
// to the newest archived post when no progress row exists. An empty
// string means the channel was never crawled.
func (d *DB) GetLastSeenID(chanID string) (string, error) {
	var id string
	err := d.queryRow(
		`SELECT last_seen_id FROM crawl_progress WHERE chan_id = ?`, chanID).Scan(&id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to read progress for %s: %w", chanID, err)
	}

	var max sql.NullString
	err = d.queryRow(
		`SELECT MAX(post_id) FROM posts WHERE chan_id = ?`, chanID).Scan(&max)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to derive progress for %s: %w", chanID, err)
	}
	return max.String, nil
}

// UpdateLastSeen records the watermark for a channel.
func (d *DB) UpdateLastSeen(chanID, messageID string) error {
	return d.execRetry(`
		INSERT INTO crawl_progress (chan_id, last_seen_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chan_id) DO UPDATE SET
			last_seen_id = EXCLUDED.last_seen_id,
			updated_at = EXCLUDED.updated_at`,
		chanID, messageID, nowMillis())
}

// CleanupOldProgress removes progress rows that have not been touched
// for the given number of days.
func (d *DB) CleanupOldProgress(days int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	res, err := d.exec(`DELETE FROM crawl_progress WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up progress: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		log.Printf("[crawler] Cleaned up %d old progress entries", deleted)
	}
	return deleted, nil
}
