package database

import (
	"fmt"
	"time"

	"discord-archiver/models"
)

// EnqueueRepost records a post as eligible for delayed republishing.
// Re-enqueueing the same post updates the timestamp instead of
// duplicating the entry.
func (d *DB) EnqueueRepost(postID, chanID string, createdTS int64) error {
	return d.execRetry(`
		INSERT INTO repost_queue (post_id, chan_id, enqueued_at)
		VALUES (?, ?, ?)
		ON CONFLICT (post_id) DO UPDATE SET
			chan_id = EXCLUDED.chan_id,
			enqueued_at = EXCLUDED.enqueued_at`,
		postID, chanID, createdTS)
}

// ReadyReposts returns queue entries older than the delay, oldest first,
// restricted to posts that are still live and still authored by a GM.
func (d *DB) ReadyReposts(delay time.Duration, limit int) ([]models.RepostEntry, error) {
	cutoff := time.Now().Add(-delay).UnixMilli()
	rows, err := d.query(`
		SELECT q.post_id, q.chan_id, q.enqueued_at
		FROM repost_queue q
		JOIN posts p ON p.post_id = q.post_id
		JOIN members m ON m.member_id = p.author_id
		WHERE q.enqueued_at <= ?
		  AND p.deleted = ?
		  AND m.is_gm = ?
		ORDER BY q.enqueued_at
		LIMIT ?`,
		cutoff, false, true, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query repost queue: %w", err)
	}
	defer rows.Close()

	var entries []models.RepostEntry
	for rows.Next() {
		var e models.RepostEntry
		if err := rows.Scan(&e.PostID, &e.ChanID, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repost entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveRepost drops a queue entry. Delivery is at-most-once: a removed
// entry is never retried.
func (d *DB) RemoveRepost(postID string) error {
	return d.execRetry(`DELETE FROM repost_queue WHERE post_id = ?`, postID)
}

// MarkRepostSourceDeleted soft-deletes the archived post and removes its
// queue entry; used when the live source vanished before delivery.
func (d *DB) MarkRepostSourceDeleted(postID string) error {
	if err := d.execRetry(
		`UPDATE posts SET deleted = ? WHERE post_id = ?`, true, postID); err != nil {
		return fmt.Errorf("failed to flag post %s deleted: %w", postID, err)
	}
	return d.RemoveRepost(postID)
}
