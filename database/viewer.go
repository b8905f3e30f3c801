package database

import (
	"database/sql"
	"strings"

	"discord-archiver/models"
)

// SearchFilter narrows a post search. Zero values mean "no filter".
type SearchFilter struct {
	Query     string
	ChannelID string
	AuthorID  string
	GMOnly    bool
	AfterTS   int64
	BeforeTS  int64
	Limit     int
	Offset    int
}

// SearchResult is one row of the viewer's search output, post fields
// joined with the resolved author and channel names.
type SearchResult struct {
	models.Post
	AuthorName  string `json:"author_name"`
	ChannelName string `json:"channel_name"`
	IsGM        bool   `json:"is_gm"`
}

const maxSearchLimit = 200

// SearchPosts returns archived posts newest first, filtered and paged.
func (d *DB) SearchPosts(f SearchFilter) ([]SearchResult, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT p.post_id, p.chan_id, p.author_id, p.content, p.created_ts, p.edited_ts, p.deleted,
		COALESCE(m.display_name, p.author_id), COALESCE(c.name, p.chan_id), COALESCE(m.is_gm, FALSE)
		FROM posts p
		LEFT JOIN members m ON m.member_id = p.author_id
		LEFT JOIN channels c ON c.chan_id = p.chan_id
		WHERE 1=1`)
	var args []any

	if f.Query != "" {
		sb.WriteString(" AND p.content LIKE ?")
		args = append(args, "%"+f.Query+"%")
	}
	if f.ChannelID != "" {
		sb.WriteString(" AND p.chan_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.AuthorID != "" {
		sb.WriteString(" AND p.author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.GMOnly {
		sb.WriteString(" AND m.is_gm = TRUE")
	}
	if f.AfterTS > 0 {
		sb.WriteString(" AND p.created_ts >= ?")
		args = append(args, f.AfterTS)
	}
	if f.BeforeTS > 0 {
		sb.WriteString(" AND p.created_ts <= ?")
		args = append(args, f.BeforeTS)
	}

	limit := f.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = 50
	}
	sb.WriteString(" ORDER BY p.created_ts DESC LIMIT ? OFFSET ?")
	args = append(args, limit, f.Offset)

	rows, err := d.query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var edited sql.NullInt64
		if err := rows.Scan(&r.PostID, &r.ChanID, &r.AuthorID, &r.Content, &r.CreatedTS, &edited, &r.Deleted,
			&r.AuthorName, &r.ChannelName, &r.IsGM); err != nil {
			return nil, err
		}
		r.EditedTS = edited.Int64
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListChannels returns every known channel with its archived post count.
func (d *DB) ListChannels() ([]models.ChannelSummary, error) {
	// type is NULL on rows seeded only by an accessibility update.
	rows, err := d.query(`SELECT c.chan_id, c.name, COALESCE(c.type, ''), c.accessible, COUNT(p.post_id)
		FROM channels c
		LEFT JOIN posts p ON p.chan_id = c.chan_id
		GROUP BY c.chan_id, c.name, c.type, c.accessible
		ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.ChannelSummary
	for rows.Next() {
		var c models.ChannelSummary
		if err := rows.Scan(&c.ChanID, &c.Name, &c.Type, &c.Accessible, &c.PostCount); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}
