package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

// DeletionSentinel is the revision content recorded when a message is
// deleted rather than edited.
const DeletionSentinel = "[[DELETED]]"

// PostFromMessage converts a Discord message into an archive row.
func PostFromMessage(m *discordgo.Message) models.Post {
	post := models.Post{
		PostID:    m.ID,
		ChanID:    m.ChannelID,
		Content:   m.Content,
		CreatedTS: m.Timestamp.UnixMilli(),
		Pinned:    m.Pinned,
	}
	if m.Author != nil {
		post.AuthorID = m.Author.ID
	}
	if m.EditedTimestamp != nil {
		post.EditedTS = m.EditedTimestamp.UnixMilli()
	}
	if m.MessageReference != nil {
		post.ReplyToID = m.MessageReference.MessageID
	}
	return post
}

// MemberFromUser converts a Discord user into a member row. The is_gm
// flag is never set here; seeding owns it.
func MemberFromUser(u *discordgo.User) models.Member {
	if u == nil {
		return models.Member{}
	}
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	return models.Member{
		MemberID:    u.ID,
		Username:    u.Username,
		DisplayName: display,
		AvatarURL:   u.AvatarURL(""),
		IsBot:       u.Bot,
	}
}

// ChannelFromDiscord converts a Discord channel or thread into a
// channel row.
func ChannelFromDiscord(ch *discordgo.Channel) models.Channel {
	return models.Channel{
		ChanID:        ch.ID,
		GuildID:       ch.GuildID,
		ParentID:      ch.ParentID,
		Name:          ch.Name,
		Type:          fmt.Sprintf("%d", ch.Type),
		Topic:         ch.Topic,
		Accessible:    true,
		LastMessageID: ch.LastMessageID,
	}
}

// AttachmentsFromMessage extracts raw attachment metadata.
func AttachmentsFromMessage(m *discordgo.Message) []models.Attachment {
	var out []models.Attachment
	for _, a := range m.Attachments {
		out = append(out, models.Attachment{
			AttachID:    a.ID,
			PostID:      m.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	return out
}

// EmbedsFromMessage serializes embeds as opaque JSON payloads.
func EmbedsFromMessage(m *discordgo.Message) []models.Embed {
	var out []models.Embed
	for _, e := range m.Embeds {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		out = append(out, models.Embed{
			PostID:   m.ID,
			Type:     string(e.Type),
			DataJSON: string(data),
		})
	}
	return out
}

// SaveChannel inserts or updates a channel row. The created timestamp
// is preserved once set; accessibility and metadata follow the latest
// observation.
func (d *DB) SaveChannel(ch models.Channel) error {
	return d.execRetry(`
		INSERT INTO channels (chan_id, guild_id, parent_id, name, type, topic, accessible, last_message_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chan_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			topic = EXCLUDED.topic,
			accessible = EXCLUDED.accessible,
			last_message_id = EXCLUDED.last_message_id,
			created_ts = COALESCE(channels.created_ts, EXCLUDED.created_ts)`,
		ch.ChanID, ch.GuildID, ch.ParentID, ch.Name, ch.Type, ch.Topic,
		ch.Accessible, ch.LastMessageID, ch.CreatedTS)
}

// SetChannelAccessible updates only the accessibility flag and name,
// creating the row if the channel was never seen.
func (d *DB) SetChannelAccessible(chanID, name string, accessible bool) error {
	return d.execRetry(`
		INSERT INTO channels (chan_id, name, accessible)
		VALUES (?, ?, ?)
		ON CONFLICT (chan_id) DO UPDATE SET
			name = EXCLUDED.name,
			accessible = EXCLUDED.accessible`,
		chanID, name, accessible)
}

// UpsertMember inserts or updates a member row, preserving the is_gm
// flag and any previously known join timestamp.
func (d *DB) UpsertMember(m models.Member) error {
	if m.MemberID == "" {
		return nil
	}
	var joined any
	if m.JoinedAt != 0 {
		joined = m.JoinedAt
	}
	return d.execRetry(`
		INSERT INTO members (member_id, username, display_name, avatar_url, is_bot, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			is_bot = EXCLUDED.is_bot,
			joined_at = COALESCE(EXCLUDED.joined_at, members.joined_at)`,
		m.MemberID, m.Username, m.DisplayName, m.AvatarURL, m.IsBot, joined)
}

// SaveMessage persists a message, its author and its channel metadata
// in one transaction. Re-saving an existing message updates content and
// edit state but never flips the deleted flag back, and never duplicates
// attachment or embed rows.
func (d *DB) SaveMessage(post models.Post, author models.Member, channel models.Channel, atts []models.Attachment, embeds []models.Embed) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if channel.ChanID != "" {
		channel.LastMessageID = post.PostID
		if _, err := tx.Exec(d.rebind(`
			INSERT INTO channels (chan_id, guild_id, parent_id, name, type, topic, accessible, last_message_id, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (chan_id) DO UPDATE SET
				parent_id = EXCLUDED.parent_id,
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				topic = EXCLUDED.topic,
				accessible = EXCLUDED.accessible,
				last_message_id = EXCLUDED.last_message_id,
				created_ts = COALESCE(channels.created_ts, EXCLUDED.created_ts)`),
			channel.ChanID, channel.GuildID, channel.ParentID, channel.Name,
			channel.Type, channel.Topic, true, channel.LastMessageID, channel.CreatedTS); err != nil {
			return fmt.Errorf("failed to upsert channel %s: %w", channel.ChanID, err)
		}
	}

	if author.MemberID != "" {
		var joined any
		if author.JoinedAt != 0 {
			joined = author.JoinedAt
		}
		if _, err := tx.Exec(d.rebind(`
			INSERT INTO members (member_id, username, display_name, avatar_url, is_bot, joined_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (member_id) DO UPDATE SET
				username = EXCLUDED.username,
				display_name = EXCLUDED.display_name,
				avatar_url = EXCLUDED.avatar_url,
				is_bot = EXCLUDED.is_bot,
				joined_at = COALESCE(EXCLUDED.joined_at, members.joined_at)`),
			author.MemberID, author.Username, author.DisplayName,
			author.AvatarURL, author.IsBot, joined); err != nil {
			return fmt.Errorf("failed to upsert member %s: %w", author.MemberID, err)
		}
	}

	var existing string
	err = tx.QueryRow(d.rebind(`SELECT post_id FROM posts WHERE post_id = ?`), post.PostID).Scan(&existing)
	isNew := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check post %s: %w", post.PostID, err)
	}

	var edited any
	if post.EditedTS != 0 {
		edited = post.EditedTS
	}
	if _, err := tx.Exec(d.rebind(`
		INSERT INTO posts (post_id, chan_id, author_id, content, created_ts, edited_ts, pinned, deleted, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id) DO UPDATE SET
			content = EXCLUDED.content,
			edited_ts = EXCLUDED.edited_ts,
			pinned = EXCLUDED.pinned,
			reply_to_id = EXCLUDED.reply_to_id`),
		post.PostID, post.ChanID, post.AuthorID, post.Content,
		post.CreatedTS, edited, post.Pinned, false, post.ReplyToID); err != nil {
		return fmt.Errorf("failed to upsert post %s: %w", post.PostID, err)
	}

	if isNew {
		for _, a := range atts {
			if _, err := tx.Exec(d.rebind(`
				INSERT INTO attachments (attach_id, post_id, filename, url, content_type, size, width, height)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (attach_id) DO UPDATE SET
					filename = EXCLUDED.filename,
					url = EXCLUDED.url,
					content_type = EXCLUDED.content_type,
					size = EXCLUDED.size,
					width = EXCLUDED.width,
					height = EXCLUDED.height`),
				a.AttachID, a.PostID, a.Filename, a.URL, a.ContentType,
				a.Size, a.Width, a.Height); err != nil {
				return fmt.Errorf("failed to save attachment %s: %w", a.AttachID, err)
			}
		}
		for _, e := range embeds {
			if _, err := tx.Exec(d.rebind(`
				INSERT INTO embeds (post_id, type, data_json) VALUES (?, ?, ?)`),
				e.PostID, e.Type, e.DataJSON); err != nil {
				return fmt.Errorf("failed to save embed for post %s: %w", e.PostID, err)
			}
		}
	}

	return tx.Commit()
}

// PostExists reports whether a post is already archived.
func (d *DB) PostExists(postID string) (bool, error) {
	var id string
	err := d.queryRow(`SELECT post_id FROM posts WHERE post_id = ?`, postID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetPost retrieves a single archived post.
func (d *DB) GetPost(postID string) (*models.Post, error) {
	var p models.Post
	var edited sql.NullInt64
	err := d.queryRow(`
		SELECT post_id, chan_id, author_id, content, created_ts, edited_ts, pinned, deleted, reply_to_id
		FROM posts WHERE post_id = ?`, postID).Scan(
		&p.PostID, &p.ChanID, &p.AuthorID, &p.Content, &p.CreatedTS,
		&edited, &p.Pinned, &p.Deleted, &p.ReplyToID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", postID, err)
	}
	p.EditedTS = edited.Int64
	return &p, nil
}

// ApplyEdit updates the live post row and appends an edit revision.
func (d *DB) ApplyEdit(postID, chanID, authorID, content string, ts int64) error {
	if err := d.execRetry(
		`UPDATE posts SET content = ?, edited_ts = ? WHERE post_id = ?`,
		content, ts, postID); err != nil {
		return fmt.Errorf("failed to update post %s: %w", postID, err)
	}
	if err := d.execRetry(`
		INSERT INTO post_revisions (post_id, chan_id, author_id, content, captured_ts, is_edit)
		VALUES (?, ?, ?, ?, ?, ?)`,
		postID, chanID, authorID, content, ts, true); err != nil {
		return fmt.Errorf("failed to record revision for %s: %w", postID, err)
	}
	return nil
}

// MarkDeleted flags the post as deleted and appends a terminal revision
// carrying the deletion sentinel. The row itself is never removed.
func (d *DB) MarkDeleted(postID, chanID, authorID string, ts int64) error {
	if err := d.execRetry(
		`UPDATE posts SET deleted = ? WHERE post_id = ?`, true, postID); err != nil {
		return fmt.Errorf("failed to flag post %s deleted: %w", postID, err)
	}
	if err := d.execRetry(`
		INSERT INTO post_revisions (post_id, chan_id, author_id, content, captured_ts, is_edit)
		VALUES (?, ?, ?, ?, ?, ?)`,
		postID, chanID, authorID, DeletionSentinel, ts, false); err != nil {
		return fmt.Errorf("failed to record deletion revision for %s: %w", postID, err)
	}
	return nil
}

// Revisions returns a post's full revision history in capture order.
func (d *DB) Revisions(postID string) ([]models.Revision, error) {
	rows, err := d.query(`
		SELECT post_id, chan_id, author_id, content, captured_ts, is_edit
		FROM post_revisions WHERE post_id = ? ORDER BY captured_ts`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions for %s: %w", postID, err)
	}
	defer rows.Close()

	var revs []models.Revision
	for rows.Next() {
		var r models.Revision
		if err := rows.Scan(&r.PostID, &r.ChanID, &r.AuthorID, &r.Content, &r.CapturedTS, &r.IsEdit); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}
