package models

// Member represents a guild member row.
type Member struct {
	MemberID    string `json:"member_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsBot       bool   `json:"is_bot"`
	IsGM        bool   `json:"is_gm"`
	JoinedAt    int64  `json:"joined_at"` // unix ms, 0 when unknown
}

// Channel represents a channel or thread row. ParentID is empty for
// top-level channels.
type Channel struct {
	ChanID        string `json:"chan_id"`
	GuildID       string `json:"guild_id"`
	ParentID      string `json:"parent_id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Topic         string `json:"topic"`
	Accessible    bool   `json:"accessible"`
	LastMessageID string `json:"last_message_id"`
	CreatedTS     int64  `json:"created_ts"`
}

// Post represents an archived message. Deleted rows are flagged, never
// removed.
type Post struct {
	PostID    string `json:"post_id"`
	ChanID    string `json:"chan_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	CreatedTS int64  `json:"created_ts"`
	EditedTS  int64  `json:"edited_ts"` // 0 when never edited
	Pinned    bool   `json:"pinned"`
	Deleted   bool   `json:"deleted"`
	ReplyToID string `json:"reply_to_id"`
}

// Revision is an append-only snapshot of a post's content captured at
// edit or deletion time.
type Revision struct {
	PostID     string `json:"post_id"`
	ChanID     string `json:"chan_id"`
	AuthorID   string `json:"author_id"`
	Content    string `json:"content"`
	CapturedTS int64  `json:"captured_ts"`
	IsEdit     bool   `json:"is_edit"` // false marks a deletion snapshot
}

// Attachment holds raw attachment metadata for a post.
type Attachment struct {
	AttachID    string `json:"attach_id"`
	PostID      string `json:"post_id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Embed holds an opaque embed payload for a post.
type Embed struct {
	PostID   string `json:"post_id"`
	Type     string `json:"type"`
	DataJSON string `json:"data_json"`
}

// RepostEntry marks a post as eligible for delayed republishing.
// At most one live entry exists per post.
type RepostEntry struct {
	PostID     string `json:"post_id"`
	ChanID     string `json:"chan_id"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix ms
}

// CrawlProgress is the per-channel resumability checkpoint.
type CrawlProgress struct {
	ChanID     string `json:"chan_id"`
	LastSeenID string `json:"last_seen_id"`
	UpdatedAt  int64  `json:"updated_at"` // unix ms
}

// GMNotification is the payload pushed to the viewer when a privileged
// author posts.
type GMNotification struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	AuthorName  string `json:"author_name"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// ChannelSummary is a channel row with its archived post count, as
// served by the viewer.
type ChannelSummary struct {
	ChanID     string `json:"chan_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Accessible bool   `json:"accessible"`
	PostCount  int    `json:"post_count"`
}

// SweepStats accumulates counters for one backfill sweep.
type SweepStats struct {
	ChannelsProcessed int   `json:"channels_processed"`
	ThreadsProcessed  int   `json:"threads_processed"`
	MessagesSaved     int   `json:"messages_saved"`
	Inaccessible      int   `json:"inaccessible"`
	ElapsedSeconds    int64 `json:"elapsed_seconds"`
}
