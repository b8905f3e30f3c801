package handlers

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.GMNotification
}

func (r *recordingNotifier) NotifyGMPost(n models.GMNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []models.GMNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.GMNotification(nil), r.sent...)
}

func liveMessage(id, chanID, authorID, content string, ts time.Time) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: chanID,
		GuildID:   "guild1",
		Content:   content,
		Timestamp: ts,
		Author:    &discordgo.User{ID: authorID, Username: "user-" + authorID},
	}
}

func createEvent(m *discordgo.Message) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: m}
}

func TestBridgeBuffersUntilReady(t *testing.T) {
	db := openTestDB(t)
	br := NewBridge("guild1", nil, nil, nil)

	past := time.Now().Add(-time.Hour)
	br.MessageCreate(nil, createEvent(liveMessage("100", "c1", "u1", "first", past)))
	br.MessageUpdate(nil, &discordgo.MessageUpdate{
		Message: liveMessage("100", "c1", "u1", "first, edited", past),
	})

	// Nothing lands while initializing.
	if ok, _ := db.PostExists("100"); ok {
		t.Fatal("event applied before ready")
	}

	br.SetReady(db)

	post, err := db.GetPost("100")
	if err != nil {
		t.Fatal(err)
	}
	if post == nil {
		t.Fatal("buffered create was not replayed")
	}
	if post.Content != "first, edited" {
		t.Errorf("content = %q, want the buffered edit applied after the create", post.Content)
	}

	revs, err := db.Revisions("100")
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 1 || !revs[0].IsEdit {
		t.Errorf("revisions after replay = %+v, want one edit", revs)
	}
}

func TestBridgeIgnoresOtherGuilds(t *testing.T) {
	db := openTestDB(t)
	br := NewBridge("guild1", nil, nil, nil)
	br.SetReady(db)

	m := liveMessage("100", "c1", "u1", "hello", time.Now())
	m.GuildID = "other-guild"
	br.MessageCreate(nil, createEvent(m))

	if ok, _ := db.PostExists("100"); ok {
		t.Error("message from a foreign guild was archived")
	}
}

func TestBridgeGMCreateNotifiesAndEnqueues(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, map[string]string{"gm1": "The Narrator"}); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	br := NewBridge("guild1", nil, notifier, nil)
	br.SetReady(db)

	created := time.Now().Add(-time.Hour)
	br.MessageCreate(nil, createEvent(liveMessage("100", "c1", "gm1", "the plot thickens", created)))

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if sent[0].AuthorName != "The Narrator" {
		t.Errorf("notification author = %q, want the override name", sent[0].AuthorName)
	}
	if sent[0].Content != "the plot thickens" {
		t.Errorf("notification content = %q", sent[0].Content)
	}

	ready, err := db.ReadyReposts(time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].PostID != "100" {
		t.Errorf("repost queue = %+v, want post 100", ready)
	}
	if ready[0].EnqueuedAt != created.UnixMilli() {
		t.Errorf("enqueued_at = %d, want the message creation time", ready[0].EnqueuedAt)
	}
}

func TestBridgeNotificationTruncation(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, nil); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	br := NewBridge("guild1", nil, notifier, nil)
	br.SetReady(db)

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	br.MessageCreate(nil, createEvent(liveMessage("100", "c1", "gm1", string(long), time.Now())))

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if len(sent[0].Content) != 101 {
		t.Errorf("truncated content length = %d, want 100 plus the marker", len(sent[0].Content))
	}
}

func TestBridgeNotificationTruncationMultibyte(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, nil); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	br := NewBridge("guild1", nil, notifier, nil)
	br.SetReady(db)

	long := strings.Repeat("é", 150)
	br.MessageCreate(nil, createEvent(liveMessage("100", "c1", "gm1", long, time.Now())))

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if !utf8.ValidString(sent[0].Content) {
		t.Error("truncation split a multi-byte character")
	}
	if got := utf8.RuneCountInString(sent[0].Content); got != 101 {
		t.Errorf("truncated content runes = %d, want 100 plus the marker", got)
	}
}

func TestBridgePrivateChannelArchivedButSilent(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, nil); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	br := NewBridge("guild1", []string{"hidden"}, notifier, nil)
	br.SetReady(db)

	br.MessageCreate(nil, createEvent(liveMessage("100", "hidden", "gm1", "secret plans", time.Now())))

	if ok, _ := db.PostExists("100"); !ok {
		t.Error("private channel message must still be archived")
	}
	if len(notifier.all()) != 0 {
		t.Error("private channel message triggered a notification")
	}
	ready, err := db.ReadyReposts(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Error("private channel message was enqueued for repost")
	}
}

func TestBridgeBotAuthorNotEnqueued(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, nil); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	br := NewBridge("guild1", nil, notifier, nil)
	br.SetReady(db)

	m := liveMessage("100", "c1", "gm1", "automated", time.Now())
	m.Author.Bot = true
	br.MessageCreate(nil, createEvent(m))

	if ok, _ := db.PostExists("100"); !ok {
		t.Error("bot message must still be archived")
	}
	if len(notifier.all()) != 0 {
		t.Error("bot message triggered a notification")
	}
}

func TestBridgeDeleteRemovesRepost(t *testing.T) {
	db := openTestDB(t)
	if err := db.SeedGMData([]string{"gm1"}, nil); err != nil {
		t.Fatal(err)
	}

	br := NewBridge("guild1", nil, nil, nil)
	br.SetReady(db)

	created := time.Now().Add(-time.Hour)
	br.MessageCreate(nil, createEvent(liveMessage("100", "c1", "gm1", "soon gone", created)))
	// Gateway delete payloads carry no author, only the IDs.
	br.MessageDelete(nil, &discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "100", ChannelID: "c1", GuildID: "guild1"},
	})

	post, err := db.GetPost("100")
	if err != nil {
		t.Fatal(err)
	}
	if !post.Deleted {
		t.Error("post not flagged deleted")
	}
	if post.Content != "soon gone" {
		t.Errorf("content = %q, original text must survive deletion", post.Content)
	}

	ready, err := db.ReadyReposts(time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Error("deleted message still queued for repost")
	}

	revs, err := db.Revisions("100")
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 1 || revs[0].IsEdit || revs[0].Content != database.DeletionSentinel {
		t.Errorf("deletion revision wrong: %+v", revs)
	}
	if revs[0].AuthorID != "gm1" {
		t.Errorf("deletion revision author = %q, want the archived author", revs[0].AuthorID)
	}
}

func TestBridgeBufferOverflowDropsOldest(t *testing.T) {
	db := openTestDB(t)
	br := NewBridge("guild1", nil, nil, nil)

	for i := 0; i < maxPendingPerKind+5; i++ {
		br.MessageCreate(nil, createEvent(liveMessage(
			strconv.Itoa(i), "c1", "u1", "x", time.Now())))
	}
	br.SetReady(db)

	if ok, _ := db.PostExists("0"); ok {
		t.Error("oldest buffered event survived overflow")
	}
	if ok, _ := db.PostExists(strconv.Itoa(maxPendingPerKind + 4)); !ok {
		t.Error("newest buffered event was lost")
	}
}
