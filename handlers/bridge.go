package handlers

import (
	"log"
	"sync"
	"time"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

// maxPendingPerKind bounds each pre-ready event buffer.
const maxPendingPerKind = 2048

// Notifier receives best-effort GM post notifications.
type Notifier interface {
	NotifyGMPost(n models.GMNotification)
}

// ChannelResolver looks up channel metadata for incoming messages.
// *discordgo.Session satisfies it.
type ChannelResolver interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Bridge consumes live message events. Until the archive finishes its
// startup initialization the bridge buffers events per kind; SetReady
// replays them in arrival order, creates first, then edits, then
// deletes. After that every event applies the same persistence contract
// as the crawl path.
type Bridge struct {
	guildID  string
	private  map[string]bool
	notifier Notifier
	resolver ChannelResolver

	mu             sync.Mutex
	ready          bool
	db             *database.DB
	pendingCreates []*discordgo.Message
	pendingEdits   []*discordgo.Message
	pendingDeletes []*discordgo.Message

	chanMu    sync.Mutex
	chanCache map[string]models.Channel
}

// NewBridge builds a bridge in the initializing state.
func NewBridge(guildID string, privateChannels []string, notifier Notifier, resolver ChannelResolver) *Bridge {
	private := make(map[string]bool, len(privateChannels))
	for _, id := range privateChannels {
		private[id] = true
	}
	return &Bridge{
		guildID:   guildID,
		private:   private,
		notifier:  notifier,
		resolver:  resolver,
		chanCache: make(map[string]models.Channel),
	}
}

// SetReady transitions the bridge to the ready state and drains the
// buffered events.
func (br *Bridge) SetReady(db *database.DB) {
	br.mu.Lock()
	br.db = db
	br.ready = true
	creates := br.pendingCreates
	edits := br.pendingEdits
	deletes := br.pendingDeletes
	br.pendingCreates = nil
	br.pendingEdits = nil
	br.pendingDeletes = nil
	br.mu.Unlock()

	if len(creates)+len(edits)+len(deletes) > 0 {
		log.Printf("[archiver] Replaying %d buffered events (%d creates, %d edits, %d deletes)",
			len(creates)+len(edits)+len(deletes), len(creates), len(edits), len(deletes))
	}
	for _, m := range creates {
		br.safeHandle("create", m, br.handleCreate)
	}
	for _, m := range edits {
		br.safeHandle("edit", m, br.handleEdit)
	}
	for _, m := range deletes {
		br.safeHandle("delete", m, br.handleDelete)
	}
}

// MessageCreate is the discordgo handler for new messages.
func (br *Bridge) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID != br.guildID {
		return
	}
	if br.buffer(&br.pendingCreates, m.Message) {
		return
	}
	br.safeHandle("create", m.Message, br.handleCreate)
}

// MessageUpdate is the discordgo handler for message edits.
func (br *Bridge) MessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.GuildID != br.guildID {
		return
	}
	if br.buffer(&br.pendingEdits, m.Message) {
		return
	}
	br.safeHandle("edit", m.Message, br.handleEdit)
}

// MessageDelete is the discordgo handler for message deletions.
func (br *Bridge) MessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	if m.GuildID != br.guildID {
		return
	}
	if br.buffer(&br.pendingDeletes, m.Message) {
		return
	}
	br.safeHandle("delete", m.Message, br.handleDelete)
}

// buffer appends the message to the given pending queue when the bridge
// is not ready yet. Returns true when the event was consumed.
func (br *Bridge) buffer(queue *[]*discordgo.Message, m *discordgo.Message) bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.ready {
		return false
	}
	if len(*queue) >= maxPendingPerKind {
		// Drop the oldest entry; recent events matter more after a drain.
		copy(*queue, (*queue)[1:])
		(*queue)[len(*queue)-1] = m
		log.Printf("[archiver] Pending event buffer full, dropped oldest entry")
		return true
	}
	*queue = append(*queue, m)
	return true
}

// safeHandle runs one event handler, catching anything it throws: one
// bad message must not drop the gateway connection.
func (br *Bridge) safeHandle(kind string, m *discordgo.Message, fn func(*discordgo.Message) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[archiver] Panic in %s handler for message %s: %v", kind, m.ID, r)
		}
	}()
	if err := fn(m); err != nil {
		log.Printf("[archiver] Error processing %s for message %s: %v", kind, m.ID, err)
	}
}

func (br *Bridge) handleCreate(m *discordgo.Message) error {
	channel := br.lookupChannel(m.ChannelID)
	post := database.PostFromMessage(m)
	author := database.MemberFromUser(m.Author)
	if err := br.db.SaveMessage(post, author, channel,
		database.AttachmentsFromMessage(m), database.EmbedsFromMessage(m)); err != nil {
		return err
	}

	if br.private[m.ChannelID] {
		// Archived for continuity, but never notified or republished.
		return nil
	}
	if m.Author == nil || m.Author.Bot {
		return nil
	}

	isGM, err := br.db.IsGM(m.Author.ID)
	if err != nil {
		return err
	}
	if !isGM {
		return nil
	}

	name := br.db.GMDisplayName(m.Author.ID, author.DisplayName)
	log.Printf("[archiver] GM message detected from %s in #%s", name, channel.Name)

	if br.notifier != nil {
		content := m.Content
		if r := []rune(content); len(r) > 100 {
			content = string(r[:100]) + "."
		}
		br.notifier.NotifyGMPost(models.GMNotification{
			ID:          m.ID,
			ChannelID:   m.ChannelID,
			ChannelName: channel.Name,
			AuthorName:  name,
			Content:     content,
			Timestamp:   post.CreatedTS,
		})
	}

	return br.db.EnqueueRepost(m.ID, m.ChannelID, post.CreatedTS)
}

func (br *Bridge) handleEdit(m *discordgo.Message) error {
	ts := time.Now().UnixMilli()
	authorID := ""
	if m.Author != nil {
		authorID = m.Author.ID
	}
	if err := br.db.ApplyEdit(m.ID, m.ChannelID, authorID, m.Content, ts); err != nil {
		return err
	}

	if br.private[m.ChannelID] || m.Author == nil {
		return nil
	}
	if isGM, err := br.db.IsGM(m.Author.ID); err == nil && isGM {
		log.Printf("[archiver] GM message edited in channel %s", m.ChannelID)
	}
	return nil
}

func (br *Bridge) handleDelete(m *discordgo.Message) error {
	ts := time.Now().UnixMilli()
	// Gateway delete payloads carry only the message and channel IDs,
	// so the author comes from the archived row.
	authorID := ""
	if m.Author != nil {
		authorID = m.Author.ID
	}
	if authorID == "" {
		if prev, err := br.db.GetPost(m.ID); err == nil && prev != nil {
			authorID = prev.AuthorID
		}
	}
	if err := br.db.MarkDeleted(m.ID, m.ChannelID, authorID, ts); err != nil {
		return err
	}

	if authorID == "" {
		return nil
	}
	if isGM, err := br.db.IsGM(authorID); err == nil && isGM {
		if err := br.db.RemoveRepost(m.ID); err != nil {
			return err
		}
		log.Printf("[archiver] GM message deleted in channel %s", m.ChannelID)
	}
	return nil
}

// lookupChannel resolves channel metadata, caching per channel so live
// traffic does not hammer the API.
func (br *Bridge) lookupChannel(channelID string) models.Channel {
	br.chanMu.Lock()
	if row, ok := br.chanCache[channelID]; ok {
		br.chanMu.Unlock()
		return row
	}
	br.chanMu.Unlock()

	if br.resolver == nil {
		return models.Channel{ChanID: channelID, GuildID: br.guildID, Accessible: true}
	}
	ch, err := br.resolver.Channel(channelID)
	if err != nil {
		log.Printf("[archiver] Failed to resolve channel %s: %v", channelID, err)
		return models.Channel{ChanID: channelID, GuildID: br.guildID, Accessible: true}
	}
	row := database.ChannelFromDiscord(ch)

	br.chanMu.Lock()
	br.chanCache[channelID] = row
	br.chanMu.Unlock()
	return row
}
