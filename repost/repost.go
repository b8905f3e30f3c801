package repost

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

const readyBatchSize = 10

// Platform is the slice of the Discord session the delivery loop needs.
// *discordgo.Session satisfies it.
type Platform interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Sink delivers one formatted repost payload to a destination.
type Sink interface {
	Deliver(src *discordgo.Message, body, username, avatarURL string) error
}

// Reposter drains the republish queue: entries older than the delay are
// re-fetched from the platform (capturing edits), formatted and pushed
// through the delivery sinks. Delivery is at-most-once per entry.
type Reposter struct {
	platform Platform
	db       *database.DB
	sinks    []Sink

	guildID      string
	delay        time.Duration
	apiPause     time.Duration
	abandonAfter time.Duration

	mu      sync.Mutex
	running bool

	chanMu    sync.Mutex
	chanNames map[string]string
}

// Config carries the delivery loop parameters.
type Config struct {
	GuildID      string
	Delay        time.Duration
	APIPause     time.Duration
	AbandonAfter time.Duration
}

// NewReposter wires the delivery loop.
func NewReposter(platform Platform, db *database.DB, cfg Config, sinks ...Sink) *Reposter {
	return &Reposter{
		platform:     platform,
		db:           db,
		sinks:        sinks,
		guildID:      cfg.GuildID,
		delay:        cfg.Delay,
		apiPause:     cfg.APIPause,
		abandonAfter: cfg.AbandonAfter,
		chanNames:    make(map[string]string),
	}
}

// ProcessReady runs one scan cycle. Safe to call on a fixed interval;
// overlapping cycles are coalesced.
func (r *Reposter) ProcessReady() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[repost] Panic in delivery cycle: %v", rec)
		}
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	entries, err := r.db.ReadyReposts(r.delay, readyBatchSize)
	if err != nil {
		log.Printf("[repost] Failed to query queue: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	log.Printf("[repost] Processing %d entries ready for repost", len(entries))

	for _, entry := range entries {
		r.processOne(entry)
		time.Sleep(r.apiPause)
	}
}

func (r *Reposter) processOne(entry models.RepostEntry) {
	age := time.Since(time.UnixMilli(entry.EnqueuedAt))

	// Re-fetch the live message so edits made during the delay window
	// are delivered, not the originally archived content.
	msg, err := r.platform.ChannelMessage(entry.ChanID, entry.PostID)
	if err != nil {
		if isGone(err) {
			if dbErr := r.db.MarkRepostSourceDeleted(entry.PostID); dbErr != nil {
				log.Printf("[repost] Failed to flag vanished message %s: %v", entry.PostID, dbErr)
			}
			log.Printf("[repost] Message %s deleted or inaccessible, dropped from queue", entry.PostID)
			return
		}
		if age > r.abandonAfter {
			log.Printf("[repost] Message %s too old after fetch error (%v), abandoning", entry.PostID, err)
			if dbErr := r.db.RemoveRepost(entry.PostID); dbErr != nil {
				log.Printf("[repost] Failed to remove %s: %v", entry.PostID, dbErr)
			}
			return
		}
		log.Printf("[repost] Transient error fetching %s, will retry: %v", entry.PostID, err)
		return
	}

	body, username, avatar := r.format(msg)
	delivered := false
	for _, sink := range r.sinks {
		if err := sink.Deliver(msg, body, username, avatar); err != nil {
			log.Printf("[repost] Delivery failed for %s: %v", entry.PostID, err)
			continue
		}
		delivered = true
	}

	if !delivered && len(r.sinks) > 0 {
		if age > r.abandonAfter {
			log.Printf("[repost] Message %s too old after delivery failures, abandoning", entry.PostID)
		} else {
			// Leave queued for the next cycle.
			return
		}
	}

	if err := r.db.RemoveRepost(entry.PostID); err != nil {
		log.Printf("[repost] Failed to remove %s from queue: %v", entry.PostID, err)
		return
	}
	if delivered {
		log.Printf("[repost] Reposted message %s (age %.1fs)", entry.PostID, age.Seconds())
	}
}

// format builds the delivery payload: overridden display name, reply
// snippet, permalink, hard-truncated to the platform's 2000-char limit.
func (r *Reposter) format(msg *discordgo.Message) (body, username, avatarURL string) {
	fallback := ""
	authorID := ""
	if msg.Author != nil {
		authorID = msg.Author.ID
		fallback = msg.Author.GlobalName
		if fallback == "" {
			fallback = msg.Author.Username
		}
		avatarURL = msg.Author.AvatarURL("")
	}
	username = r.db.GMDisplayName(authorID, fallback)

	chanName := r.channelName(msg.ChannelID)
	snippet := BuildSnippet(r.platform, msg)
	jump := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", r.guildID, msg.ChannelID, msg.ID)

	header := fmt.Sprintf("%s (#%s):\n", username, chanName)
	body = header + snippet + "\n" + jump

	if len(body) > 2000 {
		overhead := len(header) + len(jump) + 1
		available := 2000 - overhead - 20
		if available > 0 {
			// Back off to a rune boundary so the cut never splits a
			// multi-byte character.
			for available > 0 && available < len(snippet) && !utf8.RuneStart(snippet[available]) {
				available--
			}
			body = header + snippet[:available] + "... [truncated]\n" + jump
		} else {
			body = fmt.Sprintf("%s: [Message too long to display]\n%s", username, jump)
		}
	}
	return body, username, avatarURL
}

func (r *Reposter) channelName(channelID string) string {
	r.chanMu.Lock()
	if name, ok := r.chanNames[channelID]; ok {
		r.chanMu.Unlock()
		return name
	}
	r.chanMu.Unlock()

	ch, err := r.platform.Channel(channelID)
	if err != nil {
		return channelID
	}
	r.chanMu.Lock()
	r.chanNames[channelID] = ch.Name
	r.chanMu.Unlock()
	return ch.Name
}

// isGone reports whether the fetch error means the source message no
// longer exists or is no longer visible.
func isGone(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == 404 || code == 403
	}
	return false
}
