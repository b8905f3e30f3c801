package repost

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const webhookName = "Archiver"

// CentralSink posts every payload into a single channel on the
// aggregator guild through a cached webhook.
type CentralSink struct {
	session   *discordgo.Session
	channelID string

	mu   sync.Mutex
	hook *discordgo.Webhook
}

func NewCentralSink(session *discordgo.Session, channelID string) *CentralSink {
	return &CentralSink{session: session, channelID: channelID}
}

func (c *CentralSink) Deliver(src *discordgo.Message, body, username, avatarURL string) error {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook == nil {
		var err error
		hook, err = ensureWebhook(c.session, c.channelID)
		if err != nil {
			return fmt.Errorf("central webhook: %w", err)
		}
		c.mu.Lock()
		c.hook = hook
		c.mu.Unlock()
	}
	return executeWebhook(c.session, hook, "", body, username, avatarURL)
}

// MirrorSink replicates the source hierarchy on the aggregator guild:
// one category per source category, one read-only channel per source
// channel, one thread per source thread. Payloads land in the mirror of
// the channel they came from.
type MirrorSink struct {
	session       *discordgo.Session
	sourceGuildID string
	destGuildID   string

	mu       sync.Mutex
	channels map[string]string             // source channel ID -> mirror channel ID
	threads  map[string]string             // source thread ID -> mirror thread ID
	hooks    map[string]*discordgo.Webhook // mirror channel ID -> webhook
}

func NewMirrorSink(session *discordgo.Session, sourceGuildID, destGuildID string) *MirrorSink {
	return &MirrorSink{
		session:       session,
		sourceGuildID: sourceGuildID,
		destGuildID:   destGuildID,
		channels:      make(map[string]string),
		threads:       make(map[string]string),
		hooks:         make(map[string]*discordgo.Webhook),
	}
}

func (m *MirrorSink) Deliver(src *discordgo.Message, body, username, avatarURL string) error {
	srcChan, err := m.session.Channel(src.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve source channel %s: %w", src.ChannelID, err)
	}

	var mirrorChanID, mirrorThreadID string
	if srcChan.IsThread() {
		mirrorChanID, mirrorThreadID, err = m.ensureThreadMirror(srcChan)
	} else {
		mirrorChanID, err = m.ensureChannelMirror(srcChan)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	hook := m.hooks[mirrorChanID]
	m.mu.Unlock()
	if hook == nil {
		hook, err = ensureWebhook(m.session, mirrorChanID)
		if err != nil {
			return fmt.Errorf("mirror webhook for %s: %w", mirrorChanID, err)
		}
		m.mu.Lock()
		m.hooks[mirrorChanID] = hook
		m.mu.Unlock()
	}
	return executeWebhook(m.session, hook, mirrorThreadID, body, username, avatarURL)
}

// ensureChannelMirror finds or creates the mirror channel (and its
// parent category) for a regular source channel.
func (m *MirrorSink) ensureChannelMirror(srcChan *discordgo.Channel) (string, error) {
	m.mu.Lock()
	if id, ok := m.channels[srcChan.ID]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	destChans, err := m.session.GuildChannels(m.destGuildID)
	if err != nil {
		return "", fmt.Errorf("list mirror guild channels: %w", err)
	}

	parentID := ""
	if srcChan.ParentID != "" {
		srcParent, err := m.session.Channel(srcChan.ParentID)
		if err == nil && srcParent.Type == discordgo.ChannelTypeGuildCategory {
			parentID, err = m.ensureCategory(destChans, srcParent.Name)
			if err != nil {
				return "", err
			}
		}
	}

	for _, ch := range destChans {
		if ch.Type != discordgo.ChannelTypeGuildCategory && strings.EqualFold(ch.Name, srcChan.Name) && ch.ParentID == parentID {
			m.mu.Lock()
			m.channels[srcChan.ID] = ch.ID
			m.mu.Unlock()
			return ch.ID, nil
		}
	}

	created, err := m.session.GuildChannelCreateComplex(m.destGuildID, discordgo.GuildChannelCreateData{
		Name:     srcChan.Name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: parentID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{{
			ID:   m.destGuildID, // @everyone role shares the guild ID
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionSendMessages,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("create mirror channel %q: %w", srcChan.Name, err)
	}
	log.Printf("[mirror] Created mirror channel #%s", created.Name)

	m.mu.Lock()
	m.channels[srcChan.ID] = created.ID
	m.mu.Unlock()
	return created.ID, nil
}

// ensureThreadMirror returns the mirror parent channel ID and the mirror
// thread ID for a source thread.
func (m *MirrorSink) ensureThreadMirror(srcThread *discordgo.Channel) (string, string, error) {
	m.mu.Lock()
	if threadID, ok := m.threads[srcThread.ID]; ok {
		for srcChanID, mirrorID := range m.channels {
			if srcChanID == srcThread.ParentID {
				m.mu.Unlock()
				return mirrorID, threadID, nil
			}
		}
	}
	m.mu.Unlock()

	srcParent, err := m.session.Channel(srcThread.ParentID)
	if err != nil {
		return "", "", fmt.Errorf("resolve thread parent %s: %w", srcThread.ParentID, err)
	}
	mirrorChanID, err := m.ensureChannelMirror(srcParent)
	if err != nil {
		return "", "", err
	}

	active, err := m.session.GuildThreadsActive(m.destGuildID)
	if err == nil {
		for _, th := range active.Threads {
			if th.ParentID == mirrorChanID && strings.EqualFold(th.Name, srcThread.Name) {
				m.mu.Lock()
				m.threads[srcThread.ID] = th.ID
				m.mu.Unlock()
				return mirrorChanID, th.ID, nil
			}
		}
	}

	created, err := m.session.ThreadStartComplex(mirrorChanID, &discordgo.ThreadStart{
		Name:                srcThread.Name,
		AutoArchiveDuration: 10080,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	})
	if err != nil {
		return "", "", fmt.Errorf("create mirror thread %q: %w", srcThread.Name, err)
	}
	log.Printf("[mirror] Created mirror thread %s under #%s", created.Name, srcParent.Name)

	m.mu.Lock()
	m.threads[srcThread.ID] = created.ID
	m.mu.Unlock()
	return mirrorChanID, created.ID, nil
}

func (m *MirrorSink) ensureCategory(destChans []*discordgo.Channel, name string) (string, error) {
	for _, ch := range destChans {
		if ch.Type == discordgo.ChannelTypeGuildCategory && strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}
	created, err := m.session.GuildChannelCreateComplex(m.destGuildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return "", fmt.Errorf("create mirror category %q: %w", name, err)
	}
	log.Printf("[mirror] Created mirror category %s", created.Name)
	return created.ID, nil
}

func ensureWebhook(session *discordgo.Session, channelID string) (*discordgo.Webhook, error) {
	hooks, err := session.ChannelWebhooks(channelID)
	if err == nil {
		for _, h := range hooks {
			if h.Name == webhookName {
				return h, nil
			}
		}
	}
	return session.WebhookCreate(channelID, webhookName, "")
}

// executeWebhook sends one payload, retrying once after a rate-limit
// wait. Mentions are stripped so reposts never ping.
func executeWebhook(session *discordgo.Session, hook *discordgo.Webhook, threadID, body, username, avatarURL string) error {
	params := &discordgo.WebhookParams{
		Content:   body,
		Username:  username,
		AvatarURL: avatarURL,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if threadID != "" {
			_, err = session.WebhookThreadExecute(hook.ID, hook.Token, false, threadID, params)
		} else {
			_, err = session.WebhookExecute(hook.ID, hook.Token, false, params)
		}
		if err == nil {
			return nil
		}
		if rl, ok := err.(*discordgo.RateLimitError); ok {
			time.Sleep(rl.RetryAfter)
			continue
		}
		break
	}
	return err
}
