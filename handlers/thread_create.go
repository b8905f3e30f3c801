package handlers

import (
	"log"

	"discord-archiver/database"

	"github.com/bwmarrin/discordgo"
)

// ThreadCreate registers newly created threads as channel rows right
// away, so live messages in a brand-new thread always find their parent
// channel in the archive.
func (br *Bridge) ThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	if t.GuildID != br.guildID {
		return
	}
	br.mu.Lock()
	db, ready := br.db, br.ready
	br.mu.Unlock()
	if !ready {
		// The sweep or the first live message will register it instead.
		return
	}

	row := database.ChannelFromDiscord(t.Channel)
	if err := db.SaveChannel(row); err != nil {
		log.Printf("[archiver] Failed to register thread #%s: %v", t.Name, err)
		return
	}

	br.chanMu.Lock()
	br.chanCache[t.ID] = row
	br.chanMu.Unlock()

	log.Printf("[archiver] Registered new thread #%s (parent %s)", t.Name, t.ParentID)
}
