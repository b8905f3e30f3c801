package handlers

import (
	"log"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

// GuildMemberAdd keeps the member table current when someone joins the
// source guild.
func (br *Bridge) GuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.GuildID != br.guildID {
		return
	}
	br.upsertGuildMember(m.Member)
}

// GuildMemberUpdate refreshes stored member metadata (nick, avatar) on
// profile changes.
func (br *Bridge) GuildMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.GuildID != br.guildID {
		return
	}
	br.upsertGuildMember(m.Member)
}

func (br *Bridge) upsertGuildMember(m *discordgo.Member) {
	br.mu.Lock()
	db, ready := br.db, br.ready
	br.mu.Unlock()
	if !ready || m == nil || m.User == nil {
		// Member rows are refreshed by the crawl path anyway; pre-ready
		// member events are safe to drop.
		return
	}

	row := memberFromGuildMember(m)
	if err := db.UpsertMember(row); err != nil {
		log.Printf("[archiver] Failed to upsert member %s: %v", row.MemberID, err)
	}
}

func memberFromGuildMember(m *discordgo.Member) models.Member {
	row := database.MemberFromUser(m.User)
	if m.Nick != "" {
		row.DisplayName = m.Nick
	}
	if !m.JoinedAt.IsZero() {
		row.JoinedAt = m.JoinedAt.UnixMilli()
	}
	return row
}
