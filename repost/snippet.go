package repost

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const replyQuoteLimit = 100

// BuildSnippet renders the message body for reposting. Replies get the
// quoted parent prepended so the repost reads standalone.
func BuildSnippet(platform Platform, msg *discordgo.Message) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		content = "(embed/attachment only)"
	}

	ref := msg.MessageReference
	if ref == nil || ref.MessageID == "" {
		return content
	}

	parent := msg.ReferencedMessage
	if parent == nil {
		refChan := ref.ChannelID
		if refChan == "" {
			refChan = msg.ChannelID
		}
		fetched, err := platform.ChannelMessage(refChan, ref.MessageID)
		if err != nil {
			return content
		}
		parent = fetched
	}

	parentName := "unknown"
	if parent.Author != nil {
		parentName = parent.Author.GlobalName
		if parentName == "" {
			parentName = parent.Author.Username
		}
	}
	parentText := strings.TrimSpace(parent.Content)
	if parentText == "" {
		parentText = "(embed/attachment only)"
	}
	parentText = strings.ReplaceAll(parentText, "\n", " ")
	if r := []rune(parentText); len(r) > replyQuoteLimit {
		parentText = string(r[:replyQuoteLimit]) + "…"
	}

	return fmt.Sprintf("> **↪️ %s:** %s\n%s", parentName, parentText, content)
}
