package utils

import (
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

// Reporter mirrors operational log lines into an admin channel as
// embeds. With no session or channel configured it degrades to stdout.
type Reporter struct {
	session   *discordgo.Session
	channelID string
}

// NewReporter creates a reporter. session may be nil and channelID may
// be empty; both disable channel delivery.
func NewReporter(session *discordgo.Session, channelID string) *Reporter {
	if channelID == "" {
		log.Println("Warning: admin channel is not configured. Logging to channel will be disabled.")
	}
	return &Reporter{session: session, channelID: channelID}
}

// Report sends a log message to the admin channel.
func (r *Reporter) Report(level, module, operation, details string) {
	if r == nil || r.session == nil || r.channelID == "" {
		log.Printf("[%s] Module: %s, Operation: %s, Details: %s", level, module, operation, details)
		return
	}

	var color int
	switch level {
	case "INFO":
		color = ColorInfo
	case "WARN":
		color = ColorWarn
	case "ERROR":
		color = ColorError
	default:
		color = ColorInfo
	}

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", level),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Module",
				Value:  module,
				Inline: true,
			},
			{
				Name:   "Operation",
				Value:  operation,
				Inline: true,
			},
			{
				Name:  "Details",
				Value: details,
			},
		},
	}

	_, err := r.session.ChannelMessageSendEmbed(r.channelID, embed)
	if err != nil {
		log.Printf("Error sending log message to Discord: %v", err)
	}
}

// Info logs an informational message.
func (r *Reporter) Info(module, operation, details string) {
	r.Report("INFO", module, operation, details)
}

// Warn logs a warning message.
func (r *Reporter) Warn(module, operation, details string) {
	r.Report("WARN", module, operation, details)
}

// Error logs an error message.
func (r *Reporter) Error(module, operation, details string) {
	r.Report("ERROR", module, operation, details)
}
