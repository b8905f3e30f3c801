package crawler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"discord-archiver/database"

	"github.com/bwmarrin/discordgo"
)

// Outcome reports what a single reconcile pass decided about a channel.
type Outcome int

const (
	// OutcomeIncomplete means the channel was not finished this pass and
	// remains available for future work.
	OutcomeIncomplete Outcome = iota
	// OutcomeFinished means the channel reached the cutoff or ran out of
	// history during this sweep.
	OutcomeFinished
	// OutcomeSkipped means the channel was not fetched: already finished,
	// cached as inaccessible, or not a message-bearing channel.
	OutcomeSkipped
)

// HistoryFetcher is the slice of the Discord session the reconciler
// needs. *discordgo.Session satisfies it.
type HistoryFetcher interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// State holds the per-sweep channel caches. It is owned by the sweep
// scheduler and passed by reference into reconcile calls so independent
// sweeps never share hidden state.
type State struct {
	mu           sync.Mutex
	inaccessible map[string]bool
	finished     map[string]bool
}

// NewState returns empty caches.
func NewState() *State {
	return &State{
		inaccessible: make(map[string]bool),
		finished:     make(map[string]bool),
	}
}

// MarkInaccessible caches a channel the crawler cannot read.
func (st *State) MarkInaccessible(chanID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.inaccessible[chanID] = true
}

// IsInaccessible reports whether the channel is cached as unreadable.
func (st *State) IsInaccessible(chanID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inaccessible[chanID]
}

// MarkFinished records that the channel reached the cutoff this sweep.
func (st *State) MarkFinished(chanID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.finished[chanID] = true
}

// IsFinished reports whether the channel is done for this sweep.
func (st *State) IsFinished(chanID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.finished[chanID]
}

// ResetFinished clears the finished set for a new sweep. The
// inaccessible cache deliberately survives; permissions rarely change
// mid-run.
func (st *State) ResetFinished() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.finished = make(map[string]bool)
}

// ClearInaccessible empties the inaccessible cache and returns how many
// entries were dropped.
func (st *State) ClearInaccessible() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.inaccessible)
	st.inaccessible = make(map[string]bool)
	return n
}

// InaccessibleCount returns the cache size, for the final sweep report.
func (st *State) InaccessibleCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.inaccessible)
}

// Reconciler performs one-page catch-up crawls against the archive.
type Reconciler struct {
	fetcher      HistoryFetcher
	db           *database.DB
	pageSize     int
	fetchTimeout time.Duration
	skipForums   map[string]bool
}

// NewReconciler wires a reconciler. skipForums lists forum channels
// excluded from backfill crawling.
func NewReconciler(fetcher HistoryFetcher, db *database.DB, pageSize int, fetchTimeout time.Duration, skipForums []string) *Reconciler {
	skip := make(map[string]bool, len(skipForums))
	for _, id := range skipForums {
		skip[id] = true
	}
	return &Reconciler{
		fetcher:      fetcher,
		db:           db,
		pageSize:     pageSize,
		fetchTimeout: fetchTimeout,
		skipForums:   skip,
	}
}

// SkipsForum reports whether the forum channel is excluded from backfill.
func (r *Reconciler) SkipsForum(chanID string) bool {
	return r.skipForums[chanID]
}

// CrawlOne fetches one page of the channel's most recent history and
// reconciles it against the archive: dedup by ID, persist new messages
// oldest first, advance the watermark, and mark the channel finished
// when the page is empty or crosses the cutoff. All errors are handled
// here; a failed channel never aborts the sweep.
func (r *Reconciler) CrawlOne(ch *discordgo.Channel, cutoff time.Time, st *State) (Outcome, int) {
	row := database.ChannelFromDiscord(ch)
	if err := r.db.SaveChannel(row); err != nil {
		log.Printf("[crawler] Failed to save channel #%s: %v", ch.Name, err)
	}

	if ch.Type == discordgo.ChannelTypeGuildForum {
		if r.skipForums[ch.ID] {
			log.Printf("[crawler] Skipping forum #%s (configured to skip due to volume)", ch.Name)
		} else {
			log.Printf("[crawler] Skipping forum channel #%s (forums only contain threads)", ch.Name)
		}
		return OutcomeSkipped, 0
	}

	if st.IsInaccessible(ch.ID) || st.IsFinished(ch.ID) {
		return OutcomeSkipped, 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	// Always start from the most recent message and walk backward.
	messages, err := r.fetcher.ChannelMessages(ch.ID, r.pageSize, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return r.classifyFetchError(ch, st, err), 0
	}

	if len(messages) == 0 {
		st.MarkFinished(ch.ID)
		if err := r.db.UpdateLastSeen(ch.ID, "0"); err != nil {
			log.Printf("[crawler] Failed to update progress for #%s: %v", ch.Name, err)
		}
		return OutcomeFinished, 0
	}

	// Pages arrive newest first; the watermark is the newest ID seen.
	watermark := messages[0].ID

	eligible := make([]*discordgo.Message, 0, len(messages))
	reachedCutoff := false
	for _, m := range messages {
		if m.Timestamp.Before(cutoff) {
			reachedCutoff = true
			continue
		}
		eligible = append(eligible, m)
	}

	// Persist oldest to newest so reply targets land before their replies.
	saved := 0
	for i := len(eligible) - 1; i >= 0; i-- {
		m := eligible[i]
		exists, err := r.db.PostExists(m.ID)
		if err != nil {
			log.Printf("[crawler] Dedup check failed for %s: %v", m.ID, err)
			continue
		}
		if exists {
			continue
		}
		post := database.PostFromMessage(m)
		author := database.MemberFromUser(m.Author)
		if err := r.db.SaveMessage(post, author, row, database.AttachmentsFromMessage(m), database.EmbedsFromMessage(m)); err != nil {
			log.Printf("[crawler] Failed to save message %s in #%s: %v", m.ID, ch.Name, err)
			continue
		}
		saved++
	}

	prev, err := r.db.GetLastSeenID(ch.ID)
	if err != nil {
		log.Printf("[crawler] Failed to read progress for #%s: %v", ch.Name, err)
	}
	if watermark != prev {
		if err := r.db.UpdateLastSeen(ch.ID, watermark); err != nil {
			log.Printf("[crawler] Failed to update progress for #%s: %v", ch.Name, err)
		}
	}

	if saved > 0 {
		log.Printf("[crawler] #%s pulled=%d new=%d", ch.Name, len(messages), saved)
	}

	if reachedCutoff {
		st.MarkFinished(ch.ID)
		return OutcomeFinished, saved
	}
	return OutcomeIncomplete, saved
}

// classifyFetchError applies the error taxonomy: timeouts and rate
// limits are transient (channel left incomplete), permission denials are
// terminal for the process lifetime, everything else is logged and
// abandoned for this channel only.
func (r *Reconciler) classifyFetchError(ch *discordgo.Channel, st *State, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Printf("[crawler] Timeout in #%s - skipping this pass", ch.Name)
		return OutcomeIncomplete
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		log.Printf("[crawler] Rate limited in #%s - skipping this pass", ch.Name)
		return OutcomeIncomplete
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		switch {
		case code == 403:
			st.MarkInaccessible(ch.ID)
			if dbErr := r.db.SetChannelAccessible(ch.ID, ch.Name, false); dbErr != nil {
				log.Printf("[crawler] Failed to persist accessibility for #%s: %v", ch.Name, dbErr)
			}
			log.Printf("[crawler] No access to #%s (ID: %s)", ch.Name, ch.ID)
			return OutcomeSkipped
		case code == 429 || (code >= 500 && code < 600):
			log.Printf("[crawler] Skipping #%s: HTTP %d", ch.Name, code)
			return OutcomeIncomplete
		}
	}

	log.Printf("[crawler] Unexpected error in #%s: %v", ch.Name, err)
	return OutcomeIncomplete
}
