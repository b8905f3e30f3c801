package crawler

import (
	"log"
	"runtime/debug"
	"sync"
	"time"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/bwmarrin/discordgo"
)

// GuildAPI is the slice of the Discord session the sweep needs for
// channel and thread enumeration. *discordgo.Session satisfies it.
type GuildAPI interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildThreadsActive(guildID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	ThreadsArchived(channelID string, before *time.Time, limit int, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
}

// SweepConfig carries the sweep parameters.
type SweepConfig struct {
	GuildID    string
	CutoffDays float64
	Pause      time.Duration
}

// Sweep walks the full channel/thread hierarchy exactly once per
// process lifetime, applying the reconciler to each channel. It owns
// the finished/inaccessible caches and the sweep statistics.
type Sweep struct {
	api   GuildAPI
	rec   *Reconciler
	db    *database.DB
	cfg   SweepConfig
	state *State

	mu     sync.Mutex
	active bool
	stats  models.SweepStats
}

// NewSweep builds a sweep scheduler around a reconciler.
func NewSweep(api GuildAPI, rec *Reconciler, db *database.DB, cfg SweepConfig) *Sweep {
	return &Sweep{
		api:   api,
		rec:   rec,
		db:    db,
		cfg:   cfg,
		state: NewState(),
	}
}

// State exposes the channel caches for callers that share them.
func (s *Sweep) State() *State { return s.state }

// Active reports whether the sweep is still running.
func (s *Sweep) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stats returns a copy of the accumulated counters.
func (s *Sweep) Stats() models.SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run performs the single backfill pass. It never panics outward; an
// uncaught failure aborts the sweep but not the host process. It does
// not restart: a fresh process lifetime is required for another sweep.
func (s *Sweep) Run() models.SweepStats {
	s.mu.Lock()
	s.active = true
	s.stats = models.SweepStats{}
	s.mu.Unlock()
	s.state.ResetFinished()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[crawler] FATAL ERROR in sweep: %v\n%s", r, debug.Stack())
		}
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.CutoffDays * float64(24*time.Hour)))
	start := time.Now()

	channels, err := s.api.GuildChannels(s.cfg.GuildID)
	if err != nil {
		log.Printf("[crawler] Failed to enumerate guild channels: %v", err)
		return s.Stats()
	}

	var parents []*discordgo.Channel
	for _, c := range channels {
		switch c.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildForum:
			parents = append(parents, c)
		}
	}

	log.Printf("[crawler] Starting %.1f-day backfill sweep over %d channels", s.cfg.CutoffDays, len(parents))
	log.Printf("[crawler] Cutoff date: %s UTC", cutoff.Format("2006-01-02 15:04:05"))

	activeByParent := s.activeThreads()

	for i, parent := range parents {
		if s.state.IsInaccessible(parent.ID) {
			continue
		}
		if parent.Type == discordgo.ChannelTypeGuildForum && s.rec.SkipsForum(parent.ID) {
			log.Printf("[crawler] Skipping forum #%s and its threads (configured)", parent.Name)
			continue
		}

		s.mu.Lock()
		s.stats.ChannelsProcessed++
		s.mu.Unlock()
		log.Printf("[crawler] Processing channel #%s (%d/%d)", parent.Name, i+1, len(parents))

		_, saved := s.rec.CrawlOne(parent, cutoff, s.state)
		s.addSaved(saved)
		time.Sleep(s.cfg.Pause)

		for _, th := range s.iterThreads(parent, activeByParent[parent.ID]) {
			if s.state.IsInaccessible(th.ID) || s.state.IsFinished(th.ID) {
				continue
			}
			s.mu.Lock()
			s.stats.ThreadsProcessed++
			s.mu.Unlock()
			_, saved := s.rec.CrawlOne(th, cutoff, s.state)
			s.addSaved(saved)
			time.Sleep(s.cfg.Pause)
		}
	}

	if _, err := s.db.CleanupOldProgress(30); err != nil {
		log.Printf("[crawler] Progress cleanup failed: %v", err)
	}
	if err := s.db.CacheArchiveStats(); err != nil {
		log.Printf("[crawler] Stats cache refresh failed: %v", err)
	}

	s.mu.Lock()
	s.stats.Inaccessible = s.state.InaccessibleCount()
	s.stats.ElapsedSeconds = int64(time.Since(start).Seconds())
	final := s.stats
	s.mu.Unlock()

	log.Printf("[crawler] BACKFILL COMPLETE: channels=%d threads=%d saved=%d inaccessible=%d elapsed=%ds",
		final.ChannelsProcessed, final.ThreadsProcessed, final.MessagesSaved,
		final.Inaccessible, final.ElapsedSeconds)

	return final
}

func (s *Sweep) addSaved(n int) {
	s.mu.Lock()
	s.stats.MessagesSaved += n
	s.mu.Unlock()
}

// activeThreads fetches the guild's active threads once and groups them
// by parent channel.
func (s *Sweep) activeThreads() map[string][]*discordgo.Channel {
	grouped := make(map[string][]*discordgo.Channel)
	list, err := s.api.GuildThreadsActive(s.cfg.GuildID)
	if err != nil {
		log.Printf("[crawler] Failed to list active threads: %v", err)
		return grouped
	}
	for _, th := range list.Threads {
		grouped[th.ParentID] = append(grouped[th.ParentID], th)
	}
	return grouped
}

// iterThreads returns a parent's threads in crawl order: active threads
// first, then archived threads oldest first.
func (s *Sweep) iterThreads(parent *discordgo.Channel, active []*discordgo.Channel) []*discordgo.Channel {
	out := append([]*discordgo.Channel{}, active...)

	var archived []*discordgo.Channel
	var before *time.Time
	for {
		page, err := s.api.ThreadsArchived(parent.ID, before, 100)
		if err != nil {
			if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
				code := restErr.Response.StatusCode
				if code == 403 {
					log.Printf("[crawler] No access to archived threads in #%s", parent.Name)
					break
				}
				if code == 429 || (code >= 500 && code < 600) {
					log.Printf("[crawler] Skipping archived threads in #%s: HTTP %d", parent.Name, code)
					break
				}
			}
			log.Printf("[crawler] Failed to list archived threads in #%s: %v", parent.Name, err)
			break
		}
		if len(page.Threads) == 0 {
			break
		}
		archived = append(archived, page.Threads...)
		last := page.Threads[len(page.Threads)-1]
		if last.ThreadMetadata != nil {
			t := last.ThreadMetadata.ArchiveTimestamp
			before = &t
		}
		if !page.HasMore {
			break
		}
	}

	// The API returns archived threads newest first; crawl oldest first.
	for i := len(archived) - 1; i >= 0; i-- {
		out = append(out, archived[i])
	}
	return out
}
