package bot

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

type scheduler struct {
	cron *cron.Cron
}

// startScheduler wires the recurring jobs and kicks off the initial
// backfill sweep.
func startScheduler(b *Bot) *scheduler {
	log.Println("Initializing scheduler...")
	c := cron.New()

	_, err := c.AddFunc("@every 30s", func() {
		b.reposter.ProcessReady()
	})
	if err != nil {
		log.Fatalf("Could not set up repost job: %v", err)
	}

	_, err = c.AddFunc("@every 10m", func() {
		if err := b.db.RefreshGMWindowView(); err != nil {
			log.Printf("[scheduler] View refresh failed: %v", err)
		}
		if err := b.db.CacheArchiveStats(); err != nil {
			log.Printf("[scheduler] Stats cache failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Could not set up maintenance job: %v", err)
	}

	c.Start()
	log.Println("Cron jobs scheduled.")

	// Reconcile the archive against history once per process start.
	go func() {
		log.Println("Performing startup sweep...")
		stats := b.sweep.Run()
		b.reporter.Info("crawler", "sweep",
			fmt.Sprintf("Channels: %d, threads: %d, saved: %d, inaccessible: %d, elapsed: %ds",
				stats.ChannelsProcessed, stats.ThreadsProcessed, stats.MessagesSaved,
				stats.Inaccessible, stats.ElapsedSeconds))
	}()

	return &scheduler{cron: c}
}

func (s *scheduler) stop() {
	if s.cron != nil {
		s.cron.Stop()
		log.Println("Scheduler stopped.")
	}
}
