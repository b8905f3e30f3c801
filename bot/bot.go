package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discord-archiver/config"
	"discord-archiver/crawler"
	"discord-archiver/database"
	"discord-archiver/handlers"
	"discord-archiver/repost"
	"discord-archiver/utils"
	"discord-archiver/viewer"

	"github.com/bwmarrin/discordgo"
)

// Bot encapsulates the archiver's state: the gateway session, the
// database, the live event bridge, the backfill sweep, the delayed
// repost loop and the viewer API.
type Bot struct {
	Session *discordgo.Session

	cfg      config.Settings
	db       *database.DB
	bridge   *handlers.Bridge
	sweep    *crawler.Sweep
	reposter *repost.Reposter
	viewer   *viewer.Server
	reporter *utils.Reporter

	scheduler *scheduler
}

// New builds the bot from resolved settings. The database is opened and
// the schema applied here; a failure is fatal to the caller.
func New(cfg config.Settings) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL provided")
	}
	if cfg.SourceGuildID == "" {
		return nil, fmt.Errorf("no source guild configured")
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers | discordgo.IntentMessageContent

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.SeedGMData(cfg.GMIDs, cfg.GMNameOverrides); err != nil {
		db.Close()
		return nil, fmt.Errorf("error seeding GM data: %w", err)
	}
	if err := db.ReseedGMDataIfNeeded(cfg.GMIDs, cfg.GMNameOverrides); err != nil {
		log.Printf("[bot] GM reseed check failed: %v", err)
	}
	if ok, err := db.VerifyGMSeeding(cfg.GMIDs); err != nil {
		log.Printf("[bot] GM seed verification failed: %v", err)
	} else if !ok {
		log.Printf("[bot] Warning: GM seeding incomplete, name overrides may not apply")
	}

	rec := crawler.NewReconciler(dg, db, cfg.PageSize, cfg.FetchTimeout, cfg.SkipCrawlForums)
	sweep := crawler.NewSweep(dg, rec, db, crawler.SweepConfig{
		GuildID:    cfg.SourceGuildID,
		CutoffDays: cfg.CutoffDays,
		Pause:      cfg.ReqPause,
	})

	notifier := handlers.NewViewerNotifier(cfg.NotifyURL)
	bridge := handlers.NewBridge(cfg.SourceGuildID, cfg.PrivateChannels, notifier, dg)

	var sinks []repost.Sink
	if cfg.CentralChannelID != "" {
		sinks = append(sinks, repost.NewCentralSink(dg, cfg.CentralChannelID))
	}
	if cfg.AggregatorGuildID != "" {
		sinks = append(sinks, repost.NewMirrorSink(dg, cfg.SourceGuildID, cfg.AggregatorGuildID))
	}
	reposter := repost.NewReposter(dg, db, repost.Config{
		GuildID:      cfg.SourceGuildID,
		Delay:        cfg.RepostDelay,
		APIPause:     cfg.APIPause,
		AbandonAfter: cfg.AbandonAfter,
	}, sinks...)

	return &Bot{
		Session:  dg,
		cfg:      cfg,
		db:       db,
		bridge:   bridge,
		sweep:    sweep,
		reposter: reposter,
		viewer:   viewer.NewServer(db, cfg.ViewerAddr),
	}, nil
}

// Start opens the gateway session and brings every subsystem online.
// Live events arriving before the bridge is marked ready are buffered
// and replayed in order.
func (b *Bot) Start() error {
	b.Session.AddHandler(b.bridge.MessageCreate)
	b.Session.AddHandler(b.bridge.MessageUpdate)
	b.Session.AddHandler(b.bridge.MessageDelete)
	b.Session.AddHandler(b.bridge.ThreadCreate)
	b.Session.AddHandler(b.bridge.GuildMemberAdd)
	b.Session.AddHandler(b.bridge.GuildMemberUpdate)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	b.reporter = utils.NewReporter(b.Session, b.cfg.AdminChannelID)
	b.bridge.SetReady(b.db)

	go func() {
		if err := b.viewer.Start(); err != nil {
			log.Printf("[bot] Viewer server failed: %v", err)
		}
	}()

	b.scheduler = startScheduler(b)

	fmt.Println("Bot is now running. Press CTRL-C to exit.")
	return nil
}

// Stop gracefully shuts everything down: scheduled jobs first, then the
// viewer, the gateway session and finally the database.
func (b *Bot) Stop() {
	if b.scheduler != nil {
		b.scheduler.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.viewer.Shutdown(ctx); err != nil {
		log.Printf("[bot] Viewer shutdown failed: %v", err)
	}
	if b.Session != nil {
		b.Session.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
	fmt.Println("Bot stopped gracefully.")
}

// Run is the main entry point for the bot application.
func Run(cfg config.Settings) {
	bot, err := New(cfg)
	if err != nil {
		log.Fatalf("Error initializing bot: %v", err)
	}

	if err := bot.Start(); err != nil {
		log.Fatalf("Error starting bot: %v", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	bot.Stop()
}
