package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings holds the archiver configuration resolved from viper.
type Settings struct {
	Token       string
	DatabaseURL string

	SourceGuildID     string
	AggregatorGuildID string
	CentralChannelID  string
	AdminChannelID    string

	CutoffDays   float64
	ReqPause     time.Duration
	PageSize     int
	FetchTimeout time.Duration

	RepostDelay  time.Duration
	APIPause     time.Duration
	AbandonAfter time.Duration

	GMIDs           []string
	GMNameOverrides map[string]string
	PrivateChannels []string
	SkipCrawlForums []string

	ViewerAddr string
	NotifyURL  string
}

// LoadConfig loads configuration from .env, config.yaml and environment
// variables. Environment variables override file settings.
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping.")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("No config.yaml found, using environment variables and defaults.")
		} else {
			panic(fmt.Errorf("fatal error reading config file: %w", err))
		}
	}
}

func setDefaults() {
	viper.SetDefault("crawler.cutoff_days", 10.0)
	viper.SetDefault("crawler.req_pause", "1.5s")
	viper.SetDefault("crawler.page_size", 100)
	viper.SetDefault("crawler.fetch_timeout", "15s")

	viper.SetDefault("repost.delay", "300s")
	viper.SetDefault("repost.api_pause", "2.1s")
	viper.SetDefault("repost.abandon_after", "1h")

	viper.SetDefault("viewer.addr", ":8080")
	viper.SetDefault("viewer.notify_url", "http://localhost:8080/api/notify_gm_post")
}

// GetSettings resolves the typed settings from the loaded viper state.
func GetSettings() Settings {
	return Settings{
		Token:       viper.GetString("BOT_TOKEN"),
		DatabaseURL: viper.GetString("DATABASE_URL"),

		SourceGuildID:     viper.GetString("archiver.source_guild_id"),
		AggregatorGuildID: viper.GetString("archiver.aggregator_guild_id"),
		CentralChannelID:  viper.GetString("archiver.central_channel_id"),
		AdminChannelID:    viper.GetString("archiver.admin_channel_id"),

		CutoffDays:   viper.GetFloat64("crawler.cutoff_days"),
		ReqPause:     viper.GetDuration("crawler.req_pause"),
		PageSize:     viper.GetInt("crawler.page_size"),
		FetchTimeout: viper.GetDuration("crawler.fetch_timeout"),

		RepostDelay:  viper.GetDuration("repost.delay"),
		APIPause:     viper.GetDuration("repost.api_pause"),
		AbandonAfter: viper.GetDuration("repost.abandon_after"),

		GMIDs:           viper.GetStringSlice("archiver.gm_ids"),
		GMNameOverrides: viper.GetStringMapString("archiver.gm_name_overrides"),
		PrivateChannels: viper.GetStringSlice("archiver.private_channels"),
		SkipCrawlForums: viper.GetStringSlice("crawler.skip_forums"),

		ViewerAddr: viper.GetString("viewer.addr"),
		NotifyURL:  viper.GetString("viewer.notify_url"),
	}
}
