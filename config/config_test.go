package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
archiver:
  source_guild_id: "guild1"
  aggregator_guild_id: "guild2"
  central_channel_id: "chan1"
  gm_ids:
    - "gm1"
    - "gm2"
  gm_name_overrides:
    gm1: "The Narrator"
  private_channels:
    - "hidden"
crawler:
  cutoff_days: 3.5
  skip_forums:
    - "f1"
repost:
  delay: "120s"
`
	if err := os.WriteFile(dir+"/config.yaml", []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWD) })

	LoadConfig()
	s := GetSettings()

	if s.SourceGuildID != "guild1" || s.AggregatorGuildID != "guild2" {
		t.Errorf("guild settings = %q/%q", s.SourceGuildID, s.AggregatorGuildID)
	}
	if len(s.GMIDs) != 2 || s.GMIDs[0] != "gm1" {
		t.Errorf("gm_ids = %v", s.GMIDs)
	}
	if s.GMNameOverrides["gm1"] != "The Narrator" {
		t.Errorf("overrides = %v", s.GMNameOverrides)
	}
	if len(s.PrivateChannels) != 1 || s.PrivateChannels[0] != "hidden" {
		t.Errorf("private_channels = %v", s.PrivateChannels)
	}
	if s.CutoffDays != 3.5 {
		t.Errorf("cutoff_days = %v, want file value", s.CutoffDays)
	}
	if len(s.SkipCrawlForums) != 1 || s.SkipCrawlForums[0] != "f1" {
		t.Errorf("skip_forums = %v", s.SkipCrawlForums)
	}
	if s.RepostDelay != 120*time.Second {
		t.Errorf("repost delay = %v, want file value", s.RepostDelay)
	}

	// Untouched keys fall back to defaults.
	if s.ReqPause != 1500*time.Millisecond {
		t.Errorf("req_pause = %v, want default", s.ReqPause)
	}
	if s.PageSize != 100 {
		t.Errorf("page_size = %d, want default", s.PageSize)
	}
	if s.APIPause != 2100*time.Millisecond {
		t.Errorf("api_pause = %v, want default", s.APIPause)
	}
	if s.AbandonAfter != time.Hour {
		t.Errorf("abandon_after = %v, want default", s.AbandonAfter)
	}
	if s.ViewerAddr != ":8080" {
		t.Errorf("viewer addr = %q, want default", s.ViewerAddr)
	}
}
