package crawler

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"discord-archiver/database"

	"github.com/bwmarrin/discordgo"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeHistory serves canned pages per channel, newest first like the
// real API.
type fakeHistory struct {
	pages map[string][]*discordgo.Message
	errs  map[string]error
	calls int
}

func (f *fakeHistory) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.calls++
	if err, ok := f.errs[channelID]; ok {
		return nil, err
	}
	return f.pages[channelID], nil
}

func msg(id, chanID string, ts time.Time) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: chanID,
		Content:   "message " + id,
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
}

func textChannel(id, name string) *discordgo.Channel {
	return &discordgo.Channel{
		ID:      id,
		GuildID: "guild1",
		Name:    name,
		Type:    discordgo.ChannelTypeGuildText,
	}
}

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func TestCrawlOneCutoffBoundary(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)

	fetcher := &fakeHistory{pages: map[string][]*discordgo.Message{
		"c1": {
			msg("300", "c1", now),
			msg("200", "c1", now.Add(-time.Hour)),
			msg("100", "c1", now.Add(-48*time.Hour)), // below cutoff
		},
	}}
	rec := NewReconciler(fetcher, db, 100, time.Second, nil)
	st := NewState()

	outcome, saved := rec.CrawlOne(textChannel("c1", "general"), cutoff, st)
	if outcome != OutcomeFinished {
		t.Errorf("outcome = %v, want finished once the cutoff is crossed", outcome)
	}
	if saved != 2 {
		t.Errorf("saved = %d, want 2 (the below-cutoff message is excluded)", saved)
	}

	if ok, _ := db.PostExists("100"); ok {
		t.Error("below-cutoff message was persisted")
	}
	for _, id := range []string{"200", "300"} {
		if ok, _ := db.PostExists(id); !ok {
			t.Errorf("eligible message %s missing from archive", id)
		}
	}

	watermark, err := db.GetLastSeenID("c1")
	if err != nil {
		t.Fatal(err)
	}
	if watermark != "300" {
		t.Errorf("watermark = %q, want the newest fetched ID", watermark)
	}
	if !st.IsFinished("c1") {
		t.Error("channel not cached as finished for this sweep")
	}
}

func TestCrawlOneEmptyChannel(t *testing.T) {
	db := openTestDB(t)
	fetcher := &fakeHistory{pages: map[string][]*discordgo.Message{"c1": nil}}
	rec := NewReconciler(fetcher, db, 100, time.Second, nil)
	st := NewState()

	outcome, saved := rec.CrawlOne(textChannel("c1", "empty"), time.Now(), st)
	if outcome != OutcomeFinished || saved != 0 {
		t.Errorf("outcome = %v saved = %d, want finished with nothing saved", outcome, saved)
	}
	watermark, _ := db.GetLastSeenID("c1")
	if watermark != "0" {
		t.Errorf("watermark = %q, want the explicit empty marker", watermark)
	}
}

func TestCrawlOneDedup(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	fetcher := &fakeHistory{pages: map[string][]*discordgo.Message{
		"c1": {msg("200", "c1", now), msg("100", "c1", now.Add(-time.Minute))},
	}}
	rec := NewReconciler(fetcher, db, 100, time.Second, nil)

	_, saved := rec.CrawlOne(textChannel("c1", "general"), now.Add(-time.Hour), NewState())
	if saved != 2 {
		t.Fatalf("first pass saved = %d, want 2", saved)
	}
	// Same page again, fresh sweep state: nothing new to persist.
	_, saved = rec.CrawlOne(textChannel("c1", "general"), now.Add(-time.Hour), NewState())
	if saved != 0 {
		t.Errorf("second pass saved = %d, want 0", saved)
	}
}

func TestCrawlOnePermissionLoss(t *testing.T) {
	db := openTestDB(t)
	fetcher := &fakeHistory{errs: map[string]error{"c1": restError(403)}}
	rec := NewReconciler(fetcher, db, 100, time.Second, nil)
	st := NewState()

	outcome, _ := rec.CrawlOne(textChannel("c1", "secret"), time.Now(), st)
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped on 403", outcome)
	}
	if !st.IsInaccessible("c1") {
		t.Error("channel not cached as inaccessible")
	}

	channels, err := db.ListChannels()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range channels {
		if c.ChanID == "c1" {
			found = true
			if c.Accessible {
				t.Error("accessibility flag not persisted")
			}
		}
	}
	if !found {
		t.Fatal("channel row missing")
	}

	// Cached: the next pass must not hit the API again.
	calls := fetcher.calls
	outcome, _ = rec.CrawlOne(textChannel("c1", "secret"), time.Now(), st)
	if outcome != OutcomeSkipped {
		t.Errorf("cached outcome = %v, want skipped", outcome)
	}
	if fetcher.calls != calls {
		t.Error("inaccessible channel was fetched again")
	}
}

func TestCrawlOneTransientErrors(t *testing.T) {
	db := openTestDB(t)
	st := NewState()

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"timeout", context.DeadlineExceeded},
		{"rate limit", restError(429)},
		{"server error", restError(503)},
	} {
		fetcher := &fakeHistory{errs: map[string]error{"c1": tc.err}}
		rec := NewReconciler(fetcher, db, 100, time.Second, nil)
		outcome, _ := rec.CrawlOne(textChannel("c1", "general"), time.Now(), st)
		if outcome != OutcomeIncomplete {
			t.Errorf("%s: outcome = %v, want incomplete", tc.name, outcome)
		}
		if st.IsInaccessible("c1") || st.IsFinished("c1") {
			t.Errorf("%s: transient error must not cache the channel", tc.name)
		}
	}
}

func TestCrawlOneSkipsForums(t *testing.T) {
	db := openTestDB(t)
	fetcher := &fakeHistory{}
	rec := NewReconciler(fetcher, db, 100, time.Second, []string{"f2"})

	forum := &discordgo.Channel{ID: "f1", Name: "forum", Type: discordgo.ChannelTypeGuildForum}
	outcome, _ := rec.CrawlOne(forum, time.Now(), NewState())
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped for forum containers", outcome)
	}
	if fetcher.calls != 0 {
		t.Error("forum container history should never be fetched")
	}

	if !rec.SkipsForum("f2") || rec.SkipsForum("f1") {
		t.Error("configured forum skip set wrong")
	}
}

func TestStateSweepLifecycle(t *testing.T) {
	st := NewState()
	st.MarkFinished("c1")
	st.MarkInaccessible("c2")

	st.ResetFinished()
	if st.IsFinished("c1") {
		t.Error("finished cache must clear between sweeps")
	}
	if !st.IsInaccessible("c2") {
		t.Error("inaccessible cache must survive between sweeps")
	}

	if n := st.ClearInaccessible(); n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}
	if st.IsInaccessible("c2") {
		t.Error("inaccessible cache not emptied")
	}
}
