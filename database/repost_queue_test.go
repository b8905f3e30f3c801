package database

import (
	"testing"
	"time"
)

// seedGMPost archives a post authored by a flagged GM.
func seedGMPost(t *testing.T, db *DB, postID, chanID, authorID string, createdTS int64) {
	t.Helper()
	if err := db.SeedGMData([]string{authorID}, nil); err != nil {
		t.Fatalf("SeedGMData: %v", err)
	}
	mustSave(t, db, testPost(postID, chanID, authorID, "content "+postID, createdTS),
		testMember(authorID, "gm-"+authorID), testChannel(chanID, "ch-"+chanID))
}

func TestEnqueueAndReadyReposts(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	fresh := time.Now().UnixMilli()

	seedGMPost(t, db, "1", "c1", "gm1", old)
	seedGMPost(t, db, "2", "c1", "gm1", fresh)

	if err := db.EnqueueRepost("1", "c1", old); err != nil {
		t.Fatalf("EnqueueRepost: %v", err)
	}
	if err := db.EnqueueRepost("2", "c1", fresh); err != nil {
		t.Fatalf("EnqueueRepost: %v", err)
	}

	ready, err := db.ReadyReposts(5*time.Minute, 10)
	if err != nil {
		t.Fatalf("ReadyReposts: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("ready = %d, want 1 (only the old entry)", len(ready))
	}
	if ready[0].PostID != "1" {
		t.Errorf("ready entry = %s, want 1", ready[0].PostID)
	}
}

func TestReadyRepostsOrderAndLimit(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, id := range []string{"3", "1", "2"} {
		seedGMPost(t, db, id, "c1", "gm1", base+int64(i))
	}
	// Enqueue out of order; readiness follows enqueue time, oldest first.
	if err := db.EnqueueRepost("3", "c1", base+3000); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueRepost("1", "c1", base+1000); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueRepost("2", "c1", base+2000); err != nil {
		t.Fatal(err)
	}

	ready, err := db.ReadyReposts(time.Minute, 2)
	if err != nil {
		t.Fatalf("ReadyReposts: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("ready = %d, want limit of 2", len(ready))
	}
	if ready[0].PostID != "1" || ready[1].PostID != "2" {
		t.Errorf("order = %s,%s, want 1,2", ready[0].PostID, ready[1].PostID)
	}
}

func TestEnqueueRepostDedup(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-time.Hour).UnixMilli()
	seedGMPost(t, db, "1", "c1", "gm1", old)

	if err := db.EnqueueRepost("1", "c1", old); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueRepost("1", "c1", old+500); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.queryRow(`SELECT COUNT(*) FROM repost_queue`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("queue rows = %d, want 1", count)
	}

	var enqueued int64
	if err := db.queryRow(`SELECT enqueued_at FROM repost_queue WHERE post_id = ?`, "1").Scan(&enqueued); err != nil {
		t.Fatal(err)
	}
	if enqueued != old+500 {
		t.Errorf("enqueued_at = %d, want the later timestamp", enqueued)
	}
}

func TestReadyRepostsExcludesDeletedAndNonGM(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-time.Hour).UnixMilli()
	seedGMPost(t, db, "1", "c1", "gm1", old)
	mustSave(t, db, testPost("2", "c1", "pleb", "x", old),
		testMember("pleb", "bob"), testChannel("c1", "general"))

	if err := db.EnqueueRepost("1", "c1", old); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueRepost("2", "c1", old); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkDeleted("1", "c1", "gm1", old+1); err != nil {
		t.Fatal(err)
	}

	ready, err := db.ReadyReposts(time.Minute, 10)
	if err != nil {
		t.Fatalf("ReadyReposts: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("ready = %d, want 0 (deleted post and non-GM author filtered)", len(ready))
	}
}

func TestRemoveRepost(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-time.Hour).UnixMilli()
	seedGMPost(t, db, "1", "c1", "gm1", old)
	if err := db.EnqueueRepost("1", "c1", old); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveRepost("1"); err != nil {
		t.Fatalf("RemoveRepost: %v", err)
	}

	ready, err := db.ReadyReposts(time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Errorf("ready = %d after removal, want 0", len(ready))
	}
}

func TestMarkRepostSourceDeleted(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-time.Hour).UnixMilli()
	seedGMPost(t, db, "1", "c1", "gm1", old)
	if err := db.EnqueueRepost("1", "c1", old); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkRepostSourceDeleted("1"); err != nil {
		t.Fatalf("MarkRepostSourceDeleted: %v", err)
	}

	post, err := db.GetPost("1")
	if err != nil {
		t.Fatal(err)
	}
	if !post.Deleted {
		t.Error("post should be flagged deleted")
	}

	var count int
	if err := db.queryRow(`SELECT COUNT(*) FROM repost_queue`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("queue rows = %d, want 0", count)
	}
}
