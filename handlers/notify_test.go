package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discord-archiver/models"
)

func TestViewerNotifierPostsJSON(t *testing.T) {
	received := make(chan models.GMNotification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n models.GMNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- n
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewViewerNotifier(srv.URL)
	notifier.NotifyGMPost(models.GMNotification{
		ID:          "100",
		ChannelID:   "c1",
		ChannelName: "story",
		AuthorName:  "The Narrator",
		Content:     "a new chapter",
		Timestamp:   1000,
	})

	select {
	case n := <-received:
		if n.ID != "100" || n.AuthorName != "The Narrator" {
			t.Errorf("unexpected payload: %+v", n)
		}
	default:
		t.Fatal("notification never arrived")
	}
}

func TestViewerNotifierSwallowsFailures(t *testing.T) {
	// Unreachable target: the call must return without error or panic.
	notifier := NewViewerNotifier("http://127.0.0.1:1/api/notify_gm_post")
	notifier.NotifyGMPost(models.GMNotification{ID: "100"})
}
