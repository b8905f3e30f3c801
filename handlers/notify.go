package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"discord-archiver/models"
)

// ViewerNotifier pushes GM post notifications to the viewer's ingest
// endpoint. Delivery is best-effort; failures never surface to the
// event handlers.
type ViewerNotifier struct {
	url    string
	client *http.Client
}

// NewViewerNotifier returns a notifier for the given endpoint URL.
func NewViewerNotifier(url string) *ViewerNotifier {
	return &ViewerNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyGMPost posts the notification payload and swallows any failure.
func (v *ViewerNotifier) NotifyGMPost(n models.GMNotification) {
	if v == nil || v.url == "" {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	resp, err := v.client.Post(v.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return
	}
	resp.Body.Close()
}
