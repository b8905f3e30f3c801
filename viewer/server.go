package viewer

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"discord-archiver/database"
	"discord-archiver/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const notificationBuffer = 50

// Server exposes the archive as a read-only JSON API and receives
// fresh-activity notifications from the bot process.
type Server struct {
	db   *database.DB
	http *http.Server

	mu            sync.Mutex
	notifications []models.GMNotification
}

// NewServer builds the viewer on addr (host:port).
func NewServer(db *database.DB, addr string) *Server {
	s := &Server{db: db}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/channels", s.handleChannels)
		r.Get("/posts/{postID}/revisions", s.handleRevisions)
		r.Get("/stats", s.handleStats)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notify_gm_post", s.handleNotify)
	})
	r.Get("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[viewer] Listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.SearchFilter{
		Query:     q.Get("q"),
		ChannelID: q.Get("channel_id"),
		AuthorID:  q.Get("author_id"),
		GMOnly:    q.Get("gm_only") == "true",
		AfterTS:   parseInt64(q.Get("after")),
		BeforeTS:  parseInt64(q.Get("before")),
		Limit:     int(parseInt64(q.Get("limit"))),
		Offset:    int(parseInt64(q.Get("offset"))),
	}

	results, err := s.db.SearchPosts(filter)
	if err != nil {
		log.Printf("[viewer] Search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []database.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.db.ListChannels()
	if err != nil {
		log.Printf("[viewer] Channel list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "channel list failed")
		return
	}
	if channels == nil {
		channels = []models.ChannelSummary{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	post, err := s.db.GetPost(postID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	revs, err := s.db.Revisions(postID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "revision lookup failed")
		return
	}
	if revs == nil {
		revs = []models.Revision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post, "revisions": revs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]string{}
	for _, key := range []string{"stats_posts", "stats_members"} {
		value, ok, err := s.db.GetMetadata(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats lookup failed")
			return
		}
		if ok {
			stats[key] = value
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleNotify ingests a fresh-activity ping from the bot. Bad payloads
// are rejected; the buffer keeps the most recent entries only.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var n models.GMNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if n.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if n.Timestamp == 0 {
		n.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	if len(s.notifications) > notificationBuffer {
		s.notifications = s.notifications[len(s.notifications)-notificationBuffer:]
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]models.GMNotification, len(s.notifications))
	copy(out, s.notifications)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Health(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[viewer] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
