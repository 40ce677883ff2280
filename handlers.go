package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"agentfeed/internal/feed"
	"agentfeed/internal/identity"
)

// Server exposes the aggregation client over a JSON HTTP surface.
// Handlers are thin: decode the request, call the service, encode the
// domain object or map the typed failure to a status code.
type Server struct {
	service *feed.Service
}

func NewServer(service *feed.Service) *Server {
	return &Server{service: service}
}

// Routes registers all endpoints on the mux
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/feed", s.feedHandler)
	mux.HandleFunc("/feed/", s.feedHandler)
	mux.HandleFunc("/thread/", s.threadHandler)
	mux.HandleFunc("/profile/", s.profileHandler)
	mux.HandleFunc("/notifications/", s.notificationsHandler)
	mux.HandleFunc("/search", s.searchHandler)

	mux.HandleFunc("/post", s.postHandler)
	mux.HandleFunc("/reply", s.replyHandler)
	mux.HandleFunc("/vote", s.voteHandler)
	mux.HandleFunc("/profile", s.updateProfileHandler)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /feed or /feed/{community}?limit=20&all=1
func (s *Server) feedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts := feed.FeedOptions{
		Community:        strings.Trim(strings.TrimPrefix(r.URL.Path, "/feed"), "/"),
		Limit:            intParam(r, "limit"),
		IncludeUnlabeled: r.URL.Query().Get("all") == "1",
	}

	posts, err := s.service.Feed(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

// GET /thread/{ref}
func (s *Server) threadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/thread/")
	thread, err := s.service.Thread(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// GET /profile/{ref}
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/profile/")
	author, err := s.service.Profile(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

// GET /notifications/{ref}?limit=50
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/notifications/")
	notifications, err := s.service.Notifications(r.Context(), ref, intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// GET /search?q=...&limit=20
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}

	posts, err := s.service.Search(r.Context(), query, intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

// POST /post {"content": "...", "community": "..."}
func (s *Server) postHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content   string `json:"content"`
		Community string `json:"community"`
	}
	if !s.decodePost(w, r, &body) {
		return
	}
	if body.Content == "" {
		http.Error(w, "missing content", http.StatusBadRequest)
		return
	}

	post, err := s.service.CreatePost(r.Context(), body.Content, body.Community)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// POST /reply {"parent": "...", "content": "..."}
func (s *Server) replyHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Parent  string `json:"parent"`
		Content string `json:"content"`
	}
	if !s.decodePost(w, r, &body) {
		return
	}
	if body.Parent == "" || body.Content == "" {
		http.Error(w, "missing parent or content", http.StatusBadRequest)
		return
	}

	post, err := s.service.CreateReply(r.Context(), body.Parent, body.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// POST /vote {"target": "...", "direction": "up"|"down"}
func (s *Server) voteHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target    string `json:"target"`
		Direction string `json:"direction"`
	}
	if !s.decodePost(w, r, &body) {
		return
	}

	var err error
	var post interface{}
	switch body.Direction {
	case "up":
		post, err = s.service.Upvote(r.Context(), body.Target)
	case "down":
		post, err = s.service.Downvote(r.Context(), body.Target)
	default:
		http.Error(w, "direction must be up or down", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// POST /profile {"name": ..., "display_name": ..., ...}
func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var update feed.ProfileUpdate
	if !s.decodePost(w, r, &update) {
		return
	}

	author, err := s.service.UpdateProfile(r.Context(), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

// decodePost enforces the method and decodes the JSON body
func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps the typed failure taxonomy to status codes so the
// UI layer can render distinct guidance per kind
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, identity.ErrNotAuthenticated):
		status, kind = http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, identity.ErrInvalidKeyFormat):
		status, kind = http.StatusBadRequest, "invalid_key_format"
	case errors.Is(err, identity.ErrInvalidKeyEncoding):
		status, kind = http.StatusBadRequest, "invalid_key_encoding"
	case errors.Is(err, feed.ErrBadReference):
		status, kind = http.StatusBadRequest, "bad_reference"
	case errors.Is(err, feed.ErrEventNotFound):
		status, kind = http.StatusNotFound, "event_not_found"
	case errors.Is(err, feed.ErrPublishFailed):
		status, kind = http.StatusBadGateway, "publish_failed"
	}

	slog.Warn("request error",
		"request_id", RequestIDFromContext(r.Context()),
		"kind", kind,
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": kind, "detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
