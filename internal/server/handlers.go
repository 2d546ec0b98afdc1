// ABOUTME: HTTP handlers for the jam API
// ABOUTME: Session lifecycle, queue management, search, and state snapshots
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/Parlor-Chat/jamstream-go/internal/jam"
	"github.com/Parlor-Chat/jamstream-go/internal/music"
)

// Authorizer maps a request to a caller identity. The full credential layer
// lives in the surrounding deployment; the server only needs a verified
// identity string per request.
type Authorizer interface {
	Authorize(r *http.Request) (identity string, err error)
}

var errUnauthorized = errors.New("unauthorized")

// StaticTokenAuthorizer accepts a shared bearer token and reads the caller
// identity from the X-Jam-Identity header. An empty token disables the
// bearer check (local development).
type StaticTokenAuthorizer struct {
	token string
}

func NewStaticTokenAuthorizer(token string) *StaticTokenAuthorizer {
	return &StaticTokenAuthorizer{token: token}
}

func (a *StaticTokenAuthorizer) Authorize(r *http.Request) (string, error) {
	if a.token != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != a.token {
			return "", errUnauthorized
		}
	}
	identity := r.Header.Get("X-Jam-Identity")
	if identity == "" {
		// WebSocket clients can't always set headers; allow a query param.
		identity = r.URL.Query().Get("identity")
	}
	if identity == "" {
		return "", errors.New("missing identity")
	}
	return identity, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/jam/start", s.withIdentity(s.handleStart))
	s.mux.HandleFunc("/api/jam/stop", s.withIdentity(s.handleStop))
	s.mux.HandleFunc("/api/jam/join", s.withIdentity(s.handleJoin))
	s.mux.HandleFunc("/api/jam/leave", s.withIdentity(s.handleLeave))
	s.mux.HandleFunc("/api/jam/state", s.withIdentity(s.handleState))
	s.mux.HandleFunc("/api/jam/queue", s.withIdentity(s.handleQueue))
	s.mux.HandleFunc("/api/jam/queue-remove", s.withIdentity(s.handleQueueRemove))
	s.mux.HandleFunc("/api/jam/skip", s.withIdentity(s.handleSkip))
	s.mux.HandleFunc("/api/jam/search", s.withIdentity(s.handleSearch))
	s.mux.HandleFunc("/api/jam/artwork", s.withIdentity(s.handleArtwork))
	s.mux.HandleFunc("/api/jam/audio", s.handleAudio)
}

// withIdentity authenticates the request and rejects traffic during
// shutdown.
func (s *Server) withIdentity(h func(w http.ResponseWriter, r *http.Request, identity string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.shuttingDown() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		identity, err := s.auth.Authorize(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		h(w, r, identity)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// writeSessionError maps session errors to HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jam.ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, jam.ErrNotActive):
		status = http.StatusNotFound
	case errors.Is(err, jam.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, jam.ErrMusicNotConnected):
		status = http.StatusFailedDependency
	}
	http.Error(w, err.Error(), status)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	if err := s.session.Start(identity); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.session.State())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	if err := s.session.Stop(identity); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"stopped": true})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	if err := s.session.Join(identity); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.session.State())
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	s.session.Leave(identity)
	writeJSON(w, map[string]bool{"left": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, identity string) {
	writeJSON(w, s.session.State())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	var track music.Track
	if err := json.NewDecoder(r.Body).Decode(&track); err != nil || track.URI == "" {
		http.Error(w, "invalid track", http.StatusBadRequest)
		return
	}
	if err := s.session.QueueTrack(track); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.session.State())
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.session.RemoveFromQueue(req.Index); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.session.State())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request, identity string) {
	if !requirePost(w, r) {
		return
	}
	if err := s.session.Skip(identity); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.session.State())
}

// handleArtwork serves the album art of the currently playing track.
func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request, identity string) {
	snap := s.session.State()
	if snap.NowPlaying == nil || snap.NowPlaying.Track.ArtworkURL == "" {
		http.Error(w, "no artwork", http.StatusNotFound)
		return
	}
	if s.artwork == nil {
		http.Error(w, "artwork cache unavailable", http.StatusServiceUnavailable)
		return
	}
	path, err := s.artwork.Download(snap.NowPlaying.Track.ArtworkURL)
	if err != nil {
		log.Printf("Artwork fetch failed: %v", err)
		http.Error(w, "artwork fetch failed", http.StatusBadGateway)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, identity string) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing query", http.StatusBadRequest)
		return
	}
	tracks, err := s.music.Search(query)
	if err != nil {
		log.Printf("Search %q failed: %v", query, err)
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string][]music.Track{"tracks": tracks})
}
