// ABOUTME: Jamstream control-plane server
// ABOUTME: Owns the jam session, HTTP/WebSocket surface, TUI, and mDNS advertisement
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Parlor-Chat/jamstream-go/internal/artwork"
	"github.com/Parlor-Chat/jamstream-go/internal/capture"
	"github.com/Parlor-Chat/jamstream-go/internal/discovery"
	"github.com/Parlor-Chat/jamstream-go/internal/jam"
	"github.com/Parlor-Chat/jamstream-go/internal/music"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool

	// TargetExe is the process whose audio gets captured (e.g. "Spotify.exe").
	TargetExe string
	// DevSource replaces process capture with a dev pipeline: "tone", an
	// .mp3 path, or a .flac path. Empty means real capture.
	DevSource string

	// Music service connection.
	MusicBaseURL string
	MusicToken   string

	// AuthToken protects the jam API. Empty disables auth (local dev).
	AuthToken string

	// Grace is the empty-session auto-end delay; jam.DefaultGrace if zero.
	Grace time.Duration
}

// Server is the jamstream control plane.
type Server struct {
	config   Config
	serverID string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	auth    Authorizer
	music   music.Service
	session *jam.Session
	engine  *capture.Engine
	artwork *artwork.Downloader

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	// Listener websocket bookkeeping for the TUI.
	framesSent atomic.Uint64
	audioConns atomic.Int64

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a new server instance
func New(config Config) *Server {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Trusted local network deployment; non-browser clients
				// send no Origin at all.
				return true
			},
		},
		music:     music.NewClient(config.MusicBaseURL, config.MusicToken),
		engine:    &capture.Engine{},
		auth:      NewStaticTokenAuthorizer(config.AuthToken),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	s.session = jam.NewSession(jam.SessionConfig{
		Music:  s.music,
		NewBot: s.newBot,
		Grace:  config.Grace,
	})
	dl, err := artwork.NewDownloader()
	if err != nil {
		log.Printf("Artwork cache unavailable: %v", err)
	} else {
		s.artwork = dl
	}
	s.registerRoutes()
	return s
}

// newBot builds the audio pipeline for a starting session: process capture
// by default, or the configured dev source.
func (s *Server) newBot() (*jam.Bot, error) {
	src, err := s.newChunkSource()
	if err != nil {
		return nil, err
	}
	return jam.StartBot(src), nil
}

func (s *Server) newChunkSource() (jam.ChunkSource, error) {
	if s.config.DevSource != "" {
		return jam.NewDevSource(s.config.DevSource)
	}
	pid, err := capture.FindTargetPID(s.config.TargetExe)
	if err != nil {
		return nil, err
	}
	log.Printf("Capturing %s (PID %d)", s.config.TargetExe, pid)
	return s.engine.Start(pid)
}

// Start runs the server until Stop, a TUI quit, or an HTTP failure.
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start(s.config.Name, s.config.Port)
		}()

		// Give the TUI time to take over the terminal.
		time.Sleep(100 * time.Millisecond)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pushTUIStatus()
		}()
	}

	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)
	if !s.music.Connected() {
		log.Printf("Warning: no music service token configured; jam sessions cannot start")
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("Jam API listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	// End any running session so the capture thread exits before the
	// process does.
	if snap := s.session.State(); snap.Active {
		if err := s.session.Stop(snap.Host); err != nil {
			log.Printf("Error ending session on shutdown: %v", err)
		}
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShutdown
}

// pushTUIStatus feeds the TUI a fresh snapshot once a second.
func (s *Server) pushTUIStatus() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			snap := s.session.State()
			status := JamStatus{
				Name:          s.config.Name,
				Port:          s.config.Port,
				SessionActive: snap.Active,
				Host:          snap.Host,
				Listeners:     snap.Listeners,
				QueueLen:      len(snap.Queue),
				AudioConns:    int(s.audioConns.Load()),
				FramesSent:    s.framesSent.Load(),
			}
			if snap.NowPlaying != nil {
				status.NowPlaying = fmt.Sprintf("%s by %s", snap.NowPlaying.Track.Name, snap.NowPlaying.Track.Artist)
			}
			s.tui.Update(status)
		}
	}
}
