// ABOUTME: Jam session lifecycle: start/stop, listeners, queue, now-playing
// ABOUTME: One session per server; host-only stop, auto-end when everyone leaves
package jam

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Parlor-Chat/jamstream-go/internal/music"
)

var (
	ErrAlreadyActive     = errors.New("a jam session is already active")
	ErrNotActive         = errors.New("no active jam session")
	ErrNotHost           = errors.New("only the host can do that")
	ErrMusicNotConnected = errors.New("music service is not connected")
	ErrNoBroadcast       = errors.New("no audio broadcast running")
)

// DefaultGrace is how long an empty session lingers before auto-ending.
const DefaultGrace = 30 * time.Second

// nowPlayingStale bounds how old a playback snapshot may get before State
// refreshes it from the music service.
const nowPlayingStale = 5 * time.Second

// identityBase strips a trailing "-NNNN" numeric suffix so reconnecting
// clients (which get a fresh suffix each connection) compare equal.
func identityBase(id string) string {
	i := strings.LastIndex(id, "-")
	if i < 0 || i == len(id)-1 {
		return id
	}
	for _, r := range id[i+1:] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:i]
}

// SessionConfig wires a Session's collaborators.
type SessionConfig struct {
	Music  music.Service
	NewBot func() (*Bot, error) // builds the capture/broadcast pipeline
	Grace  time.Duration        // empty-session auto-end delay; DefaultGrace if zero
}

// Session is the single jam session a server can run. All methods are safe
// for concurrent use.
type Session struct {
	music  music.Service
	newBot func() (*Bot, error)
	grace  time.Duration
	now    func() time.Time // injected in tests

	mu           sync.Mutex
	active       bool
	host         string
	startedAt    time.Time
	listeners    map[string]struct{} // raw identities; base-normalized at comparison time
	queue        []music.Track
	nowPlaying   *music.NowPlaying
	nowPlayingAt time.Time
	bot          *Bot
}

func NewSession(cfg SessionConfig) *Session {
	grace := cfg.Grace
	if grace == 0 {
		grace = DefaultGrace
	}
	return &Session{
		music:     cfg.Music,
		newBot:    cfg.NewBot,
		grace:     grace,
		now:       time.Now,
		listeners: make(map[string]struct{}),
	}
}

// Snapshot is the session state handed to the HTTP surface and the TUI.
type Snapshot struct {
	Active     bool              `json:"active"`
	Host       string            `json:"host,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	Listeners  []string          `json:"listeners"`
	Queue      []music.Track     `json:"queue"`
	NowPlaying *music.NowPlaying `json:"now_playing,omitempty"`
}

// Start begins a session hosted by host. The audio pipeline is spawned in
// the background; a capture failure is logged but does not fail the session,
// matching the rest of the session being useful without audio (queue,
// now-playing).
func (s *Session) Start(host string) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	if s.music == nil || !s.music.Connected() {
		s.mu.Unlock()
		return ErrMusicNotConnected
	}
	s.active = true
	s.host = host
	s.startedAt = s.now()
	s.listeners = map[string]struct{}{host: {}}
	s.queue = nil
	s.nowPlaying = nil
	s.nowPlayingAt = time.Time{}
	started := s.startedAt
	s.mu.Unlock()

	log.Printf("Jam session started by %s", host)

	go func() {
		bot, err := s.newBot()
		if err != nil {
			log.Printf("Jam audio pipeline failed to start: %v", err)
			return
		}
		s.mu.Lock()
		// The session this spawn belongs to may have ended, and another
		// may have started since; only install into the same generation.
		if !s.active || !s.startedAt.Equal(started) {
			s.mu.Unlock()
			bot.Stop()
			return
		}
		s.bot = bot
		s.mu.Unlock()
	}()
	return nil
}

// Stop ends the session. Only the host (compared by normalized identity)
// may stop it.
func (s *Session) Stop(identity string) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotActive
	}
	if identityBase(identity) != identityBase(s.host) {
		s.mu.Unlock()
		return ErrNotHost
	}
	bot := s.endLocked()
	s.mu.Unlock()

	if bot != nil {
		bot.Stop()
	}
	log.Printf("Jam session stopped by %s", identity)
	return nil
}

// endLocked clears session state and returns the bot (if any) for the
// caller to stop outside the lock.
func (s *Session) endLocked() *Bot {
	s.active = false
	s.host = ""
	s.listeners = make(map[string]struct{})
	s.queue = nil
	s.nowPlaying = nil
	bot := s.bot
	s.bot = nil
	return bot
}

// Join adds a listener. Joining also implicitly rescues a session from a
// pending auto-end, because the grace timer re-checks emptiness when it
// fires.
func (s *Session) Join(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	s.listeners[identity] = struct{}{}
	return nil
}

// Leave removes a listener. When the last one leaves, the session auto-ends
// after the grace period unless someone joins in the meantime.
func (s *Session) Leave(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	delete(s.listeners, identity)
	if len(s.listeners) == 0 {
		s.scheduleAutoEndLocked()
	}
}

// RemoveListenerByBase drops every listener whose normalized identity
// matches base. Used when the room registry reaps a stale participant.
func (s *Session) RemoveListenerByBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	for id := range s.listeners {
		if identityBase(id) == base {
			delete(s.listeners, id)
		}
	}
	if len(s.listeners) == 0 {
		s.scheduleAutoEndLocked()
	}
}

func (s *Session) scheduleAutoEndLocked() {
	started := s.startedAt
	time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		// Still the same session, still active, still empty?
		if !s.active || !s.startedAt.Equal(started) || len(s.listeners) > 0 {
			s.mu.Unlock()
			return
		}
		log.Printf("Jam session empty for %v, ending", s.grace)
		bot := s.endLocked()
		s.mu.Unlock()
		if bot != nil {
			bot.Stop()
		}
	})
}

// Subscribe attaches a listener to the live audio broadcast.
func (s *Session) Subscribe() (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, ErrNotActive
	}
	if s.bot == nil {
		return nil, ErrNoBroadcast
	}
	return s.bot.Subscribe(), nil
}

// State returns a snapshot, refreshing the now-playing view from the music
// service when the cached one is stale. A refreshed snapshot also trims the
// queue head once the queued track becomes the one actually playing.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	needRefresh := s.active && s.music != nil && s.music.Connected() &&
		(s.nowPlayingAt.IsZero() || s.now().Sub(s.nowPlayingAt) > nowPlayingStale)
	s.mu.Unlock()

	if needRefresh {
		np, err := s.music.NowPlaying()
		if err != nil {
			// Keep the last snapshot; the music service being flaky
			// shouldn't blank the UI.
			log.Printf("Now-playing refresh failed: %v", err)
		} else {
			s.mu.Lock()
			if s.active {
				s.nowPlaying = np
				s.nowPlayingAt = s.now()
				if np != nil && len(s.queue) > 0 && s.queue[0].URI == np.Track.URI {
					s.queue = s.queue[1:]
				}
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Active:     s.active,
		Host:       s.host,
		StartedAt:  s.startedAt,
		Listeners:  make([]string, 0, len(s.listeners)),
		Queue:      append([]music.Track(nil), s.queue...),
		NowPlaying: s.nowPlaying,
	}
	for id := range s.listeners {
		snap.Listeners = append(snap.Listeners, id)
	}
	return snap
}

// QueueTrack asks the music service to queue the track, then records it in
// the session queue for display.
func (s *Session) QueueTrack(track music.Track) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.mu.Unlock()

	if err := s.music.QueueTrack(track.URI); err != nil {
		log.Printf("Queueing %s failed: %v", track.URI, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.queue = append(s.queue, track)
	}
	return nil
}

// RemoveFromQueue drops the queued track at index from the session's view.
// The music service has no un-queue, so this only affects the display.
func (s *Session) RemoveFromQueue(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	if index < 0 || index >= len(s.queue) {
		return errors.New("queue index out of range")
	}
	s.queue = append(s.queue[:index], s.queue[index+1:]...)
	return nil
}

// Skip advances playback, pops the head of the session queue, and drops the
// cached now-playing so the next State refreshes it.
func (s *Session) Skip(identity string) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.mu.Unlock()

	if err := s.music.Skip(); err != nil {
		log.Printf("Skip by %s failed: %v", identity, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		if len(s.queue) > 0 {
			s.queue = s.queue[1:]
		}
		s.nowPlaying = nil
		s.nowPlayingAt = time.Time{}
	}
	return nil
}

// Active reports whether a session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
