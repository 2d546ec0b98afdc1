// ABOUTME: Tests for the jam listener client
// ABOUTME: Fake jam server over httptest; collecting sink instead of a device
package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

type collectSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *collectSink) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *collectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestListenerStreamsAndLeaves(t *testing.T) {
	var joined, left bool
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jam/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Jam-Identity") != "bob-1" {
			t.Errorf("join identity = %q", r.Header.Get("X-Jam-Identity"))
		}
		joined = true
	})
	mux.HandleFunc("/api/jam/leave", func(w http.ResponseWriter, r *http.Request) {
		left = true
	})
	mux.HandleFunc("/api/jam/audio", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		frame := make([]byte, audio.FrameBytes)
		for i := 0; i < 3; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				t.Errorf("write: %v", err)
				return
			}
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "broadcast ended")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Wait for the client to close in response.
		conn.ReadMessage()
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	sink := &collectSink{}
	l := NewListener(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Identity:   "bob-1",
	}, sink)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !joined || !left {
		t.Errorf("joined=%v left=%v, want both", joined, left)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames) != 3 {
		t.Errorf("got %d frames, want 3", len(sink.frames))
	}
	for i, f := range sink.frames {
		if len(f) != audio.FrameBytes {
			t.Errorf("frame %d size = %d", i, len(f))
		}
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
}

func TestListenerJoinFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no active jam session", http.StatusNotFound)
	}))
	defer ts.Close()

	l := NewListener(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Identity:   "bob-1",
	}, &collectSink{})

	if err := l.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "joining session") {
		t.Errorf("expected join error, got %v", err)
	}
}

func TestListenerContextCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jam/join", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/jam/leave", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/jam/audio", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Send nothing; the client should exit on cancel.
		conn.ReadMessage()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	l := NewListener(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Identity:   "bob-1",
	}, &collectSink{})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
