// ABOUTME: WebSocket endpoint streaming live jam audio to listeners
// ABOUTME: Binary messages of 7680-byte LE f32 frames; lagged listeners skip forward
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
	"github.com/Parlor-Chat/jamstream-go/internal/jam"
)

const (
	audioWriteDeadline = 10 * time.Second
	pingInterval       = 30 * time.Second
)

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	identity, err := s.auth.Authorize(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub, err := s.session.Subscribe()
	if err != nil {
		// No session or no audio pipeline: close cleanly so the client
		// treats it as "nothing to hear", not a failure.
		closeNormal(conn, err.Error())
		return
	}

	log.Printf("Audio listener connected: %s (%s)", identity, r.RemoteAddr)
	s.audioConns.Add(1)
	defer s.audioConns.Add(-1)
	defer log.Printf("Audio listener disconnected: %s", identity)

	// The listener never sends data; the reader exists to notice the close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Keepalive during capture silence, when no frames flow. WriteControl
	// is safe concurrently with WriteMessage.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(audioWriteDeadline))
			case <-pingDone:
				return
			}
		}
	}()

	for {
		frame, err := sub.Recv(ctx)
		if err != nil {
			var lagged *jam.LaggedError
			switch {
			case errors.As(err, &lagged):
				if s.config.Debug {
					log.Printf("[DEBUG] Listener %s lagged, skipped %d frames", identity, lagged.Skipped)
				}
				continue
			case errors.Is(err, jam.ErrClosed):
				closeNormal(conn, "broadcast ended")
				return
			default:
				// Context done: the listener went away.
				return
			}
		}

		conn.SetWriteDeadline(time.Now().Add(audioWriteDeadline))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodeFrame(frame)); err != nil {
			return
		}
		s.framesSent.Add(1)
	}
}

func closeNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
