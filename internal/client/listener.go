// ABOUTME: Jam listener client: joins a session and streams the live audio
// ABOUTME: WebSocket frames go straight to a playback sink; leaves on shutdown
package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// Config holds listener configuration
type Config struct {
	ServerAddr string // host:port
	Identity   string
	Token      string // jam API bearer token; empty if the server runs open
}

// FrameSink consumes canonical LE f32 frames. The real sink is the local
// audio device; tests collect frames instead.
type FrameSink interface {
	Write(frame []byte) error
	Close() error
}

// Listener connects to a jamstream server and plays the session audio.
type Listener struct {
	config Config
	sink   FrameSink
	http   *http.Client
}

func NewListener(config Config, sink FrameSink) *Listener {
	return &Listener{
		config: config,
		sink:   sink,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *Listener) apiURL(path string) string {
	return fmt.Sprintf("http://%s%s", l.config.ServerAddr, path)
}

func (l *Listener) post(path string) error {
	req, err := http.NewRequest(http.MethodPost, l.apiURL(path), nil)
	if err != nil {
		return err
	}
	if l.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.config.Token)
	}
	req.Header.Set("X-Jam-Identity", l.config.Identity)
	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return nil
}

// Run joins the session, streams audio until the broadcast ends or ctx is
// cancelled, and leaves on the way out. A normal server close (session
// ended, no broadcast) returns nil.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.post("/api/jam/join"); err != nil {
		return fmt.Errorf("joining session: %w", err)
	}
	defer func() {
		if err := l.post("/api/jam/leave"); err != nil {
			log.Printf("Leave failed: %v", err)
		}
	}()
	defer l.sink.Close()

	u := url.URL{
		Scheme:   "ws",
		Host:     l.config.ServerAddr,
		Path:     "/api/jam/audio",
		RawQuery: "identity=" + url.QueryEscape(l.config.Identity),
	}
	h := http.Header{}
	if l.config.Token != "" {
		h.Set("Authorization", "Bearer "+l.config.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("connecting audio stream: %w", err)
	}
	defer conn.Close()

	log.Printf("Listening to %s as %s", l.config.ServerAddr, l.config.Identity)

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	frames := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Broadcast ended after %d frames", frames)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio stream: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(data) != audio.FrameBytes {
			log.Printf("Dropping malformed frame of %d bytes", len(data))
			continue
		}
		if err := l.sink.Write(data); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		frames++
	}
}
