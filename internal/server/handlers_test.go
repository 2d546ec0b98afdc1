// ABOUTME: Tests for the jam HTTP API and audio WebSocket
// ABOUTME: httptest end-to-end: fake music service, tone dev source, gorilla dialer
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
	"github.com/Parlor-Chat/jamstream-go/internal/jam"
)

func fakeMusicServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/me/player/currently-playing":
			w.WriteHeader(http.StatusNoContent)
		case "/v1/me/player/queue", "/v1/me/player/next":
			w.WriteHeader(http.StatusNoContent)
		case "/v1/search":
			w.Write([]byte(`{"tracks":{"items":[{"uri":"spotify:track:1","name":"Hit","duration_ms":1000,"artists":[{"name":"Band"}],"album":{"name":"LP"}}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	ms := fakeMusicServer(t)
	t.Cleanup(ms.Close)

	s := New(Config{
		Port:         0,
		Name:         "test",
		MusicBaseURL: ms.URL,
		MusicToken:   "music-tok",
		AuthToken:    "secret",
		DevSource:    "tone",
		Grace:        time.Minute,
	})
	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func doJam(t *testing.T, ts *httptest.Server, method, path, identity string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	if identity != "" {
		req.Header.Set("X-Jam-Identity", identity)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t)

	// No bearer token.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/jam/state", nil)
	req.Header.Set("X-Jam-Identity", "alice-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	// Token but no identity.
	resp2 := doJam(t, ts, http.MethodGet, "/api/jam/state", "", nil)
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("no identity: status = %d, want 401", resp2.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	if resp := doJam(t, ts, http.MethodPost, "/api/jam/start", "alice-1", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}
	if resp := doJam(t, ts, http.MethodPost, "/api/jam/start", "bob-1", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start: status = %d, want 409", resp.StatusCode)
	}

	var snap jam.Snapshot
	resp := doJam(t, ts, http.MethodGet, "/api/jam/state", "bob-1", nil)
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Active || snap.Host != "alice-1" {
		t.Errorf("state = %+v", snap)
	}

	if resp := doJam(t, ts, http.MethodPost, "/api/jam/stop", "bob-1", nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("stop by non-host: status = %d, want 403", resp.StatusCode)
	}
	// Host from a reconnected client (new suffix).
	if resp := doJam(t, ts, http.MethodPost, "/api/jam/stop", "alice-999", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("stop by host: status = %d", resp.StatusCode)
	}
	if resp := doJam(t, ts, http.MethodPost, "/api/jam/stop", "alice-1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("stop with no session: status = %d, want 404", resp.StatusCode)
	}
}

func TestQueueAndSearch(t *testing.T) {
	_, ts := newTestServer(t)
	doJam(t, ts, http.MethodPost, "/api/jam/start", "alice-1", nil)

	if resp := doJam(t, ts, http.MethodPost, "/api/jam/queue", "bob-1", map[string]string{"name": "x"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("queue without uri: status = %d, want 400", resp.StatusCode)
	}

	resp := doJam(t, ts, http.MethodPost, "/api/jam/queue", "bob-1",
		map[string]string{"uri": "spotify:track:9", "name": "Queued"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue: status = %d", resp.StatusCode)
	}
	var snap jam.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].URI != "spotify:track:9" {
		t.Errorf("queue = %+v", snap.Queue)
	}

	sresp := doJam(t, ts, http.MethodGet, "/api/jam/search?q=hit", "bob-1", nil)
	if sresp.StatusCode != http.StatusOK {
		t.Fatalf("search: status = %d", sresp.StatusCode)
	}
	var sr struct {
		Tracks []struct {
			URI string `json:"uri"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(sresp.Body).Decode(&sr); err != nil {
		t.Fatal(err)
	}
	if len(sr.Tracks) != 1 || sr.Tracks[0].URI != "spotify:track:1" {
		t.Errorf("search results = %+v", sr.Tracks)
	}
}

func dialAudio(t *testing.T, ts *httptest.Server, identity string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jam/audio?identity=" + identity
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	conn, resp, err := websocket.DefaultDialer.Dial(url, h)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func TestAudioWithoutSessionClosesNormally(t *testing.T) {
	_, ts := newTestServer(t)

	conn, err := dialAudio(t, ts, "bob-1")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestAudioStreamsCanonicalFrames(t *testing.T) {
	_, ts := newTestServer(t)
	if resp := doJam(t, ts, http.MethodPost, "/api/jam/start", "alice-1", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}

	// The tone pipeline attaches in the background; retry until it serves
	// frames.
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn, err := dialAudio(t, ts, "bob-1")
		if err != nil {
			t.Fatal(err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err == nil && msgType == websocket.BinaryMessage {
			if len(data) != audio.FrameBytes {
				t.Errorf("frame size = %d, want %d", len(data), audio.FrameBytes)
			}
			if _, err := audio.DecodeFrame(data); err != nil {
				t.Errorf("frame not decodable: %v", err)
			}
			conn.Close()
			return
		}
		conn.Close()
		if time.Now().After(deadline) {
			t.Fatalf("never received a frame (last: type=%d err=%v)", msgType, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
