// ABOUTME: Client for the external music service the jam session proxies
// ABOUTME: Spotify-shaped REST API: now playing, search, queue, skip
package music

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Track is one playable item from the music service.
type Track struct {
	URI        string `json:"uri"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	DurationMs int    `json:"duration_ms"`
}

// NowPlaying is a playback snapshot. A nil snapshot means nothing is
// playing.
type NowPlaying struct {
	Track      Track `json:"track"`
	IsPlaying  bool  `json:"is_playing"`
	ProgressMs int   `json:"progress_ms"`
}

// Service is what the session coordinator needs from the music side.
type Service interface {
	// Connected reports whether a usable credential is configured.
	Connected() bool
	// NowPlaying returns the current playback snapshot, or nil when idle.
	NowPlaying() (*NowPlaying, error)
	// Search returns matching tracks for a free-text query.
	Search(query string) ([]Track, error)
	// QueueTrack appends a track URI to the playback queue.
	QueueTrack(uri string) error
	// Skip advances playback to the next track.
	Skip() error
}

// Client talks to a Spotify-compatible Web API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Connected() bool {
	return c.token != ""
}

func (c *Client) do(method, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("music service %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// playbackState matches the service's currently-playing payload.
type playbackState struct {
	IsPlaying  bool `json:"is_playing"`
	ProgressMs int  `json:"progress_ms"`
	Item       *struct {
		URI        string `json:"uri"`
		Name       string `json:"name"`
		DurationMs int    `json:"duration_ms"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name   string `json:"name"`
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"album"`
	} `json:"item"`
}

func (c *Client) NowPlaying() (*NowPlaying, error) {
	resp, err := c.do(http.MethodGet, "/v1/me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 204 means no active playback.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var state playbackState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decoding now-playing: %w", err)
	}
	if state.Item == nil {
		return nil, nil
	}

	np := &NowPlaying{
		Track: Track{
			URI:        state.Item.URI,
			Name:       state.Item.Name,
			Album:      state.Item.Album.Name,
			DurationMs: state.Item.DurationMs,
		},
		IsPlaying:  state.IsPlaying,
		ProgressMs: state.ProgressMs,
	}
	if len(state.Item.Artists) > 0 {
		np.Track.Artist = state.Item.Artists[0].Name
	}
	if len(state.Item.Album.Images) > 0 {
		np.Track.ArtworkURL = state.Item.Album.Images[0].URL
	}
	return np, nil
}

func (c *Client) Search(query string) ([]Track, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", "10")

	resp, err := c.do(http.MethodGet, "/v1/search", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Tracks struct {
			Items []struct {
				URI        string `json:"uri"`
				Name       string `json:"name"`
				DurationMs int    `json:"duration_ms"`
				Artists    []struct {
					Name string `json:"name"`
				} `json:"artists"`
				Album struct {
					Name   string `json:"name"`
					Images []struct {
						URL string `json:"url"`
					} `json:"images"`
				} `json:"album"`
			} `json:"items"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}

	tracks := make([]Track, 0, len(payload.Tracks.Items))
	for _, it := range payload.Tracks.Items {
		t := Track{URI: it.URI, Name: it.Name, Album: it.Album.Name, DurationMs: it.DurationMs}
		if len(it.Artists) > 0 {
			t.Artist = it.Artists[0].Name
		}
		if len(it.Album.Images) > 0 {
			t.ArtworkURL = it.Album.Images[0].URL
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (c *Client) QueueTrack(uri string) error {
	q := url.Values{}
	q.Set("uri", uri)
	resp, err := c.do(http.MethodPost, "/v1/me/player/queue", q)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Skip() error {
	resp, err := c.do(http.MethodPost, "/v1/me/player/next", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
