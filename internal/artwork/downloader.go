// ABOUTME: Artwork downloader for the now-playing track's album art
// ABOUTME: Downloads images once and serves them from a temp-dir cache
package artwork

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Downloader manages artwork downloads
type Downloader struct {
	cacheDir string
	client   *http.Client

	mu          sync.Mutex
	currentPath string
}

// NewDownloader creates a new artwork downloader
func NewDownloader() (*Downloader, error) {
	cacheDir := filepath.Join(os.TempDir(), "jamstream-artwork")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Downloader{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Download fetches artwork from url and returns the cached file path. A
// repeated URL is served from cache without a network round trip.
func (d *Downloader) Download(url string) (string, error) {
	if url == "" {
		return "", nil
	}

	hash := sha256.Sum256([]byte(url))
	filename := fmt.Sprintf("%x%s", hash[:8], getExtension(url))
	cachePath := filepath.Join(d.cacheDir, filename)

	if _, err := os.Stat(cachePath); err == nil {
		d.setCurrent(cachePath)
		return cachePath, nil
	}

	log.Printf("Downloading artwork: %s", url)
	resp, err := d.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(cachePath)
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(cachePath)
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	d.setCurrent(cachePath)
	return cachePath, nil
}

func (d *Downloader) setCurrent(path string) {
	d.mu.Lock()
	d.currentPath = path
	d.mu.Unlock()
}

// CurrentPath returns the path of the most recently fetched artwork.
func (d *Downloader) CurrentPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPath
}

// getExtension extracts file extension from URL
func getExtension(url string) string {
	url = strings.Split(url, "?")[0]
	ext := filepath.Ext(url)
	if ext == "" {
		ext = ".jpg"
	}
	return ext
}

// Cleanup removes all cached artwork
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.cacheDir)
}
