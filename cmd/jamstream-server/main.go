// ABOUTME: Entry point for the jamstream server
// ABOUTME: Parses CLI flags and runs the jam control plane
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Parlor-Chat/jamstream-go/internal/server"
	"github.com/Parlor-Chat/jamstream-go/internal/version"
)

var (
	port       = flag.Int("port", 8942, "Jam API port")
	name       = flag.String("name", "", "Server friendly name (default: hostname-jamstream)")
	targetExe  = flag.String("target-exe", "Spotify.exe", "Process whose audio is captured")
	devSource  = flag.String("dev-source", "", "Replace capture with a dev source: tone, an .mp3 path, or a .flac path")
	musicURL   = flag.String("music-url", "https://api.spotify.com", "Music service base URL")
	musicToken = flag.String("music-token", "", "Music service access token (or JAM_MUSIC_TOKEN)")
	authToken  = flag.String("auth-token", "", "Bearer token protecting the jam API (empty: open)")
	grace      = flag.Duration("grace", 30*time.Second, "How long an empty session lingers before auto-ending")
	logFile    = flag.String("log-file", "jamstream-server.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI     = flag.Bool("tui", false, "Show the status TUI instead of streaming logs")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if *useTUI {
		// TUI owns the terminal; log only to file.
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-jamstream", hostname)
	}

	token := *musicToken
	if token == "" {
		token = os.Getenv("JAM_MUSIC_TOKEN")
	}

	log.Printf("Starting %s %s: %s on port %d", version.Product, version.Version, serverName, *port)
	if *debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", *logFile)
	log.Printf("Press Ctrl-C to stop")

	config := server.Config{
		Port:         *port,
		Name:         serverName,
		EnableMDNS:   !*noMDNS,
		Debug:        *debug,
		UseTUI:       *useTUI,
		TargetExe:    *targetExe,
		DevSource:    *devSource,
		MusicBaseURL: *musicURL,
		MusicToken:   token,
		AuthToken:    *authToken,
		Grace:        *grace,
	}

	srv := server.New(config)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}
