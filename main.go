// ABOUTME: Entry point for the jamstream listener
// ABOUTME: Finds a server, joins the jam session, and plays the live stream
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Parlor-Chat/jamstream-go/internal/client"
	"github.com/Parlor-Chat/jamstream-go/internal/discovery"
	"github.com/Parlor-Chat/jamstream-go/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Server address host:port (skip mDNS discovery)")
	identity   = flag.String("identity", "", "Listener identity (default: hostname-NNNN)")
	token      = flag.String("token", "", "Jam API bearer token")
	logFile    = flag.String("log-file", "jamstream-listener.log", "Log file path")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	id := *identity
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "listener"
		}
		id = fmt.Sprintf("%s-%04d", hostname, rand.Intn(10000))
	}

	log.Printf("Starting %s listener %s as %s", version.Product, version.Version, id)

	addr := *serverAddr
	if addr == "" {
		found, err := discoverServer(10 * time.Second)
		if err != nil {
			log.Fatalf("Server discovery failed: %v (use -server host:port)", err)
		}
		addr = fmt.Sprintf("%s:%d", found.Host, found.Port)
		log.Printf("Discovered server %s at %s", found.Name, addr)
	}

	sink, err := client.NewOtoSink()
	if err != nil {
		log.Fatalf("Audio output failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, leaving session...", sig)
		cancel()
	}()

	l := client.NewListener(client.Config{
		ServerAddr: addr,
		Identity:   id,
		Token:      *token,
	}, sink)

	if err := l.Run(ctx); err != nil {
		log.Fatalf("Listener error: %v", err)
	}
	log.Printf("Listener stopped")
}

// discoverServer browses mDNS for the first advertised jamstream server.
func discoverServer(timeout time.Duration) (*discovery.ServerInfo, error) {
	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()

	log.Printf("Browsing for jamstream servers...")
	if err := mgr.Browse(); err != nil {
		return nil, err
	}

	select {
	case info := <-mgr.Servers():
		return info, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no server found within %v", timeout)
	}
}
