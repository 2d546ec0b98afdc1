// ABOUTME: The jam bot: pulls raw chunks, normalizes to canonical frames, broadcasts
// ABOUTME: One bot per session; owns its source and broadcaster lifecycles
package jam

import (
	"log"
	"sync"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// Bot runs the session's audio pipeline: source chunks are normalized to
// f32, converted to 48kHz stereo, sliced into 20ms frames, and published.
type Bot struct {
	source   ChunkSource
	bcast    *Broadcaster
	stopOnce sync.Once
	done     chan struct{}
}

// StartBot begins pumping the source into a fresh broadcaster.
func StartBot(source ChunkSource) *Bot {
	b := &Bot{
		source: source,
		bcast:  NewBroadcaster(),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bot) run() {
	defer close(b.done)
	defer b.bcast.Close()

	var framer audio.Framer
	warned := false
	frames := 0
	for chunk := range b.source.Chunks() {
		samples, conv := audio.Normalize(chunk)
		if conv == audio.ConvBestEffort && !warned {
			log.Printf("Jam bot: unknown capture format %+v, treating as float32", chunk.Format)
			warned = true
		}
		samples = audio.Convert(samples, chunk.Format.SampleRate, chunk.Format.Channels)
		for _, f := range framer.Push(samples) {
			b.bcast.Publish(f)
			frames++
		}
	}
	log.Printf("Jam bot: source ended after %d frames", frames)
}

// Subscribe attaches a listener to the live broadcast.
func (b *Bot) Subscribe() *Subscriber {
	return b.bcast.Subscribe()
}

// Stop tears the pipeline down in order: stop the source (joins capture),
// wait for the pump to drain, then the broadcaster closes so subscribers
// see ErrClosed after the backlog. Idempotent; safe from any goroutine.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.source.Stop()
	})
	<-b.done
}
