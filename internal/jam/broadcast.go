// ABOUTME: Bounded fan-out of audio frames to listener subscribers
// ABOUTME: Publish never blocks; slow subscribers lag and skip forward instead
package jam

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// Backlog is how many frames a subscriber can fall behind before it starts
// losing them. 64 frames is 1.28s of audio.
const Backlog = 64

// ErrClosed is returned by Recv once the broadcaster is closed and the
// subscriber has drained everything published before the close.
var ErrClosed = errors.New("broadcast closed")

// LaggedError reports that a subscriber fell off the backlog. The subscriber
// is repositioned at the oldest retained frame; the next Recv succeeds.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, skipped %d frames", e.Skipped)
}

// Broadcaster fans frames out to any number of subscribers through a shared
// ring. Each subscriber keeps its own cursor, so one slow listener never
// stalls the publisher or the other listeners.
type Broadcaster struct {
	mu     sync.Mutex
	ring   [Backlog]audio.Frame
	seq    uint64 // next sequence number to be written
	closed bool
	notify chan struct{} // closed and replaced on every publish
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{notify: make(chan struct{})}
}

// Publish appends a frame to the ring, overwriting the oldest slot when
// full. O(1) regardless of subscriber count. No-op after Close.
func (b *Broadcaster) Publish(f audio.Frame) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.seq%Backlog] = f
	b.seq++
	wake := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()
	close(wake)
}

// Close wakes all blocked subscribers. Frames already in the ring remain
// receivable; after they drain, Recv returns ErrClosed. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	wake := b.notify
	b.mu.Unlock()
	close(wake)
}

// Subscribe registers a cursor starting at the next frame to be published.
// Frames published before Subscribe are not delivered.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscriber{b: b, next: b.seq}
}

// Subscriber is a single reader's position in the ring. Not safe for
// concurrent use by multiple goroutines.
type Subscriber struct {
	b    *Broadcaster
	next uint64
}

// Recv returns the next frame in publish order. It blocks until a frame is
// available, the broadcaster closes, or ctx is done. A lagged subscriber
// gets a LaggedError once, repositioned to the oldest retained frame.
func (s *Subscriber) Recv(ctx context.Context) (audio.Frame, error) {
	for {
		s.b.mu.Lock()
		oldest := uint64(0)
		if s.b.seq > Backlog {
			oldest = s.b.seq - Backlog
		}
		if s.next < oldest {
			skipped := oldest - s.next
			s.next = oldest
			s.b.mu.Unlock()
			return nil, &LaggedError{Skipped: skipped}
		}
		if s.next < s.b.seq {
			f := s.b.ring[s.next%Backlog]
			s.next++
			s.b.mu.Unlock()
			return f, nil
		}
		if s.b.closed {
			s.b.mu.Unlock()
			return nil, ErrClosed
		}
		wake := s.b.notify
		s.b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
