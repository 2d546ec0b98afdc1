// ABOUTME: Process-scoped loopback capture engine and target process lookup
// ABOUTME: Capture is Windows-only; other platforms report ErrUnsupported instead of emulating
package capture

import (
	"errors"
	"sync"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// MinWindowsBuild is the first Windows build that ships the process-loopback
// activation API. Older builds silently misbehave, so the engine refuses to
// try below it.
const MinWindowsBuild = 20348

var (
	// ErrUnsupported: the platform or OS build cannot do process loopback.
	// Permanent for this machine.
	ErrUnsupported = errors.New("process loopback capture not supported on this platform")

	// ErrProcessNotFound: the target executable has no capturable window
	// right now. Transient; retry once the process is running.
	ErrProcessNotFound = errors.New("target process not found")

	// ErrActivationFailed: the OS rejected stream activation. Transient.
	ErrActivationFailed = errors.New("audio interface activation failed")

	// ErrActivationTimeout: activation did not complete within the bounded
	// wait. Transient.
	ErrActivationTimeout = errors.New("audio interface activation timed out")
)

// How long to wait for asynchronous activation before giving up, and how
// often the read loop wakes to re-check the stop flag.
const (
	activationTimeoutSecs = 5
	eventWaitMillis       = 100
)

// ProcessInfo describes a window-owning process eligible for capture.
type ProcessInfo struct {
	PID     uint32
	Title   string
	ExeName string
}

// Engine starts capture sessions. The zero value is ready to use.
// Probe, when set, replaces the platform capability check (tests inject
// failures without a registry).
type Engine struct {
	Probe       func() error
	ChunkBuffer int // hand-off channel depth; defaults to 64 chunks
}

func (e *Engine) probe() error {
	if e.Probe != nil {
		return e.Probe()
	}
	return platformSupportsProcessLoopback()
}

func (e *Engine) chunkBuffer() int {
	if e.ChunkBuffer > 0 {
		return e.ChunkBuffer
	}
	return 64
}

// Start begins capturing the output audio of pid (including its child
// processes) on a dedicated OS thread. It fails fast with ErrUnsupported
// before touching the audio stack when the platform can't do it.
func (e *Engine) Start(pid uint32) (*Handle, error) {
	if err := e.probe(); err != nil {
		return nil, err
	}
	return startCapture(e, pid)
}

// Handle owns one running capture session: the dedicated thread and the
// shared stop signal. At most one session should exist per process; the
// session lifecycle coordinator enforces that by replacing, never stacking,
// handles.
type Handle struct {
	chunks   chan audio.RawChunk
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Chunks is the hand-off channel carrying raw captured buffers. It is
// closed when the capture thread exits, for any reason.
func (h *Handle) Chunks() <-chan audio.RawChunk {
	return h.chunks
}

// Stop signals the capture thread and blocks until it has fully exited and
// released its OS resources. Idempotent; safe from any goroutine. Worst-case
// latency is one event-wait timeout (~100ms) because the thread polls the
// stop signal rather than being woken eagerly.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

func newHandle(buffer int) *Handle {
	return &Handle{
		chunks: make(chan audio.RawChunk, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}
