// ABOUTME: Tests for the capture engine's platform probe and handle lifecycle
// ABOUTME: Runs on every platform; the probe is injected so no audio stack is needed
package capture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

func TestStartFailsFastWhenProbeFails(t *testing.T) {
	e := &Engine{Probe: func() error {
		return fmt.Errorf("%w: Windows build 19045, need %d or later", ErrUnsupported, MinWindowsBuild)
	}}

	h, err := e.Start(1234)
	if h != nil {
		t.Fatal("expected no handle when the probe fails")
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestProbeErrorsAreDistinguishable(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"unsupported", fmt.Errorf("%w: build too old", ErrUnsupported), ErrUnsupported},
		{"process missing", fmt.Errorf("%w: Spotify.exe", ErrProcessNotFound), ErrProcessNotFound},
		{"activation failed", fmt.Errorf("%w: HRESULT 0x88890008", ErrActivationFailed), ErrActivationFailed},
		{"activation timeout", ErrActivationTimeout, ErrActivationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.target)
			}
			for _, other := range tests {
				if other.target != tt.target && errors.Is(tt.err, other.target) {
					t.Errorf("%v unexpectedly matches %v", tt.err, other.target)
				}
			}
		})
	}
}

func TestChunkBufferDefaults(t *testing.T) {
	e := &Engine{}
	if got := e.chunkBuffer(); got != 64 {
		t.Errorf("default chunk buffer = %d, want 64", got)
	}
	e.ChunkBuffer = 8
	if got := e.chunkBuffer(); got != 8 {
		t.Errorf("chunk buffer = %d, want 8", got)
	}
}

func TestHandleStopIsIdempotentAndBlocksUntilDone(t *testing.T) {
	h := newHandle(4)

	// Stand-in for the capture thread: drain the stop signal, then close
	// the channels the way the real thread does on exit.
	go func() {
		<-h.stop
		close(h.chunks)
		close(h.done)
	}()

	h.Stop()
	h.Stop() // second call must not panic

	if _, ok := <-h.Chunks(); ok {
		t.Error("chunks channel should be closed after Stop returns")
	}
}

func TestHandleChunksCarriesData(t *testing.T) {
	h := newHandle(1)
	want := audio.RawChunk{
		Data:   []byte{1, 2, 3, 4},
		Frames: 1,
		Format: audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 32, Float: true},
	}
	h.chunks <- want
	close(h.chunks)
	close(h.done)

	got, ok := <-h.Chunks()
	if !ok {
		t.Fatal("expected a chunk")
	}
	if got.Frames != want.Frames || got.Format != want.Format || len(got.Data) != len(want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
