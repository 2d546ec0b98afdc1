// ABOUTME: Tests for the dev chunk sources
// ABOUTME: Tone generator output format plus dev-source spec dispatch
package jam

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

func TestToneSourceProducesCanonicalChunks(t *testing.T) {
	src := NewToneSource(440)
	defer src.Stop()

	for i := 0; i < 2; i++ {
		select {
		case chunk, ok := <-src.Chunks():
			if !ok {
				t.Fatal("source closed unexpectedly")
			}
			if chunk.Frames != audio.SamplesPerChannel {
				t.Errorf("chunk %d frames = %d, want %d", i, chunk.Frames, audio.SamplesPerChannel)
			}
			if len(chunk.Data) != audio.FrameBytes {
				t.Errorf("chunk %d bytes = %d, want %d", i, len(chunk.Data), audio.FrameBytes)
			}
			want := audio.Format{SampleRate: audio.TargetRate, Channels: audio.TargetChannels, BitsPerSample: 32, Float: true}
			if chunk.Format != want {
				t.Errorf("chunk %d format = %+v", i, chunk.Format)
			}

			samples, conv := audio.Normalize(chunk)
			if conv != audio.ConvFloat32 {
				t.Errorf("tone chunks should normalize as float32, got %v", conv)
			}
			var peak float64
			for _, s := range samples {
				if a := math.Abs(float64(s)); a > peak {
					peak = a
				}
			}
			if peak == 0 || peak > 0.21 {
				t.Errorf("chunk %d peak = %v, want (0, 0.21]", i, peak)
			}
		case <-time.After(time.Second):
			t.Fatalf("no chunk %d within a second", i)
		}
	}
}

func TestToneSourceStopIsIdempotent(t *testing.T) {
	src := NewToneSource(440)
	src.Stop()
	src.Stop()

	// The channel drains and closes after Stop.
	for range src.Chunks() {
	}
}

func TestNewDevSourceDispatch(t *testing.T) {
	for _, spec := range []string{"", "tone"} {
		src, err := NewDevSource(spec)
		if err != nil {
			t.Fatalf("NewDevSource(%q): %v", spec, err)
		}
		src.Stop()
	}

	if _, err := NewDevSource("/no/such/file.mp3"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file: err = %v", err)
	}
}
