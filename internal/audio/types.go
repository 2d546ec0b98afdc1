// ABOUTME: Canonical audio format constants and core data types
// ABOUTME: Everything captured is normalized to 48kHz stereo float32 before framing
package audio

const (
	// Canonical broadcast format
	TargetRate     = 48000
	TargetChannels = 2

	// Frame timing
	FrameDurationMs   = 20
	SamplesPerChannel = (TargetRate * FrameDurationMs) / 1000    // 960
	FrameSamples      = SamplesPerChannel * TargetChannels       // 1920
	FrameBytes        = FrameSamples * 4                         // 7680
)

// Format describes the PCM layout a capture session negotiated with the OS.
// It is discovered once at stream activation and stays fixed for the
// session's lifetime.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Float         bool
}

// RawChunk is one drained capture buffer: opaque bytes in the session's
// negotiated format plus the frame count the OS reported for it. The chunk
// is owned by whoever receives it; the capture side never touches it again.
type RawChunk struct {
	Data   []byte
	Frames int
	Format Format
}

// Frame is one 20ms slice of canonical audio: 1920 interleaved float32
// samples (L/R). Frames are shared across broadcast subscribers and must
// not be mutated after construction.
type Frame []float32
