// ABOUTME: Accumulates canonical samples and drains them as fixed 20ms frames
// ABOUTME: One Framer per capture session; not safe for concurrent use
package audio

// Framer buffers canonical-format samples and emits complete frames.
type Framer struct {
	buf []float32
}

// Push appends samples to the accumulator and returns every complete frame
// now available. Each returned frame is an independent copy; the accumulator
// keeps only the remainder.
func (f *Framer) Push(samples []float32) []Frame {
	f.buf = append(f.buf, samples...)

	var frames []Frame
	for len(f.buf) >= FrameSamples {
		frame := make(Frame, FrameSamples)
		copy(frame, f.buf[:FrameSamples])
		frames = append(frames, frame)
		f.buf = f.buf[:copy(f.buf, f.buf[FrameSamples:])]
	}
	return frames
}

// Pending returns the number of samples waiting for the next frame boundary.
func (f *Framer) Pending() int {
	return len(f.buf)
}
