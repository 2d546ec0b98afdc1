// ABOUTME: Chunk source abstraction feeding the jam bot
// ABOUTME: Real capture on Windows; tone/MP3/FLAC dev sources paced in real time elsewhere
package jam

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// ChunkSource produces raw audio buffers for the bot. The channel closes
// when the source ends; Stop is idempotent and blocks until the source has
// released its resources. *capture.Handle satisfies this interface directly.
type ChunkSource interface {
	Chunks() <-chan audio.RawChunk
	Stop()
}

// NewDevSource builds a development source from a spec string: "tone" (or
// empty) for a generated sine, a .mp3 path, or a .flac path. Dev sources
// loop at end of file and pace themselves at real time, so the rest of the
// pipeline behaves as if a capture session were running.
func NewDevSource(spec string) (ChunkSource, error) {
	if spec == "" || spec == "tone" {
		return NewToneSource(440), nil
	}
	if _, err := os.Stat(spec); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", spec)
	}
	switch strings.ToLower(filepath.Ext(spec)) {
	case ".mp3":
		return NewMP3Source(spec)
	case ".flac":
		return NewFLACSource(spec)
	default:
		return nil, fmt.Errorf("unsupported dev source: %s (supported: tone, .mp3, .flac)", spec)
	}
}

// pacedSource is the shared pump behind the dev sources: it calls next()
// for a chunk, sends it, and sleeps the chunk's real-time duration.
type pacedSource struct {
	chunks   chan audio.RawChunk
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newPacedSource(next func() (audio.RawChunk, error), cleanup func()) *pacedSource {
	s := &pacedSource{
		chunks: make(chan audio.RawChunk, 4),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(next, cleanup)
	return s
}

func (s *pacedSource) run(next func() (audio.RawChunk, error), cleanup func()) {
	defer close(s.done)
	defer close(s.chunks)
	if cleanup != nil {
		defer cleanup()
	}

	for {
		chunk, err := next()
		if err != nil {
			log.Printf("Dev source ended: %v", err)
			return
		}

		select {
		case s.chunks <- chunk:
		case <-s.stop:
			return
		}

		wait := time.Duration(chunk.Frames) * time.Second / time.Duration(chunk.Format.SampleRate)
		select {
		case <-time.After(wait):
		case <-s.stop:
			return
		}
	}
}

func (s *pacedSource) Chunks() <-chan audio.RawChunk { return s.chunks }

func (s *pacedSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// NewToneSource generates a continuous sine at freq Hz in the canonical
// format, 20ms per chunk.
func NewToneSource(freq float64) ChunkSource {
	format := audio.Format{
		SampleRate:    audio.TargetRate,
		Channels:      audio.TargetChannels,
		BitsPerSample: 32,
		Float:         true,
	}
	phase := 0.0
	step := 2 * math.Pi * freq / float64(audio.TargetRate)

	return newPacedSource(func() (audio.RawChunk, error) {
		buf := make([]byte, audio.FrameBytes)
		for i := 0; i < audio.SamplesPerChannel; i++ {
			v := float32(math.Sin(phase) * 0.2)
			phase += step
			bits := math.Float32bits(v)
			binary.LittleEndian.PutUint32(buf[i*8:], bits)
			binary.LittleEndian.PutUint32(buf[i*8+4:], bits)
		}
		phase = math.Mod(phase, 2*math.Pi)
		return audio.RawChunk{Data: buf, Frames: audio.SamplesPerChannel, Format: format}, nil
	}, nil)
}

// NewMP3Source streams an MP3 file through the pipeline. go-mp3 outputs
// 16-bit stereo at the file's native rate, so the chunks exercise the
// 16-bit normalization path and the resampler. Loops at EOF.
func NewMP3Source(path string) (ChunkSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	log.Printf("Dev source MP3: %s (sample rate: %d Hz)", filepath.Base(path), decoder.SampleRate())

	format := audio.Format{SampleRate: decoder.SampleRate(), Channels: 2, BitsPerSample: 16, Float: false}
	chunkFrames := decoder.SampleRate() / 50 // 20ms

	next := func() (audio.RawChunk, error) {
		buf := make([]byte, chunkFrames*4) // 2ch * int16
		n, err := io.ReadFull(decoder, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Loop: rewind and rebuild the decoder.
			if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
				return audio.RawChunk{}, seekErr
			}
			decoder, err = mp3.NewDecoder(f)
			if err != nil {
				return audio.RawChunk{}, err
			}
			if n == 0 {
				n, err = io.ReadFull(decoder, buf)
				if err != nil && err != io.ErrUnexpectedEOF {
					return audio.RawChunk{}, err
				}
			}
		} else if err != nil {
			return audio.RawChunk{}, err
		}
		frames := n / 4
		return audio.RawChunk{Data: buf[:frames*4], Frames: frames, Format: format}, nil
	}
	return newPacedSource(next, func() { f.Close() }), nil
}

// NewFLACSource streams a FLAC file. 16-bit files are packed as s16le and
// everything else as 24-bit LE, exercising the remaining normalization
// paths. Loops at EOF.
func NewFLACSource(path string) (ChunkSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	info := stream.Info
	log.Printf("Dev source FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		filepath.Base(path), info.SampleRate, info.NChannels, info.BitsPerSample)

	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)
	outBits := 24
	if bitDepth == 16 {
		outBits = 16
	}
	format := audio.Format{
		SampleRate:    int(info.SampleRate),
		Channels:      channels,
		BitsPerSample: outBits,
		Float:         false,
	}

	next := func() (audio.RawChunk, error) {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
				return audio.RawChunk{}, seekErr
			}
			stream, err = flac.New(f)
			if err != nil {
				return audio.RawChunk{}, err
			}
			frame, err = stream.ParseNext()
		}
		if err != nil {
			return audio.RawChunk{}, err
		}

		frames := int(frame.BlockSize)
		bytesPer := outBits / 8
		buf := make([]byte, frames*channels*bytesPer)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				sample := frame.Subframes[ch].Samples[i]
				if outBits == 24 && bitDepth != 24 {
					// Scale odd bit depths into 24-bit range.
					if bitDepth > 24 {
						sample >>= int32(bitDepth - 24)
					} else {
						sample <<= int32(24 - bitDepth)
					}
				}
				off := (i*channels + ch) * bytesPer
				if outBits == 16 {
					binary.LittleEndian.PutUint16(buf[off:], uint16(int16(sample)))
				} else {
					buf[off] = byte(sample)
					buf[off+1] = byte(sample >> 8)
					buf[off+2] = byte(sample >> 16)
				}
			}
		}
		return audio.RawChunk{Data: buf, Frames: frames, Format: format}, nil
	}
	return newPacedSource(next, func() { f.Close() }), nil
}
