// ABOUTME: Converts raw captured PCM of any negotiated bit depth to float32
// ABOUTME: Branches on the session format; unknown depths degrade to a logged best-effort read
package audio

import (
	"encoding/binary"
	"log"
	"math"
)

// Conversion identifies which normalization branch handled a chunk. Tests
// assert on it so the best-effort fallback can't silently absorb real formats.
type Conversion int

const (
	ConvFloat32 Conversion = iota
	ConvInt16
	ConvInt24
	ConvBestEffort
)

func (c Conversion) String() string {
	switch c {
	case ConvFloat32:
		return "float32"
	case ConvInt16:
		return "int16"
	case ConvInt24:
		return "int24"
	default:
		return "best-effort"
	}
}

// Normalize converts a raw capture chunk to interleaved float32 samples at
// the chunk's native rate and channel count. Native float32 is reinterpreted
// directly; 16-bit and 24-bit integer PCM are scaled to [-1, 1]. Anything
// else is read as float32 bytes as a lossy fallback rather than an error.
func Normalize(chunk RawChunk) ([]float32, Conversion) {
	data := chunk.Data

	switch {
	case chunk.Format.Float:
		return bytesToFloat32(data), ConvFloat32

	case chunk.Format.BitsPerSample == 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(s) / 32768.0
		}
		return out, ConvInt16

	case chunk.Format.BitsPerSample == 24:
		n := len(data) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			raw := int32(data[i*3]) | int32(data[i*3+1])<<8 | int32(data[i*3+2])<<16
			if raw&0x800000 != 0 {
				raw |= ^int32(0xFFFFFF)
			}
			out[i] = float32(raw) / 8388608.0
		}
		return out, ConvInt24

	default:
		log.Printf("Normalize: unknown sample layout (%d-bit, float=%v), reading as float32",
			chunk.Format.BitsPerSample, chunk.Format.Float)
		return bytesToFloat32(data), ConvBestEffort
	}
}

func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
