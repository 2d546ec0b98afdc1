// ABOUTME: Wire encoding for audio frames
// ABOUTME: Frames travel as raw little-endian float32 bytes in WebSocket binary messages
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFrame serializes a frame as little-endian float32 bytes, the format
// viewers receive on the audio stream.
func EncodeFrame(frame Frame) []byte {
	out := make([]byte, len(frame)*4)
	for i, s := range frame {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFrame parses a binary audio message back into samples.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("audio message length %d is not a multiple of 4", len(data))
	}
	frame := make(Frame, len(data)/4)
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return frame, nil
}
