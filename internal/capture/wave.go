// ABOUTME: Interprets packed WAVEFORMATEX / WAVEFORMATEXTENSIBLE buffers
// ABOUTME: Offsets are fixed by the Windows ABI, not by Go struct layout
package capture

import (
	"encoding/binary"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

const (
	// WAVEFORMATEX wFormatTag
	waveFormatPCM        = 1
	waveFormatIEEEFloat  = 3
	waveFormatExtensible = 0xFFFE

	// Packed C sizes. The extensible SubFormat GUID sits after
	// wValidBitsPerSample (2) and dwChannelMask (4), at byte 24.
	waveFormatExSize = 18
	subFormatOffset  = waveFormatExSize + 2 + 4
)

// parseWaveFormat reads a packed WAVEFORMATEX buffer as the OS laid it out.
// For extensible formats the float check is SubFormat.Data1, which carries
// the base format tag.
func parseWaveFormat(buf []byte) audio.Format {
	tag := binary.LittleEndian.Uint16(buf[0:])
	f := audio.Format{
		SampleRate:    int(binary.LittleEndian.Uint32(buf[4:])),
		Channels:      int(binary.LittleEndian.Uint16(buf[2:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(buf[14:])),
		Float:         tag == waveFormatIEEEFloat,
	}
	if tag == waveFormatExtensible && len(buf) >= subFormatOffset+4 {
		f.Float = binary.LittleEndian.Uint32(buf[subFormatOffset:]) == waveFormatIEEEFloat
	}
	return f
}
