// ABOUTME: Tests for the wire encoding of audio frames
// ABOUTME: Verifies little-endian float32 layout and size invariants
package audio

import "testing"

func TestEncodeFrameLayout(t *testing.T) {
	data := EncodeFrame(Frame{1.0, -1.0})

	if len(data) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(data))
	}
	// 1.0f little-endian is 00 00 80 3F.
	want := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x80, 0xBF}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("byte %d: expected %02X, got %02X", i, want[i], data[i])
		}
	}
}

func TestEncodeCanonicalFrameSize(t *testing.T) {
	if got := len(EncodeFrame(make(Frame, FrameSamples))); got != FrameBytes {
		t.Errorf("canonical frame encodes to %d bytes, expected %d", got, FrameBytes)
	}
}

func TestDecodeFrameRejectsRaggedMessage(t *testing.T) {
	if _, err := DecodeFrame(make([]byte, 7)); err == nil {
		t.Error("expected error for message length not divisible by 4")
	}
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	in := Frame{0, 0.25, -0.25, 1}
	out, err := DecodeFrame(EncodeFrame(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}
