// ABOUTME: Tests for nearest-neighbor resampling and channel remixing
// ABOUTME: Covers the length property, mono/stereo rules, and zero-fill
package audio

import (
	"math"
	"testing"
)

func TestConvertOutputLength(t *testing.T) {
	cases := []struct {
		name      string
		srcRate   int
		srcCh     int
		srcFrames int
	}{
		{"44100 stereo", 44100, 2, 441},
		{"44100 mono", 44100, 1, 100},
		{"96000 stereo", 96000, 2, 960},
		{"22050 mono", 22050, 1, 221},
		{"48000 mono", 48000, 1, 480},
		{"48000 5.1", 48000, 6, 128},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]float32, tc.srcFrames*tc.srcCh)
			out := Convert(in, tc.srcRate, tc.srcCh)

			wantFrames := (tc.srcFrames*TargetRate + tc.srcRate - 1) / tc.srcRate
			if len(out) != wantFrames*TargetChannels {
				t.Errorf("expected %d samples, got %d", wantFrames*TargetChannels, len(out))
			}
		})
	}
}

func TestConvertPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3, 0.4}
	out := Convert(in, TargetRate, TargetChannels)

	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d changed: %f -> %f", i, in[i], out[i])
		}
	}
}

func TestConvertMonoToStereoDuplicates(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i) / 480.0
	}

	out := Convert(in, TargetRate, 1)

	if len(out)%2 != 0 {
		t.Fatalf("stereo output has odd length %d", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if out[i] != out[i+1] {
			t.Errorf("frame %d: left %f != right %f", i/2, out[i], out[i+1])
		}
	}
}

func TestRemixStereoToMonoAverages(t *testing.T) {
	left := []float32{0.2, 0.4, 0.6}
	right := []float32{0.4, 0.6, 0.8}
	in := make([]float32, 0, 6)
	for i := range left {
		in = append(in, left[i], right[i])
	}

	out := Remix(in, TargetRate, 2, TargetRate, 1)

	if len(out) != len(left) {
		t.Fatalf("expected %d mono samples, got %d", len(left), len(out))
	}
	for i := range left {
		want := (left[i] + right[i]) / 2
		if math.Abs(float64(out[i]-want)) > 1e-6 {
			t.Errorf("frame %d: expected %f, got %f", i, want, out[i])
		}
	}
}

func TestConvertExtraChannelsZeroFill(t *testing.T) {
	// 6-channel source: only the first two channels survive, at canonical
	// rate every output frame maps 1:1 to a source frame.
	frames := 4
	in := make([]float32, frames*6)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < 6; ch++ {
			in[f*6+ch] = float32(ch+1) * 0.1
		}
	}

	out := Convert(in, TargetRate, 6)

	if len(out) != frames*TargetChannels {
		t.Fatalf("expected %d samples, got %d", frames*TargetChannels, len(out))
	}
	for f := 0; f < frames; f++ {
		if math.Abs(float64(out[f*2]-0.1)) > 1e-6 || math.Abs(float64(out[f*2+1]-0.2)) > 1e-6 {
			t.Errorf("frame %d: expected first two source channels, got %f, %f", f, out[f*2], out[f*2+1])
		}
	}
}

func TestConvertUpsampleHoldsLastFrame(t *testing.T) {
	// A single mono source frame upsampled must clamp to that frame rather
	// than read past the buffer.
	out := Convert([]float32{0.5}, 24000, 1)

	if len(out) == 0 {
		t.Fatal("expected output for single-frame input")
	}
	for i, s := range out {
		if s != 0.5 {
			t.Errorf("sample %d: expected clamped 0.5, got %f", i, s)
		}
	}
}
