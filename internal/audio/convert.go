// ABOUTME: Resamples and remixes normalized samples between rates and channel layouts
// ABOUTME: Nearest-neighbor index mapping; trades light aliasing for zero filter latency
package audio

// Convert resamples interleaved float32 samples to the canonical
// TargetRate/TargetChannels. See Remix for the conversion rules.
func Convert(samples []float32, srcRate, srcChannels int) []float32 {
	return Remix(samples, srcRate, srcChannels, TargetRate, TargetChannels)
}

// Remix resamples interleaved float32 samples from srcRate/srcChannels to
// dstRate/dstChannels using nearest-neighbor index mapping (source index =
// outIndex*srcRate/dstRate, clamped to the last source frame). Channel
// reconciliation: same count passes through, mono is duplicated to stereo,
// stereo is averaged to mono, anything else copies matching channels and
// zero-fills the rest.
//
// Output length is always ceil(srcFrames*dstRate/srcRate) * dstChannels.
func Remix(samples []float32, srcRate, srcChannels, dstRate, dstChannels int) []float32 {
	if srcRate <= 0 {
		srcRate = dstRate
	}
	if srcChannels <= 0 {
		srcChannels = dstChannels
	}

	if srcRate == dstRate && srcChannels == dstChannels {
		return samples
	}

	srcFrames := len(samples) / srcChannels
	if srcFrames == 0 {
		return nil
	}
	outFrames := (srcFrames*dstRate + srcRate - 1) / srcRate

	out := make([]float32, 0, outFrames*dstChannels)

	for i := 0; i < outFrames; i++ {
		src := i * srcRate / dstRate
		if src > srcFrames-1 {
			src = srcFrames - 1
		}
		base := src * srcChannels

		switch {
		case srcChannels == dstChannels:
			out = append(out, samples[base:base+srcChannels]...)

		case srcChannels == 1 && dstChannels == 2:
			v := samples[base]
			out = append(out, v, v)

		case srcChannels == 2 && dstChannels == 1:
			out = append(out, (samples[base]+samples[base+1])*0.5)

		default:
			for ch := 0; ch < dstChannels; ch++ {
				if ch < srcChannels {
					out = append(out, samples[base+ch])
				} else {
					out = append(out, 0)
				}
			}
		}
	}

	return out
}
