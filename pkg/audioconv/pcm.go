package audioconv

import "math"

// IntToFloat32 scales integer samples of the given bit depth into [-1, 1].
func IntToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	return out
}

// Int16ToFloat32 converts signed 16-bit PCM to float32 in [-1, 1).
func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Float32ToInt16 converts float PCM to signed 16-bit, clipping out-of-range values.
func Float32ToInt16(data []float32) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		out[i] = int16(math.Round(clamp(float64(v), -1, 1) * 32767))
	}
	return out
}

// Downmix averages interleaved channels into mono. Mono input is returned as is.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float64
		base := i * channels
		for c := range channels {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates with linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || inSR <= 0 || outSR <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := range outN {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		switch {
		case i0 >= len(in):
			out[i] = in[len(in)-1]
		case i1 >= len(in):
			out[i] = in[i0]
		default:
			a := float32(src - float64(i0))
			out[i] = in[i0]*(1-a) + in[i1]*a
		}
	}
	return out
}

// ToMono16k prepares interleaved PCM for whisper: mono at 16 kHz.
func ToMono16k(in []float32, sampleRate, channels int) []float32 {
	return Resample(Downmix(in, channels), sampleRate, 16000)
}

// RMS returns the root mean square of the samples.
func RMS(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += float64(v) * float64(v)
	}
	return math.Sqrt(s / float64(len(x)))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
