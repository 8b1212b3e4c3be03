package audio

import (
	"encoding/binary"
	"math"
)

// DownmixStereo averages interleaved L/R pairs into mono samples, rounding
// half away from zero. A trailing unpaired sample is dropped.
func DownmixStereo(interleaved []int16) []int16 {
	mono := make([]int16, len(interleaved)/2)
	for i := range mono {
		sum := int32(interleaved[2*i]) + int32(interleaved[2*i+1])
		if sum >= 0 {
			mono[i] = int16((sum + 1) / 2)
		} else {
			mono[i] = int16((sum - 1) / 2)
		}
	}
	return mono
}

// MixFrames sums frames sample by sample into a new frame of the given size,
// clamping the result to the int16 range. Shorter frames contribute silence
// past their end.
func MixFrames(size int, frames ...[]int16) []int16 {
	acc := make([]int32, size)
	for _, frame := range frames {
		for i := 0; i < size && i < len(frame); i++ {
			acc[i] += int32(frame[i])
		}
	}

	out := make([]int16, size)
	for i, v := range acc {
		out[i] = clamp16(v)
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}
