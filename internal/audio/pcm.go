package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the pipeline sample rate (16 kHz mono)
	SampleRate = 16000

	// PCMScale maps a float sample in [-1, 1] onto int16
	PCMScale = 32767

	// BytesPerSample is the size of one 16-bit PCM sample
	BytesPerSample = 2
)

// FloatToPCM16 converts float samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1] before scaling, so the result never overflows.
// NaN samples are written as 0.
func FloatToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(floatToInt16(s)))
	}
	return buf
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * PCMScale))
}

// PCM16ToFloat decodes little-endian 16-bit PCM back into float samples
func PCM16ToFloat(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm data length must be even (got %d bytes)", len(data))
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(v) / PCMScale
	}
	return samples, nil
}

// Frames splits a byte buffer into consecutive frames of at most size bytes.
// The last frame may be shorter. The frames share memory with data.
func Frames(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		frames = append(frames, data[start:end])
	}
	return frames
}

// SplitSamples splits samples into chunks of at most n samples, last one possibly shorter
func SplitSamples(samples []float32, n int) [][]float32 {
	if n <= 0 || len(samples) == 0 {
		return nil
	}

	chunks := make([][]float32, 0, (len(samples)+n-1)/n)
	for start := 0; start < len(samples); start += n {
		end := min(start+n, len(samples))
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}

// Concat joins frames into one contiguous sample slice
func Concat(frames [][]float32) []float32 {
	total := 0
	for _, f := range frames {
		total += len(f)
	}

	out := make([]float32, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// PeakAmplitude returns the largest absolute sample value
func PeakAmplitude(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Duration returns the playback length of n samples at the given rate, in seconds
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
