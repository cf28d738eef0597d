package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavPCMFormat   = 1
	wavNumChannels = 1
)

// ErrInvalidWAV is returned when a file is not a readable RIFF/WAVE stream
var ErrInvalidWAV = errors.New("invalid WAV file")

// WAVInfo returns basic information about a WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	NumSamples    int     `json:"num_samples"`
}

// WriteWAV encodes float samples as a mono 16-bit PCM WAV file
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(floatToInt16(s))
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, wavNumChannels, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavNumChannels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return nil
}

// ReadWAV decodes a mono 16-bit PCM WAV file into float samples
func ReadWAV(r io.ReadSeeker) ([]float32, *WAVInfo, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, nil, ErrInvalidWAV
	}

	if dec.WavAudioFormat != wavPCMFormat {
		return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", dec.WavAudioFormat)
	}

	if dec.BitDepth != wavBitDepth {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", dec.BitDepth)
	}

	if dec.NumChans != wavNumChannels {
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", dec.NumChans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	if len(buf.Data) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / PCMScale
	}

	info := &WAVInfo{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		NumSamples:    len(samples),
		Duration:      Duration(len(samples), int(dec.SampleRate)),
	}

	return samples, info, nil
}
