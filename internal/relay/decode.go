package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidInput is returned when the request body does not carry a numeric audioData array
var ErrInvalidInput = errors.New("invalid audio data")

type transcribeRequest struct {
	AudioData json.RawMessage `json:"audioData"`
}

// DecodeSamples reads a {"audioData": number[]} body.
// A missing, null or non-array audioData, or any non-numeric element, yields ErrInvalidInput.
// Values outside [-1, 1] are clamped.
func DecodeSamples(r io.Reader) ([]float32, error) {
	var req transcribeRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	raw := bytes.TrimSpace(req.AudioData)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrInvalidInput
	}

	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	samples := make([]float32, len(values))
	for i, v := range values {
		samples[i] = float32(max(-1, min(1, v)))
	}

	return samples, nil
}
