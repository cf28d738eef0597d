// Package recognizer defines the streaming speech recognizer the relay forwards audio to.
// Backends live in subpackages: awstranscribe (AWS Transcribe Streaming) and
// deepgram (Deepgram live websocket API).
package recognizer

import (
	"context"
	"errors"
)

// EncodingPCM is little-endian signed 16-bit PCM
const EncodingPCM = "pcm"

// ErrStreamClosed is returned when sending on a stream whose send side was closed
var ErrStreamClosed = errors.New("recognizer stream is closed")

// ErrNoResultStream is returned when the recognizer accepted the call but provided no result stream
var ErrNoResultStream = errors.New("no transcript stream available")

// StreamConfig describes the audio sent on one recognition stream
type StreamConfig struct {
	LanguageCode string
	SampleRate   int
	Encoding     string
}

// Result is one transcript event emitted by the recognizer
type Result struct {
	Text    string
	IsFinal bool
}

// Recognizer starts streaming recognition sessions
type Recognizer interface {
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is one live recognition session.
// Results is closed once the recognizer's result stream ends; Err then reports
// why it ended, or nil on a normal end.
type Stream interface {
	Send(ctx context.Context, frame []byte) error
	CloseSend() error
	Results() <-chan Result
	Err() error
	Close() error
}
