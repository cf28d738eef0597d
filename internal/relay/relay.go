package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
	"github.com/skypro1111/speech-relay/internal/metrics"
	"github.com/skypro1111/speech-relay/internal/recognizer"
)

// ErrUpstreamFailure is returned when the recognizer cannot be reached or its stream fails
var ErrUpstreamFailure = errors.New("upstream recognizer failure")

// Config contains framing and recognition parameters
type Config struct {
	LanguageCode  string
	SampleRate    int
	FrameBytes    int
	FrameInterval time.Duration
}

// EmitFunc receives each non-empty transcript fragment in arrival order
type EmitFunc func(text string) error

// Relay forwards sample batches to a streaming recognizer
type Relay struct {
	recognizer recognizer.Recognizer
	config     Config
	tracker    *Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a relay
func New(rec recognizer.Recognizer, cfg Config, tracker *Tracker, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = 2048
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}

	return &Relay{
		recognizer: rec,
		config:     cfg,
		tracker:    tracker,
		metrics:    m,
		logger:     logger,
	}
}

// Tracker returns the session tracker used by the relay
func (r *Relay) Tracker() *Tracker {
	return r.tracker
}

// Transcribe streams samples to the recognizer and calls emit for every non-empty fragment.
// It returns when the recognizer's result stream ends.
func (r *Relay) Transcribe(ctx context.Context, requestID string, samples []float32, emit EmitFunc) (err error) {
	session := r.tracker.Begin(requestID, len(samples))
	startTime := time.Now()
	r.metrics.RecordTranscriptionStarted(len(samples))

	defer func() {
		duration := time.Since(startTime).Seconds()
		switch {
		case err == nil:
			r.metrics.RecordTranscriptionSuccess(duration)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			r.metrics.RecordTranscriptionFailure("canceled", duration)
		case errors.Is(err, ErrUpstreamFailure):
			r.metrics.RecordTranscriptionFailure("upstream", duration)
		default:
			r.metrics.RecordTranscriptionFailure("write", duration)
		}
		r.tracker.End(session, err)
	}()

	if len(samples) == 0 {
		r.logger.Debug("Empty audio batch, nothing to transcribe",
			slog.String("session_id", session.ID),
		)
		return nil
	}

	session.setState(StateConverting)
	pcm := audio.FloatToPCM16(samples)
	frames := audio.Frames(pcm, r.config.FrameBytes)

	r.logger.Debug("Audio converted to PCM",
		slog.String("session_id", session.ID),
		slog.Int("samples", len(samples)),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Int("frames", len(frames)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.recognizer.Start(ctx, recognizer.StreamConfig{
		LanguageCode: r.config.LanguageCode,
		SampleRate:   r.config.SampleRate,
		Encoding:     recognizer.EncodingPCM,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	defer stream.Close()

	// Client disconnect must unblock the results loop below
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	session.setState(StateStreaming)

	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- r.sendFrames(sendCtx, stream, frames, session)
	}()

	for result := range stream.Results() {
		if result.Text == "" {
			continue
		}

		if err := emit(result.Text); err != nil {
			return fmt.Errorf("failed to write transcript fragment: %w", err)
		}
		session.recordFragment()
		r.metrics.RecordFragment()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if streamErr := stream.Err(); streamErr != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamFailure, streamErr)
	}

	cancelSend()
	if sendErr := <-sendDone; sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUpstreamFailure, sendErr)
	}

	return nil
}

// sendFrames sends frames one at a time with the configured interval between sends,
// then closes the send side. On failure it closes the stream so the results loop ends.
func (r *Relay) sendFrames(ctx context.Context, stream recognizer.Stream, frames [][]byte, session *Session) error {
	var timer *time.Timer
	if r.config.FrameInterval > 0 {
		timer = time.NewTimer(r.config.FrameInterval)
		timer.Stop()
		defer timer.Stop()
	}

	for i, frame := range frames {
		if i > 0 && timer != nil {
			timer.Reset(r.config.FrameInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := stream.Send(ctx, frame); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.logger.Warn("Failed to send frame to recognizer",
				slog.String("session_id", session.ID),
				slog.Int("frame", i),
				slog.String("error", err.Error()),
			)
			stream.Close()
			return err
		}

		session.recordFrame()
		r.metrics.RecordFrameSent()
	}

	if err := stream.CloseSend(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to close recognizer send side: %w", err)
	}

	return nil
}
