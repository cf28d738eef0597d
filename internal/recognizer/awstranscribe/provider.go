// Package awstranscribe streams PCM audio to AWS Transcribe Streaming.
package awstranscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/skypro1111/speech-relay/internal/recognizer"
)

// Config contains AWS credential and region settings.
// Credentials are resolved once, when the provider is created.
type Config struct {
	Region          string
	Profile         string
	CredentialsFile string
}

type streamingClient interface {
	StartStreamTranscription(ctx context.Context, params *transcribestreaming.StartStreamTranscriptionInput, optFns ...func(*transcribestreaming.Options)) (*transcribestreaming.StartStreamTranscriptionOutput, error)
}

// Provider implements recognizer.Recognizer for AWS Transcribe Streaming
type Provider struct {
	client streamingClient
	logger *slog.Logger
}

// New loads AWS configuration and verifies that credentials resolve
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region cannot be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{cfg.CredentialsFile}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	if awsCfg.Credentials == nil {
		return nil, errors.New("no AWS credentials provider configured")
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	logger.Info("Loaded AWS credentials",
		slog.String("region", awsCfg.Region),
		slog.String("source", creds.Source),
	)

	return &Provider{
		client: transcribestreaming.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Start opens a StartStreamTranscription event stream
func (p *Provider) Start(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Stream, error) {
	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(cfg.LanguageCode),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(cfg.SampleRate)),
	}

	out, err := p.client.StartStreamTranscription(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream transcription: %w", err)
	}

	es := out.GetStream()
	if es == nil {
		return nil, recognizer.ErrNoResultStream
	}

	p.logger.Debug("AWS transcription stream opened",
		slog.String("language_code", cfg.LanguageCode),
		slog.Int("sample_rate", cfg.SampleRate),
	)

	return newStream(es, es.Writer.Close), nil
}

type eventStream interface {
	Send(ctx context.Context, event types.AudioStream) error
	Events() <-chan types.TranscriptResultStream
	Close() error
	Err() error
}

type stream struct {
	es        eventStream
	closeSend func() error

	results chan recognizer.Result
	done    chan struct{}

	sendMu     sync.Mutex
	sendClosed bool

	closeSendOnce sync.Once
	closeSendErr  error
	closeOnce     sync.Once

	errMu sync.Mutex
	err   error
}

func newStream(es eventStream, closeSend func() error) *stream {
	s := &stream{
		es:        es,
		closeSend: closeSend,
		results:   make(chan recognizer.Result, 16),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *stream) Send(ctx context.Context, frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return recognizer.ErrStreamClosed
	}

	event := &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: frame},
	}
	if err := s.es.Send(ctx, event); err != nil {
		return fmt.Errorf("failed to send audio event: %w", err)
	}
	return nil
}

func (s *stream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		s.sendMu.Unlock()

		s.closeSendErr = s.closeSend()
	})
	return s.closeSendErr
}

func (s *stream) Results() <-chan recognizer.Result {
	return s.results
}

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.es.Close()
	})
	return err
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *stream) readLoop() {
	defer close(s.results)

	for event := range s.es.Events() {
		te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}

		result, ok := firstTranscript(te.Value)
		if !ok {
			continue
		}

		select {
		case s.results <- result:
		case <-s.done:
			return
		}
	}

	if err := s.es.Err(); err != nil {
		s.setErr(fmt.Errorf("transcript result stream failed: %w", err))
	}
}

// firstTranscript extracts the top alternative of the first result, the only one the relay forwards
func firstTranscript(event types.TranscriptEvent) (recognizer.Result, bool) {
	if event.Transcript == nil || len(event.Transcript.Results) == 0 {
		return recognizer.Result{}, false
	}

	first := event.Transcript.Results[0]
	if len(first.Alternatives) == 0 {
		return recognizer.Result{}, false
	}

	text := aws.ToString(first.Alternatives[0].Transcript)
	if text == "" {
		return recognizer.Result{}, false
	}

	return recognizer.Result{Text: text, IsFinal: !first.IsPartial}, true
}
