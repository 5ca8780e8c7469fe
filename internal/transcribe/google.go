package transcribe

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/privacy"
)

// GoogleEngine calls the Cloud Speech-to-Text v1 speech:recognize method
type GoogleEngine struct {
	svc      *speech.Service
	language string
	model    string
	timeout  time.Duration
	log      logger.Logger
}

// NewGoogle builds the client from the transcription settings. Extra options are
// appended last so tests can replace the endpoint and HTTP client.
func NewGoogle(ctx context.Context, cfg conf.TranscriptionSettings, extra ...option.ClientOption) (*GoogleEngine, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile)) //nolint:staticcheck // service account file from local config
	}
	opts = append(opts, option.WithScopes(speech.CloudPlatformScope))
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(privacy.ScrubError(err, cfg.CredentialsFile)).
			Component("transcribe").
			Category(errors.CategoryConfiguration).
			Context("credentials_file", cfg.CredentialsFile != "").
			Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = conf.TranscribeItemTimeout
	}

	return &GoogleEngine{
		svc:      svc,
		language: cfg.Language,
		model:    cfg.Model,
		timeout:  timeout,
		log:      logger.Global().Module("transcribe"),
	}, nil
}

// Transcribe sends the WAV bytes as LINEAR16 and returns the first alternative
// of the first result.
func (g *GoogleEngine) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	if len(audio.Data) == 0 {
		return Result{}, errors.Newf("audio is empty").
			Component("transcribe").
			Category(errors.CategoryValidation).
			Context("path", audio.Path).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	channels := int64(audio.Channels)
	if channels == 0 {
		channels = 1
	}
	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            int64(audio.SampleRate),
			AudioChannelCount:          channels,
			LanguageCode:               g.language,
			Model:                      g.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio.Data),
		},
	}

	start := time.Now()
	resp, err := g.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		return Result{}, g.requestError(ctx, err, audio, time.Since(start))
	}

	var parts []string
	var confidence float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			parts = append(parts, t)
			if confidence == 0 {
				confidence = alt.Confidence
			}
		}
	}
	if len(parts) == 0 {
		return Result{}, ErrNoSpeech
	}

	result := Result{Text: strings.Join(parts, " "), Confidence: confidence, Language: g.language}
	g.log.Debug("transcription received",
		logger.String("path", audio.Path),
		logger.Float64("confidence", confidence),
		logger.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (g *GoogleEngine) requestError(ctx context.Context, err error, audio Audio, elapsed time.Duration) error {
	category := errors.CategoryTranscription
	if ctx.Err() != nil {
		category = errors.CategoryTimeout
	}

	b := errors.New(err).
		Component("transcribe").
		Category(category).
		Context("path", audio.Path).
		Timing("speech_recognize", elapsed)

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		b = b.Context("status_code", apiErr.Code)
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			b = b.Priority(errors.PriorityHigh)
		}
	}
	return b.Build()
}
