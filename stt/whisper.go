package stt

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// WhisperConfig configures the OpenAI audio transcription endpoint.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // empty for api.openai.com
	Model    string // defaults to whisper-1
	Language string // ISO-639-1 hint, optional
	Prompt   string // vocabulary hint, optional
}

// WhisperClient transcribes WAV fragments with OpenAI's Whisper API.
type WhisperClient struct {
	Client *openai.Client
	cfg    WhisperConfig
	logger *slog.Logger
}

func NewWhisperClient(cfg WhisperConfig, logger *slog.Logger) (*WhisperClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &WhisperClient{
		Client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With("component", "whisper"),
	}, nil
}

func (w *WhisperClient) Transcribe(ctx context.Context, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("empty audio payload")
	}

	resp, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.cfg.Model,
		FilePath: "fragment.wav", // only the name is used when Reader is set
		Reader:   bytes.NewReader(payload),
		Language: w.cfg.Language,
		Prompt:   w.cfg.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", errors.Wrap(err, "whisper transcription")
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug("Transcribed fragment",
		slog.Int("bytes", len(payload)),
		slog.Int("chars", len(text)),
	)
	return text, nil
}
