package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/meeting-scribe/config"
	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/server"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, deps.Logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides server.address)")
	return cmd
}

// NewTranscriber picks the Whisper backend, or simulated text without a key.
func NewTranscriber(cfg config.TranscriptionConfig, logger *slog.Logger) (stt.Transcriber, error) {
	if cfg.Simulated() {
		logger.Warn("No OpenAI API key configured, returning simulated transcriptions")
		return stt.Simulated{}, nil
	}
	client, err := stt.NewWhisperClient(stt.WhisperConfig{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Language: cfg.Language,
		Prompt:   cfg.Prompt,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	transcriber, err := NewTranscriber(cfg.Transcription, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Addr:              cfg.Server.Address,
		TranscribeTimeout: cfg.Server.TranscribeTimeout,
		MaxPending:        cfg.Server.MaxPending,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, transcriber, metrics.NewMetrics(), logger)
	if err != nil {
		return err
	}

	logger.Info("Service starting",
		slog.String("address", cfg.Server.Address),
		slog.Bool("simulated", cfg.Transcription.Simulated()),
		slog.String("model", cfg.Transcription.Model),
		slog.Duration("transcribe_timeout", cfg.Server.TranscribeTimeout),
		slog.Int("max_pending", cfg.Server.MaxPending),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping server", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Service stopped")
	return nil
}
