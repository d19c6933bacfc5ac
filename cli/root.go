// Package cli wires scribe's commands.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/meeting-scribe/config"
)

const version = "0.3.0"

// Dependencies is filled in by the root command before any subcommand runs.
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	Stdin  io.Reader
	Stdout io.Writer

	closeLog func()
}

func NewRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	deps := &Dependencies{Stdin: stdin, Stdout: stdout}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Live meeting transcription",
		Long:          "scribe streams microphone audio to a transcription server and keeps the resulting transcript.\nRun `scribe serve` on the server side and `scribe record` on the client side.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			deps.Config = cfg
			deps.Logger, deps.closeLog = NewLogger(cfg.Logging)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps.closeLog != nil {
				deps.closeLog()
			}
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SCRIBE_CONFIG"), "Path to a YAML or TOML config file")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewTranscriptCmd(deps))
	rootCmd.AddCommand(NewNotesCmd(deps))

	return rootCmd
}

// Execute runs the root command against the process's stdio.
func Execute() error {
	return NewRootCmd(os.Stdin, os.Stdout).Execute()
}
