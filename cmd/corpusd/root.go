package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/corpusd/internal/config"
	"github.com/MikeSquared-Agency/corpusd/internal/converter"
	"github.com/MikeSquared-Agency/corpusd/internal/metrics"
)

// app carries what every command needs once flags and environment are read.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		logLevel      string
		root          string
		converterPath string
	)

	cmd := &cobra.Command{
		Use:   "corpusd",
		Short: "Conversation corpus ingestion server",
		Long: `corpusd converts a tree of conversation source files into a corpus of
conversations plus deduplicated classification and slot indexes, using an
external converter binary. It serves the corpus to editors over HTTP and
WebSocket, watches the tree for changes, and can persist snapshots and
publish scan events.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load()

			a.cfg = config.Load()
			if root != "" {
				a.cfg.Root = root
			}
			if converterPath != "" {
				a.cfg.Converter = converterPath
			}
			if logLevel == "" {
				logLevel = a.cfg.LogLevel
			}

			lvl, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			a.logger = setupLogging(cmd.ErrOrStderr(), lvl)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info (alias log), warn, error (default from LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&root, "root", "", "corpus root directory (default from CORPUSD_ROOT)")
	cmd.PersistentFlags().StringVar(&converterPath, "converter", "", "converter executable (default from CORPUSD_CONVERTER)")

	cmd.AddCommand(
		newServeCmd(a),
		newScanCmd(a),
		newConvertCmd(a),
		newVersionCmd(),
	)

	return cmd
}

func (a *app) newConverter(m *metrics.Metrics) *converter.Converter {
	return converter.New(a.cfg.Converter, a.logger,
		converter.WithTimeout(a.cfg.ConverterTimeout),
		converter.WithMetrics(m),
	)
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "log":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.New("a valid log level must be provided")
	}
}

// setupLogging installs a JSON logger on w as the process default.
func setupLogging(w io.Writer, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
