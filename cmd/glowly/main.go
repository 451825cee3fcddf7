// Command glowly runs face analysis from the command line or as an HTTP
// service.
//
// Configuration is loaded from environment variables:
//   - GLOWLY_CONFIG: Path to a YAML configuration file (optional)
//   - GLOWLY_DATA_DIR: Override for the preference data directory (optional)
//   - GLOWLY_POSTGRES_DSN: Keep preferences in PostgreSQL instead of a file (optional)
//   - GLOWLY_REDIS_ADDR: Cache preferences in Redis (optional)
//   - GLOWLY_MQTT_BROKER: Publish analytics events to an MQTT broker (optional)
//   - GLOWLY_ARCHIVE_DSN: Archive analyses in PostgreSQL with pgvector (optional)
//   - GLOWLY_LOG_LEVEL: debug, info, warn or error (optional)
//   - GLOWLY_LOG_JSON: Log JSON lines instead of colored text when set (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/prethora/glowly"
	"github.com/prethora/glowly/internal/analytics"
	"github.com/prethora/glowly/internal/archive"
	"github.com/prethora/glowly/internal/detect"
	"github.com/prethora/glowly/internal/prefstore"
)

const appName = "glowly"

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments or feedback.
	ExitInvalidArgs = 2

	// ExitUnsuitableImage indicates an image could not be analyzed.
	ExitUnsuitableImage = 3

	// ExitNotInitialized indicates the essential models did not load.
	ExitNotInitialized = 4

	// ExitResourceExhausted indicates the memory budget was exceeded.
	ExitResourceExhausted = 5

	// ExitStorageError indicates a preference store or archive failure.
	ExitStorageError = 7

	// ExitInterrupted indicates the command was canceled by a signal.
	ExitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	level := new(slog.LevelVar)
	logger := newLogger(os.Stderr, level, os.Getenv("GLOWLY_LOG_JSON") != "")

	cfg := glowly.DefaultConfig()
	if path := os.Getenv("GLOWLY_CONFIG"); path != "" {
		loaded, err := glowly.LoadConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	logLevel := cfg.LogLevel
	if env := os.Getenv("GLOWLY_LOG_LEVEL"); env != "" {
		logLevel = env
	}
	level.Set(parseLevel(logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFromError(err)
	}
	defer d.Close()

	cmd := glowly.NewCommand(cfg,
		glowly.WithDetector(detect.NewSkinDetector(detect.Options{})),
		glowly.WithPreferenceStore(d.store),
		glowly.WithAnalyticsSink(d.sink),
		glowly.WithLogger(logger),
	)
	cmd.AddCommand(serveCmd(d, logger))
	cmd.AddCommand(archiveCmd(d))
	cmd.AddCommand(similarCmd(d))
	cmd.AddCommand(preferencesCmd(d))

	cobra.OnInitialize(func() {
		if v, _ := cmd.PersistentFlags().GetBool("verbose"); v {
			level.Set(slog.LevelDebug)
		}
	})

	if err := cmd.ExecuteContext(ctx); err != nil {
		return exitCodeFromError(err)
	}
	return ExitSuccess
}

// newLogger builds the process logger: colored text on a terminal stream,
// or JSON lines when asJSON is set.
func newLogger(w io.Writer, level slog.Leveler, asJSON bool) *slog.Logger {
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// deps holds the adapters selected by the environment.
type deps struct {
	store   prefstore.Store
	sink    glowly.AnalyticsSink
	mqtt    *analytics.MQTTSink
	archive *archive.Archive
}

func openDeps(ctx context.Context, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	store, err := openPreferenceStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	d.store = store

	sinks := analytics.Fanout{analytics.NewLogSink(logger, slog.LevelDebug)}
	if broker := os.Getenv("GLOWLY_MQTT_BROKER"); broker != "" {
		m, err := analytics.DialMQTT(analytics.MQTTConfig{Broker: broker, ClientID: appName}, logger)
		if err != nil {
			logger.Warn("analytics over mqtt disabled", "broker", broker, "error", err)
		} else {
			d.mqtt = m
			sinks = append(sinks, m)
		}
	}
	d.sink = sinks

	if dsn := os.Getenv("GLOWLY_ARCHIVE_DSN"); dsn != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		a, err := archive.Open(connectCtx, dsn)
		if err == nil {
			err = a.Init(connectCtx)
			if err != nil {
				a.Close()
			}
		}
		if err != nil {
			logger.Warn("analysis archive disabled", "error", err)
		} else {
			d.archive = a
		}
	}
	return d, nil
}

// openPreferenceStore picks PostgreSQL when GLOWLY_POSTGRES_DSN is set and
// the JSON file store otherwise, fronted by Redis when GLOWLY_REDIS_ADDR is
// set.
func openPreferenceStore(ctx context.Context, logger *slog.Logger) (prefstore.Store, error) {
	var store prefstore.Store
	if dsn := os.Getenv("GLOWLY_POSTGRES_DSN"); dsn != "" {
		s, err := prefstore.OpenSQL(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		store = s
	} else {
		dir, err := prefstore.DefaultDir(appName)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving data directory: %v", prefstore.ErrStorage, err)
		}
		s, err := prefstore.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		store = s
	}

	if addr := os.Getenv("GLOWLY_REDIS_ADDR"); addr != "" {
		c, err := prefstore.NewRedisCache(ctx, addr, store, prefstore.DefaultCacheTTL, logger)
		if err != nil {
			logger.Warn("preference cache disabled", "addr", addr, "error", err)
			return store, nil
		}
		return c, nil
	}
	return store, nil
}

// Close releases every adapter.
func (d *deps) Close() {
	if d.mqtt != nil {
		d.mqtt.Close()
	}
	if d.archive != nil {
		d.archive.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, glowly.ErrUnsuitableInput):
		return ExitUnsuitableImage
	case errors.Is(err, glowly.ErrNotInitialized):
		return ExitNotInitialized
	case errors.Is(err, glowly.ErrResourceExhausted):
		return ExitResourceExhausted
	case errors.Is(err, errInvalidArgs), errors.Is(err, glowly.ErrInvalidFeedback), errors.Is(err, glowly.ErrUnknownModel):
		return ExitInvalidArgs
	case errors.Is(err, prefstore.ErrStorage), errors.Is(err, archive.ErrArchive):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}
