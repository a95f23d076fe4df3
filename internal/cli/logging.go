package cli

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/config"
)

var logFile *os.File

// setupLogging configures the global zerolog logger from the logging section.
// --verbose forces debug level regardless of the configured one.
func setupLogging(cfg config.LoggingConfig) error {
	var out io.Writer = os.Stderr
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrapf(err, "opening log file %s", cfg.Output)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		out = f
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	applyLogLevel(cfg.Level)

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	return nil
}

// applyLogLevel sets the global level. Unknown levels fall back to info.
func applyLogLevel(level string) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
