package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hospital.org/internal/config"
)

const serviceName = "hospital-api"

var timeFormatOnce sync.Once

// NewLogger builds the process logger. JSON is the default format; "console"
// gives human-readable output for local runs.
func NewLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	// The timestamp format is process-wide; later callers may override it.
	timeFormatOnce.Do(func() { zerolog.TimeFieldFormat = time.RFC3339Nano })

	var out io.Writer = w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Nop is used where a component is built without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
