package obs

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hospital.org/internal/config"
)

func TestNewLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(config.LogConfig{Level: "debug"}, &buf)
	log.Debug().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != serviceName {
		t.Fatalf("expected service %q, got %v", serviceName, entry["service"])
	}
	if entry["level"] != "debug" || entry["message"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("expected time field")
	}
}

func TestNewLoggerKeepsTimeFieldFormat(t *testing.T) {
	NewLogger(config.LogConfig{}, &bytes.Buffer{})

	prev := zerolog.TimeFieldFormat
	t.Cleanup(func() { zerolog.TimeFieldFormat = prev })
	zerolog.TimeFieldFormat = time.Kitchen

	NewLogger(config.LogConfig{}, &bytes.Buffer{})
	if zerolog.TimeFieldFormat != time.Kitchen {
		t.Fatalf("NewLogger reset TimeFieldFormat to %q", zerolog.TimeFieldFormat)
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(config.LogConfig{Level: "chatty"}, &buf)
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info, got %q", buf.String())
	}
	log.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected info entry")
	}
}
