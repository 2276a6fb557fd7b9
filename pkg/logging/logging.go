// Package logging builds the zap loggers used by the command line tools.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger level and encoding.
type Config struct {
	Format string        `yaml:"format"`
	Level  zapcore.Level `yaml:"level"`
}

// NewConfig returns a Config with defaults.
func NewConfig() Config {
	return Config{Format: "console", Level: zapcore.InfoLevel}
}

// New returns a logger writing to w. Format is "console" or "json".
func New(w io.Writer, level zapcore.Level, format string) (*zap.Logger, error) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console", "auto":
		encoder = zapcore.NewConsoleEncoder(config)
	case "json":
		encoder = zapcore.NewJSONEncoder(config)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return zap.New(zapcore.NewCore(
		encoder,
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)), nil
}

// Build is New driven by a Config.
func (c Config) Build(w io.Writer) (*zap.Logger, error) {
	return New(w, c.Level, c.Format)
}

// ParseLevel accepts zap level names such as "debug" or "warn".
func ParseLevel(text string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", text, err)
	}
	return level, nil
}
