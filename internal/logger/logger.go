package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process log output.
type Logger struct {
	logger   zerolog.Logger
	gate     *levelGate
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string   // debug, info, warn, error
	File      string   // log file path
	Console   bool     // enable console output
	Pretty    bool     // pretty format for console
	Redaction bool     // scrub API keys and secrets
	Secrets   []string // literal values masked when Redaction is on
	Patterns  []string // extra expressions masked when Redaction is on
}

// New creates a logger and installs it as the zerolog global.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var consoleWriter io.Writer = os.Stderr
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		redactor.AddSecret(cfg.Secrets...)
		for _, pattern := range cfg.Patterns {
			if err := redactor.AddPattern(pattern); err != nil {
				if file != nil {
					file.Close()
				}
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
		writer = redactor.Wrap(writer)
	}

	gate := &levelGate{w: writer}
	gate.level.Store(int32(level))

	// Derived loggers share the gate, so SetLevel reaches component loggers too.
	logger := zerolog.New(gate).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		gate:     gate,
		file:     file,
		redactor: redactor,
	}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// SetLevel changes the minimum level for this logger and everything
// derived from it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return fmt.Errorf("invalid log level %q", level)
	}
	l.gate.level.Store(int32(lvl))
	return nil
}

// Level reports the current minimum level.
func (l *Logger) Level() zerolog.Level {
	return zerolog.Level(l.gate.level.Load())
}

type levelGate struct {
	w     io.Writer
	level atomic.Int32
}

func (g *levelGate) Write(p []byte) (int, error) {
	return g.w.Write(p)
}

func (g *levelGate) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < zerolog.Level(g.level.Load()) {
		return len(p), nil
	}
	return g.w.Write(p)
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
