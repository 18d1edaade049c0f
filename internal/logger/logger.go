package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process logger. It embeds zerolog.Logger and owns the log
// file, if any.
type Logger struct {
	zerolog.Logger

	file     io.WriteCloser
	redactor *Redactor
}

// Config selects the outputs of the process logger.
type Config struct {
	Level     string // debug, info, warn or error; empty means info
	File      string // empty disables file output
	Console   bool
	Pretty    bool // human readable console output
	Redaction bool
	MaxSize   int // MB before the file rotates; 0 never rotates
	MaxAge    int // days rotated files are kept
	Compress  bool

	// Secrets are masked verbatim when Redaction is on.
	Secrets []string
}

// New builds the process logger and installs it as the zerolog global.
// Stdout is used when neither Console nor File is set.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	file, err := openFile(cfg)
	if err != nil {
		return nil, err
	}

	out := combine(consoleWriter(cfg), file)

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor(cfg.Secrets...)
		out = redactor.Wrap(out)
	}

	// Level is global so SetLevel reaches loggers already derived from this one.
	zerolog.SetGlobalLevel(level)
	zl := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{Logger: zl, file: file, redactor: redactor}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func consoleWriter(cfg Config) io.Writer {
	switch {
	case !cfg.Console:
		return nil
	case cfg.Pretty:
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	default:
		return os.Stdout
	}
}

// combine joins the non-nil writers, falling back to stdout.
func combine(console io.Writer, file io.WriteCloser) io.Writer {
	switch {
	case console != nil && file != nil:
		return zerolog.MultiLevelWriter(console, file)
	case file != nil:
		return file
	case console != nil:
		return console
	default:
		return os.Stdout
	}
}

// openFile returns nil without a configured file.
func openFile(cfg Config) (io.WriteCloser, error) {
	if cfg.File == "" {
		return nil, nil
	}
	if cfg.MaxSize > 0 {
		return NewRotatingWriter(RotationConfig{
			Filename:   cfg.File,
			MaxSizeMB:  cfg.MaxSize,
			MaxAgeDays: cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// GetZerolog returns the underlying zerolog.Logger.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.Logger
}

// SetLevel changes the minimum level of every logger in the process.
func SetLevel(level string) error {
	if level == "" {
		return errors.New("log level is required")
	}
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}
