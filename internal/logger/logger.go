package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level   string
	Pretty  bool
	LogDir  string // empty disables the session file
	Session string // defaults to today's date
	Out     io.Writer
}

// Logger owns the root zerolog logger and the optional session file.
type Logger struct {
	zerolog.Logger
	mu      sync.Mutex
	logFile *os.File
	path    string
}

// New builds the root logger. Components derive children with Component.
func New(opts Options) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	l := &Logger{}
	writers := []io.Writer{out}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		session := opts.Session
		if session == "" {
			session = time.Now().Format("2006-01-02")
		}
		l.path = filepath.Join(opts.LogDir, fmt.Sprintf("engine_%s.log", session))
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = file
		writers = append(writers, file)
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Component returns a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Path returns the session log file path, empty when file logging is off.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the session file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	l.Logger.Info().Msg("session log closed")
	err := l.logFile.Close()
	l.logFile = nil
	return err
}
