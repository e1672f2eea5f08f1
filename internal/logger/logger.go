package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultName       = "Symbiont"
)

// LevelCritical sits above slog.LevelError for fatal configuration problems.
const LevelCritical = slog.LevelError + 4

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured logger.
type SlogConfig struct {
	Level      string // DEBUG, INFO, WARN/WARNING, ERROR, CRITICAL
	Format     Format
	Color      bool
	TimeStamps bool
}

// FileConfig sends log output to a rotated file instead of stderr.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config is the unified logging configuration for the application.
type Config struct {
	Name string
	Slog SlogConfig
	File FileConfig
}

// Logger is a named slog.Logger that can hand out child loggers sharing
// the same output but carrying their own level.
type Logger struct {
	*slog.Logger
	name   string
	level  *slog.LevelVar
	out    io.Writer
	closer io.Closer
	cfg    SlogConfig
}

// New builds the root logger. When File.Path is set, output goes to a
// lumberjack-rotated file; otherwise to stderr.
func New(cfg Config) (*Logger, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		w := cfg.File.Writer()
		out, closer = w, w
		// colour codes in files are noise
		cfg.Slog.Color = false
	}
	return NewWithWriter(cfg, out, closer)
}

// NewWithWriter builds a root logger on an arbitrary writer.
func NewWithWriter(cfg Config, out io.Writer, closer io.Closer) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Slog.Level)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	l := &Logger{name: name, level: new(slog.LevelVar), out: out, closer: closer, cfg: cfg.Slog}
	l.level.Set(lvl)
	l.Logger = slog.New(l.handler(l.level)).With(slog.String("logger", name))
	return l, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	l, _ := NewWithWriter(Config{Slog: SlogConfig{Level: "ERROR"}}, io.Discard, nil)
	return l
}

func (l *Logger) handler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && !l.cfg.TimeStamps {
				return slog.Attr{}
			}
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok && lv >= LevelCritical {
					return slog.String(slog.LevelKey, "CRITICAL")
				}
			}
			return a
		},
	}
	switch {
	case l.cfg.Format == FormatJSON:
		return slog.NewJSONHandler(l.out, opts)
	case l.cfg.Color:
		return NewColorTextHandler(l.out, opts, l.cfg.TimeStamps)
	default:
		return slog.NewTextHandler(l.out, opts)
	}
}

// Name returns the dotted logger name.
func (l *Logger) Name() string { return l.name }

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Child creates a logger named "<parent>.<name>" writing to the same output.
// An empty level inherits the parent's current level.
func (l *Logger) Child(name, level string) (*Logger, error) {
	lv := new(slog.LevelVar)
	lv.Set(l.level.Level())
	if strings.TrimSpace(level) != "" {
		parsed, err := ParseLevel(level)
		if err != nil {
			return nil, err
		}
		lv.Set(parsed)
	}
	full := l.name + "." + name
	c := &Logger{name: full, level: lv, out: l.out, cfg: l.cfg}
	c.Logger = slog.New(c.handler(lv)).With(slog.String("logger", full))
	return c, nil
}

// Critical logs at LevelCritical.
func (l *Logger) Critical(msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}

// Close releases the rotated file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// ParseLevel maps level names to slog levels. Empty means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Writer returns the rotating writer described by the file config.
func (c FileConfig) Writer() *lj.Logger {
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
