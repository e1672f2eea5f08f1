package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":         slog.LevelInfo,
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"WARN":     slog.LevelWarn,
		"error":    slog.LevelError,
		"CRITICAL": LevelCritical,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestChildHonoursOwnLevel(t *testing.T) {
	var buf bytes.Buffer
	root, err := NewWithWriter(Config{Name: "app", Slog: SlogConfig{Level: "ERROR"}}, &buf, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	child, err := root.Child("svc", "DEBUG")
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	root.Info("root-info")
	child.Debug("child-debug")

	out := buf.String()
	if strings.Contains(out, "root-info") {
		t.Fatalf("root logger should drop INFO at ERROR level: %s", out)
	}
	if !strings.Contains(out, "child-debug") {
		t.Fatalf("child logger should emit DEBUG: %s", out)
	}
	if !strings.Contains(out, "logger=app.svc") {
		t.Fatalf("child logger name missing: %s", out)
	}
	if child.Name() != "app.svc" {
		t.Fatalf("unexpected child name %q", child.Name())
	}
}

func TestChildInheritsLevel(t *testing.T) {
	root, _ := NewWithWriter(Config{Slog: SlogConfig{Level: "WARN"}}, &bytes.Buffer{}, nil)
	child, err := root.Child("svc", "")
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	if child.Level() != slog.LevelWarn {
		t.Fatalf("expected inherited WARN, got %v", child.Level())
	}
	if _, err := root.Child("bad", "nope"); err == nil {
		t.Fatalf("expected error for bad child level")
	}
}

func TestCriticalLabel(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewWithWriter(Config{Slog: SlogConfig{Level: "INFO", Format: FormatJSON}}, &buf, nil)
	l.Critical("boom")
	if !strings.Contains(buf.String(), `"level":"CRITICAL"`) {
		t.Fatalf("expected CRITICAL level label, got %s", buf.String())
	}
}

func TestColorHandlerKeepsColourOnWith(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewWithWriter(Config{Slog: SlogConfig{Level: "INFO", Color: true}}, &buf, nil)
	l.With("k", "v").Warn("careful")
	if !strings.Contains(buf.String(), "[33mWARN") {
		t.Fatalf("expected yellow WARN prefix, got %q", buf.String())
	}
}

func TestFileOutputIsRotatedWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "symbiont.log")
	l, err := New(Config{Slog: SlogConfig{Level: "INFO"}, File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("to-file")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "to-file") {
		t.Fatalf("log file missing entry: %s", b)
	}
	w := FileConfig{Path: path}.Writer()
	if w.MaxSize != DefaultMaxSizeMB || w.MaxBackups != DefaultMaxBackups || w.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected lumberjack defaults: %+v", w)
	}
}
