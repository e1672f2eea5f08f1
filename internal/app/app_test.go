package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/demo"
	"github.com/loykin/symbiont/internal/options"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, config.DefaultFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testOptions(dir string) *options.Options {
	return options.New(map[string]string{
		"path":                  dir,
		options.LogFileKey:      filepath.Join(dir, "symbiont.log"),
		options.LoggerLevelKey:  "DEBUG",
		options.LoggerFormatKey: "json",
	})
}

const demoConfig = `{"services": [
  {"name": "heart", "interface": "symbiont/demo:Heartbeat", "interval": "10ms"},
  {"name": "greeter", "interface": "symbiont/demo:Greeter", "interval": "10ms"}
]}`

func TestLaunchInterruptSaysGoodbye(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, demoConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := Launch(ctx, testOptions(dir)); err != nil {
		t.Fatalf("launch: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "symbiont.log"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{`"msg":"shutdown complete"`, `"logger":"Symbiont.greeter"`, `"run":"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %s:\n%s", want, out)
		}
	}
}

func TestInterruptFarewellIgnoresLogLevel(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, demoConfig)
	opts := options.New(map[string]string{
		"path":                 dir,
		options.LogFileKey:     filepath.Join(dir, "symbiont.log"),
		options.LoggerLevelKey: "CRITICAL",
	})
	a, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()
	var farewell bytes.Buffer
	a.Farewell = &farewell

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if farewell.String() != "Goodbye!\n" {
		t.Fatalf("farewell = %q", farewell.String())
	}
}

func TestNewPopulatesRootScope(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, demoConfig)
	a, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()
	if a.ID == "" {
		t.Fatal("expected a run id")
	}
	if _, ok := scope.Get[*config.Config](a.Scope); !ok {
		t.Fatal("config missing from root scope")
	}
	if _, ok := scope.Get[*options.Options](a.Scope); !ok {
		t.Fatal("options missing from root scope")
	}
	if _, ok := scope.Get[*service.Registry](a.Scope); !ok {
		t.Fatal("registry missing from root scope")
	}
	if err := a.Manager.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	inst, ok := a.Manager.Instance("heart")
	if !ok {
		t.Fatal("heart not built")
	}
	if _, ok := inst.(*demo.Heartbeat); !ok {
		t.Fatalf("unexpected type %T", inst)
	}
}

func TestLaunchMissingConfig(t *testing.T) {
	dir := t.TempDir()
	err := Launch(context.Background(), testOptions(dir))
	if !errors.Is(err, config.ErrConfigFileNotFound) {
		t.Fatalf("expected ErrConfigFileNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Fatalf("error should name the searched path: %v", err)
	}
}

func TestLaunchUnknownInterfaceIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"services": [{"name": "ghost", "interface": "nowhere:Nothing"}]}`)
	err := Launch(context.Background(), testOptions(dir))
	if !errors.Is(err, service.ErrInterfaceImport) {
		t.Fatalf("expected ErrInterfaceImport, got %v", err)
	}
	var re *service.ResolveError
	if !errors.As(err, &re) || re.Service != "ghost" {
		t.Fatalf("expected ResolveError for ghost, got %v", err)
	}
}

func TestLaunchServiceFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"services": [{"name": "heart", "interface": "symbiont/demo:Heartbeat", "interval": "nope"}]}`)
	if err := Launch(context.Background(), testOptions(dir)); err == nil {
		t.Fatal("expected bad interval to fail the run")
	}
}
