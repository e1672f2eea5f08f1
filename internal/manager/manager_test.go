package manager

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
)

type staticProvider []config.ServiceConfig

func (p staticProvider) Services() []config.ServiceConfig { return p }

func desc(name, iface string, extra map[string]any) config.ServiceConfig {
	settings := map[string]any{"name": name}
	for k, v := range extra {
		settings[k] = v
	}
	if iface != "" {
		settings["interface"] = iface
	}
	return config.ServiceConfig{Name: name, Interface: iface, Settings: settings}
}

type sleeper struct {
	delay time.Duration
	err   error
	runs  *atomic.Int32
	tag   string
}

func (s *sleeper) Start(ctx context.Context) error {
	if s.runs != nil {
		s.runs.Add(1)
	}
	select {
	case <-time.After(s.delay):
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func registry(constructed *atomic.Int32, runs *atomic.Int32) *service.Registry {
	r := service.NewRegistry()
	r.RegisterModule("test/svc", service.Module{
		"Sleeper": func(s *scope.Scope) (service.Interface, error) {
			constructed.Add(1)
			cfg, _ := scope.Get[config.ServiceConfig](s)
			d, _ := time.ParseDuration(cfg.String("delay", "0s"))
			sl := &sleeper{delay: d, runs: runs, tag: cfg.String("tag", "")}
			if msg := cfg.String("fail", ""); msg != "" {
				sl.err = errors.New(msg)
			}
			return sl, nil
		},
		"Nothing": func(*scope.Scope) (service.Interface, error) {
			constructed.Add(1)
			return nil, nil
		},
	})
	return r
}

func TestBuildProducesOneInstancePerDescriptor(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{
		desc("a", "test/svc:Sleeper", nil),
		desc("b", "test/svc:Sleeper", nil),
		desc("c", "test/svc:Sleeper", nil),
	}
	m := New(p, scope.New(), registry(&built, &runs))
	if err := m.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := strings.Join(m.Names(), ","); got != "a,b,c" {
		t.Fatalf("names: %s", got)
	}
	if built.Load() != 3 {
		t.Fatalf("expected 3 constructions, got %d", built.Load())
	}
}

func TestDuplicateNameLaterWins(t *testing.T) {
	var built, runs atomic.Int32
	var buf bytes.Buffer
	log, _ := logger.NewWithWriter(logger.Config{Slog: logger.SlogConfig{Level: "WARN"}}, &buf, nil)
	root := scope.New()
	root.Add(log)
	p := staticProvider{
		desc("dup", "test/svc:Sleeper", map[string]any{"tag": "first"}),
		desc("other", "test/svc:Sleeper", nil),
		desc("dup", "test/svc:Sleeper", map[string]any{"tag": "second"}),
	}
	m := New(p, root, registry(&built, &runs))
	if err := m.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(m.Names()) != 2 {
		t.Fatalf("expected 2 running services, got %v", m.Names())
	}
	inst, _ := m.Instance("dup")
	if inst.(*sleeper).tag != "second" {
		t.Fatalf("later descriptor should win, got %q", inst.(*sleeper).tag)
	}
	if !strings.Contains(buf.String(), "duplicate service name") {
		t.Fatalf("expected a warning, log was: %s", buf.String())
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("expected 2 starts, got %d", runs.Load())
	}
}

func TestMissingInterfaceFailsBeforeConstruction(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{
		desc("ok", "test/svc:Sleeper", nil),
		desc("bare", "", nil),
	}
	m := New(p, scope.New(), registry(&built, &runs))
	err := m.Start(context.Background())
	if !errors.Is(err, service.ErrMissingInterfaceConfig) {
		t.Fatalf("expected ErrMissingInterfaceConfig, got %v", err)
	}
	if built.Load() != 0 || runs.Load() != 0 {
		t.Fatalf("nothing should be constructed or started, built=%d runs=%d", built.Load(), runs.Load())
	}
}

func TestNilInstanceIsFatalBeforeAnyStart(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{
		desc("a", "test/svc:Sleeper", nil),
		desc("empty", "test/svc:Nothing", nil),
	}
	m := New(p, scope.New(), registry(&built, &runs))
	err := m.Start(context.Background())
	if !errors.Is(err, ErrNoStartEntryPoint) {
		t.Fatalf("expected ErrNoStartEntryPoint, got %v", err)
	}
	if !strings.Contains(err.Error(), `"empty"`) || !strings.Contains(err.Error(), "test/svc:Nothing") {
		t.Fatalf("error should name service and interface: %v", err)
	}
	if runs.Load() != 0 {
		t.Fatalf("no service should have started")
	}
}

func TestConcurrentStartTakesMaxNotSum(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{
		desc("fast", "test/svc:Sleeper", map[string]any{"delay": "100ms"}),
		desc("mid", "test/svc:Sleeper", map[string]any{"delay": "200ms"}),
		desc("slow", "test/svc:Sleeper", map[string]any{"delay": "300ms"}),
	}
	m := New(p, scope.New(), registry(&built, &runs))
	begin := time.Now()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	elapsed := time.Since(begin)
	if elapsed < 300*time.Millisecond {
		t.Fatalf("returned before slowest service finished: %v", elapsed)
	}
	if elapsed >= 550*time.Millisecond {
		t.Fatalf("services appear to run sequentially: %v", elapsed)
	}
}

func TestFailureDoesNotCancelSiblings(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{
		desc("bad", "test/svc:Sleeper", map[string]any{"fail": "kaput"}),
		desc("slow", "test/svc:Sleeper", map[string]any{"delay": "150ms"}),
	}
	m := New(p, scope.New(), registry(&built, &runs))
	begin := time.Now()
	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("expected failure to surface, got %v", err)
	}
	if time.Since(begin) < 150*time.Millisecond {
		t.Fatalf("join returned before the sibling completed")
	}
}

func TestCancellationReachesServices(t *testing.T) {
	var built, runs atomic.Int32
	p := staticProvider{desc("forever", "test/svc:Sleeper", map[string]any{"delay": "1h"})}
	m := New(p, scope.New(), registry(&built, &runs))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Start(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestManagerRegistersItselfAndDescribes(t *testing.T) {
	var built, runs atomic.Int32
	root := scope.New()
	m := New(staticProvider{desc("a", "test/svc:Sleeper", nil)}, root, registry(&built, &runs))
	if got, ok := scope.Get[*Manager](root); !ok || got != m {
		t.Fatalf("manager not found in root scope")
	}
	if err := m.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	info := m.Describe()
	if len(info) != 1 || info[0].Interface != "test/svc:Sleeper" || info[0].Type != "*manager.sleeper" {
		t.Fatalf("describe: %+v", info)
	}
}

func TestConstructorCanInspectManager(t *testing.T) {
	var built, runs atomic.Int32
	reg := registry(&built, &runs)
	var seen []string
	reg.RegisterModule("test/peek", service.Module{
		"Peek": func(s *scope.Scope) (service.Interface, error) {
			m, ok := scope.Get[*Manager](s)
			if !ok {
				return nil, errors.New("manager not in scope")
			}
			seen = m.Names()
			_ = m.Describe()
			return &sleeper{}, nil
		},
	})
	p := staticProvider{
		desc("a", "test/svc:Sleeper", nil),
		desc("peek", "test/peek:Peek", nil),
	}
	m := New(p, scope.New(), reg)

	done := make(chan error, 1)
	go func() { done <- m.Build() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("build: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("build deadlocked")
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("constructor should see earlier services, got %v", seen)
	}
}
