package demo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loykin/symbiont/internal/config"
	mng "github.com/loykin/symbiont/internal/manager"
	"github.com/loykin/symbiont/internal/scope"
)

const twoServices = `{
  "services": [
    {"name": "heart", "interface": "symbiont/demo:Heartbeat", "interval": "10ms"},
    {"name": "greeter", "interface": "symbiont/demo:Greeter", "heartbeat": "heart", "interval": 0.01, "greeting": "hi"}
  ]
}`

func TestGreeterSeesHeartbeat(t *testing.T) {
	cfg, err := config.LoadReader(strings.NewReader(twoServices), "json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	root := scope.New()
	m := mng.New(cfg, root, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	inst, ok := m.Instance("heart")
	if !ok {
		t.Fatal("heartbeat not built")
	}
	heart := inst.(*Heartbeat)
	if heart.Beat() == 0 {
		t.Fatal("expected at least one beat")
	}
	g, _ := m.Instance("greeter")
	msg := g.(*Greeter).Greet()
	if !strings.HasPrefix(msg, "hi (heartbeat ") {
		t.Fatalf("unexpected greeting %q", msg)
	}
}

func TestGreeterWithoutHeartbeat(t *testing.T) {
	s := scope.New()
	s.Add(config.ServiceConfig{Name: "greeter", Interface: GreeterLocator})
	if _, err := NewGreeter(s); !errors.Is(err, ErrNoHeartbeat) {
		t.Fatalf("expected ErrNoHeartbeat, got %v", err)
	}
}

func TestGreeterNamedHeartbeat(t *testing.T) {
	s := scope.New()
	s.AddNamed("a", &Heartbeat{})
	b := &Heartbeat{}
	b.beats.Store(7)
	s.AddNamed("b", b)
	s.AddNamed("c", &Heartbeat{})
	child := s.Branch()
	child.Add(config.ServiceConfig{Name: "greeter", Settings: map[string]any{HeartbeatKey: "b"}})
	inst, err := NewGreeter(child)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := inst.(*Greeter).Greet(); got != "hello (heartbeat 7)" {
		t.Fatalf("unexpected greeting %q", got)
	}
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		raw  any
		want time.Duration
		err  bool
	}{
		{nil, DefaultInterval, false},
		{"250ms", 250 * time.Millisecond, false},
		{2, 2 * time.Second, false},
		{0.5, 500 * time.Millisecond, false},
		{"soon", 0, true},
		{-1, 0, true},
	}
	for _, c := range cases {
		settings := map[string]any{}
		if c.raw != nil {
			settings[IntervalKey] = c.raw
		}
		got, err := parseInterval(config.ServiceConfig{Settings: settings})
		if c.err {
			if err == nil {
				t.Fatalf("%v: expected error", c.raw)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%v: got %v, %v; want %v", c.raw, got, err, c.want)
		}
	}
}
