package scope

import (
	"errors"
	"testing"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

type french struct{}

func (french) Greet() string { return "bonjour" }

func TestChildFallsBackToParent(t *testing.T) {
	root := New()
	root.Add(english{})
	child := root.Branch()
	g, ok := Get[greeter](child)
	if !ok || g.Greet() != "hello" {
		t.Fatalf("expected parent value, got %v %v", g, ok)
	}
	if child.Parent() != root {
		t.Fatalf("parent link broken")
	}
}

func TestChildValuesStayLocal(t *testing.T) {
	root := New()
	child := root.Branch()
	child.Add(french{})
	if _, ok := Get[greeter](root); ok {
		t.Fatalf("parent must not see child values")
	}
	g, _ := Get[greeter](child)
	if g.Greet() != "bonjour" {
		t.Fatalf("child lookup: %v", g)
	}
}

func TestMostRecentWins(t *testing.T) {
	s := New()
	s.Add(english{})
	s.Add(french{})
	g, _ := Get[greeter](s)
	if g.Greet() != "bonjour" {
		t.Fatalf("expected most recent, got %s", g.Greet())
	}
	child := s.Branch()
	child.Add(english{})
	g, _ = Get[greeter](child)
	if g.Greet() != "hello" {
		t.Fatalf("local must shadow parent, got %s", g.Greet())
	}
}

func TestNamed(t *testing.T) {
	s := New()
	s.AddNamed("en", english{})
	s.AddNamed("fr", french{})
	g, ok := Named[greeter](s, "en")
	if !ok || g.Greet() != "hello" {
		t.Fatalf("named lookup: %v %v", g, ok)
	}
	if _, ok := Named[greeter](s, "de"); ok {
		t.Fatalf("unexpected hit")
	}
	if _, ok := Named[*int](s, "en"); ok {
		t.Fatalf("type must match as well as name")
	}
}

func TestRequireAndProvide(t *testing.T) {
	s := New()
	if _, err := Require[greeter](s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	calls := 0
	factory := func(*Scope) (greeter, error) {
		calls++
		return english{}, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := Provide[greeter](s, factory); err != nil {
			t.Fatalf("provide: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("factory should run once, ran %d", calls)
	}
	if _, err := Require[greeter](s); err != nil {
		t.Fatalf("require after provide: %v", err)
	}
}

func TestNilIgnored(t *testing.T) {
	s := New()
	s.Add(nil)
	if s.Len() != 0 {
		t.Fatalf("nil should not be stored")
	}
}
