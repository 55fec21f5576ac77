package main

import (
	"strings"
	"testing"
	"time"
)

func TestLocatorResolvePrefersVisible(t *testing.T) {
	fake := newFakeSession()
	fake.visible = map[string]bool{"#fallback": true}
	fake.exists = map[string]bool{"#primary": true}

	loc := Locator{"#primary", "#fallback"}
	sel, err := loc.Resolve(fake)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel != "#fallback" {
		t.Errorf("expected the visible selector to win, got %q", sel)
	}
}

func TestLocatorResolveFallsBackToExisting(t *testing.T) {
	fake := newFakeSession()
	fake.visible = map[string]bool{}
	fake.exists = map[string]bool{"#hidden": true}

	sel, err := Locator{"#hidden"}.Resolve(fake)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel != "#hidden" {
		t.Errorf("sel = %q", sel)
	}
}

func TestLocatorResolveNoMatch(t *testing.T) {
	fake := newFakeSession()
	fake.visible = map[string]bool{}
	fake.exists = map[string]bool{}

	_, err := Locator{"#a", "#b"}.Resolve(fake)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "#a") || !strings.Contains(err.Error(), "#b") {
		t.Errorf("error should list the tried selectors: %v", err)
	}
}

func TestAnySignal(t *testing.T) {
	policy := AnySignal{
		{Name: "first", Check: func() bool { return false }},
		{Name: "second", Check: func() bool { return true }},
	}
	ok, detail := policy.Satisfied()
	if !ok || detail != "second" {
		t.Errorf("Satisfied = %v, %q", ok, detail)
	}

	ok, _ = AnySignal{{Name: "never", Check: func() bool { return false }}}.Satisfied()
	if ok {
		t.Error("empty-handed AnySignal must not be satisfied")
	}
}

func TestAllSignals(t *testing.T) {
	ok, detail := AllSignals{
		{Name: "a", Check: func() bool { return true }},
		{Name: "b", Check: func() bool { return false }},
	}.Satisfied()
	if ok {
		t.Fatal("expected not satisfied")
	}
	if !strings.Contains(detail, "b") {
		t.Errorf("detail should name the missing signal: %q", detail)
	}

	ok, _ = AllSignals{
		{Name: "a", Check: func() bool { return true }},
	}.Satisfied()
	if !ok {
		t.Error("expected satisfied")
	}
}

func TestTimedPollStopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	sleeps := 0
	poll := TimedPoll{
		Signals: AnySignal{{Name: "ready", Check: func() bool {
			attempts++
			return attempts == 3
		}}},
		Interval:    time.Second,
		MaxAttempts: 10,
		sleep:       func(time.Duration) { sleeps++ },
	}

	ok, detail := poll.Satisfied()
	if !ok {
		t.Fatalf("expected satisfied, detail=%q", detail)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2", sleeps)
	}
}

func TestTimedPollExhaustsAttempts(t *testing.T) {
	attempts := 0
	poll := TimedPoll{
		Signals: AnySignal{{Name: "never", Check: func() bool {
			attempts++
			return false
		}}},
		Interval:    time.Second,
		MaxAttempts: 4,
		sleep:       func(time.Duration) {},
	}

	ok, detail := poll.Satisfied()
	if ok {
		t.Fatal("expected not satisfied")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if !strings.Contains(detail, "4") {
		t.Errorf("detail = %q", detail)
	}
}
