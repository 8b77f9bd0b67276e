package ratelimit

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestDelay != 250*time.Millisecond {
		t.Errorf("RequestDelay = %v, want 250ms", cfg.RequestDelay)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
}

func TestNewWithNilConfigUsesDefaults(t *testing.T) {
	l := New(nil)

	if l.CurrentDelay() != 250*time.Millisecond {
		t.Errorf("CurrentDelay = %v, want default 250ms", l.CurrentDelay())
	}
}

func TestNoteThrottledBacksOff(t *testing.T) {
	l := New(&Config{
		RequestDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
	})

	l.NoteThrottled()
	if got := l.CurrentDelay(); got != 200*time.Millisecond {
		t.Errorf("after one throttle: CurrentDelay = %v, want 200ms", got)
	}

	l.NoteThrottled()
	if got := l.CurrentDelay(); got != 400*time.Millisecond {
		t.Errorf("after two throttles: CurrentDelay = %v, want 400ms", got)
	}
}

func TestNoteThrottledCapsAtMaxDelay(t *testing.T) {
	l := New(&Config{
		RequestDelay:      100 * time.Millisecond,
		BackoffMultiplier: 10.0,
		MaxDelay:          500 * time.Millisecond,
	})

	l.NoteThrottled()
	l.NoteThrottled()
	l.NoteThrottled()

	if got := l.CurrentDelay(); got != 500*time.Millisecond {
		t.Errorf("CurrentDelay = %v, want capped 500ms", got)
	}
}

func TestNoteSuccessResetsBackoff(t *testing.T) {
	l := New(&Config{
		RequestDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
	})

	l.NoteThrottled()
	l.NoteThrottled()
	l.NoteSuccess()

	if got := l.CurrentDelay(); got != 100*time.Millisecond {
		t.Errorf("CurrentDelay after success = %v, want 100ms", got)
	}
}
