package typing

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	writes []bool
}

func (r *recorder) set(_ context.Context, v bool) error {
	r.mu.Lock()
	r.writes = append(r.writes, v)
	r.mu.Unlock()
	return nil
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.writes)
}

func (r *recorder) waitFor(t *testing.T, want []bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Equal(r.got(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("writes = %v, want %v", r.got(), want)
}

func TestKeystrokesCoalesce(t *testing.T) {
	r := &recorder{}
	d := New(r.set, 50*time.Millisecond, nil)
	defer d.Close()

	for range 5 {
		d.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	r.waitFor(t, []bool{true})
	if !d.Typing() {
		t.Fatal("not typing while keys are pressed")
	}
	r.waitFor(t, []bool{true, false})
	if d.Typing() {
		t.Fatal("still typing after timeout")
	}
}

func TestKeystrokeResetsDeadline(t *testing.T) {
	r := &recorder{}
	d := New(r.set, 80*time.Millisecond, nil)
	defer d.Close()

	var last time.Time
	for range 6 {
		last = time.Now()
		d.Keystroke()
		time.Sleep(30 * time.Millisecond)
	}
	// Gaps shorter than the timeout never clear.
	if got := r.got(); !slices.Equal(got, []bool{true}) {
		t.Fatalf("writes during burst = %v, want [true]", got)
	}
	r.waitFor(t, []bool{true, false})
	if elapsed := time.Since(last); elapsed < 80*time.Millisecond {
		t.Fatalf("typing cleared %v after the last keystroke, before its deadline", elapsed)
	}
}

func TestSentClearsImmediately(t *testing.T) {
	r := &recorder{}
	d := New(r.set, time.Hour, nil)
	defer d.Close()

	d.Keystroke()
	d.Sent()
	r.waitFor(t, []bool{true, false})

	// A new burst after sending reports typing again.
	d.Keystroke()
	r.waitFor(t, []bool{true, false, true})
}

func TestSentWithoutTypingIsSilent(t *testing.T) {
	r := &recorder{}
	d := New(r.set, time.Hour, nil)
	d.Sent()
	d.Close()
	if got := r.got(); len(got) != 0 {
		t.Fatalf("writes = %v, want none", got)
	}
}

func TestCloseCancelsPendingClear(t *testing.T) {
	r := &recorder{}
	d := New(r.set, 30*time.Millisecond, nil)

	d.Keystroke()
	r.waitFor(t, []bool{true})
	d.Close()
	d.Close()

	time.Sleep(100 * time.Millisecond)
	if got := r.got(); !slices.Equal(got, []bool{true}) {
		t.Fatalf("writes after close = %v, want [true]", got)
	}
	d.Keystroke()
	d.Sent()
	if got := r.got(); !slices.Equal(got, []bool{true}) {
		t.Fatalf("closed debouncer wrote %v", got)
	}
}
