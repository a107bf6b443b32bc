package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != SignedOut {
		t.Errorf("initial state = %s, want SIGNED_OUT", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{SignedOut, Connecting},
		{SignedOut, Error},
		{Connecting, Syncing},
		{Connecting, SignedOut},
		{Syncing, Ready},
		{Syncing, Degraded},
		{Ready, Degraded},
		{Ready, SignedOut},
		{Degraded, Ready},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(SIGNED_OUT -> READY) should fail")
	}
	if m.Current() != SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSessionStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSessionStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != SignedOut || change.To != Connecting {
		t.Errorf("change = %v -> %v, want SIGNED_OUT -> CONNECTING", change.From, change.To)
	}
}

// A broken subscription degrades the session; the next good snapshot
// restores it without another event for repeated failures.
func TestEnsureDegradedRoundTrip(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	walkTo(t, m, Ready)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	for range 3 {
		if err := m.Ensure(Degraded); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Ensure(Ready); err != nil {
		t.Fatal(err)
	}
	if len(ch) != 2 {
		t.Errorf("events = %d, want 2", len(ch))
	}
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestEnsureRejectsInvalid(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Ensure(Degraded); err == nil {
		t.Error("Ensure(DEGRADED) from SIGNED_OUT should fail")
	}
}

// TestSignInLifecycle walks a fresh sign-in and a sign-out:
// SIGNED_OUT → CONNECTING → SYNCING → READY → SIGNED_OUT
func TestSignInLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Syncing, Ready, SignedOut}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		SignedOut:  {},
		Connecting: {Connecting},
		Syncing:    {Connecting, Syncing},
		Ready:      {Connecting, Syncing, Ready},
		Degraded:   {Connecting, Syncing, Degraded},
		Error:      {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
