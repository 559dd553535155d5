package connection

import "testing"

func TestLegalTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateInitializing, StateActive},
		{StateInitializing, StateReconnecting},
		{StateInitializing, StateFailed},
		{StateInitializing, StateClosed},
		{StateActive, StateDegraded},
		{StateActive, StateClosed},
		{StateDegraded, StateActive},
		{StateDegraded, StateReconnecting},
		{StateDegraded, StateClosed},
		{StateReconnecting, StateActive},
		{StateReconnecting, StateFailed},
		{StateReconnecting, StateClosed},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	refused := []struct{ from, to State }{
		{StateClosed, StateActive},
		{StateClosed, StateReconnecting},
		{StateFailed, StateActive},
		{StateFailed, StateReconnecting},
		{StateActive, StateInitializing},
		{StateDegraded, StateInitializing},
		{StateReconnecting, StateDegraded},
	}
	for _, tc := range refused {
		if canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be refused", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateInitializing, StateActive, StateDegraded, StateReconnecting} {
		if s.Terminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
	for _, s := range []State{StateClosed, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s not reported terminal", s)
		}
	}
}

func TestStateStrings(t *testing.T) {
	want := map[State]string{
		StateInitializing: "initializing",
		StateActive:       "active",
		StateDegraded:     "degraded",
		StateReconnecting: "reconnecting",
		StateClosed:       "closed",
		StateFailed:       "failed",
	}
	for s, str := range want {
		if s.String() != str {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), str)
		}
	}
}
