package session

import "testing"

func TestStateMachineValidPath(t *testing.T) {
	sm := newStateMachine()
	steps := []State{StateListening, StateThinking, StateSpeaking, StateListening, StateThinking, StateListening}
	for _, to := range steps {
		if err := sm.Transition(to, "test"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
}

func TestStateMachineFirstMessagePath(t *testing.T) {
	sm := newStateMachine()
	if err := sm.Transition(StateSpeaking, "first message"); err != nil {
		t.Fatalf("idle -> speaking should be valid: %v", err)
	}
	if err := sm.Transition(StateListening, "playback done"); err != nil {
		t.Fatalf("speaking -> listening should be valid: %v", err)
	}
}

func TestStateMachineRejectsInvalid(t *testing.T) {
	sm := newStateMachine()
	if err := sm.Transition(StateThinking, "test"); err == nil {
		t.Fatalf("idle -> thinking should be invalid")
	}
	_ = sm.Transition(StateListening, "test")
	if err := sm.Transition(StateSpeaking, "test"); err == nil {
		t.Fatalf("listening -> speaking should be invalid")
	}
}

func TestStateMachineTerminatedIsFinal(t *testing.T) {
	sm := newStateMachine()
	_ = sm.Transition(StateListening, "test")
	if err := sm.Transition(StateTerminated, "end"); err != nil {
		t.Fatalf("any -> terminated should be valid: %v", err)
	}
	if err := sm.Transition(StateListening, "test"); err == nil {
		t.Fatalf("terminated must be final")
	}
}

func TestStateMachineListeners(t *testing.T) {
	sm := newStateMachine()
	var changes []StateChange
	sm.AddListener(func(c StateChange) { changes = append(changes, c) })
	_ = sm.Transition(StateListening, "start")
	_ = sm.Transition(StateThinking, "endpoint")
	if len(changes) != 2 {
		t.Fatalf("expected 2 change events, got %d", len(changes))
	}
	if changes[0].From != StateIdle || changes[0].To != StateListening {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	if changes[1].Reason != "endpoint" {
		t.Fatalf("expected reason propagated, got %q", changes[1].Reason)
	}
}
