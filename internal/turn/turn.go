// Package turn projects speaking turns from agent speech events and detects
// the interviewer's closing remarks.
package turn

import "sync"

// State is whose turn it is to speak.
type State string

const (
	StateUnknown           State = ""
	StateAssistantSpeaking State = "assistant_speaking"
	StateUserTurn          State = "user_turn"
)

// Signal is the speech event kind a projection is computed from.
type Signal string

const (
	SignalSpeechStart Signal = "speech-start"
	SignalSpeechEnd   Signal = "speech-end"
)

// Project maps one speech event to the turn state it implies.
func Project(signal Signal) (State, bool) {
	switch signal {
	case SignalSpeechStart:
		return StateAssistantSpeaking, true
	case SignalSpeechEnd:
		return StateUserTurn, true
	default:
		return StateUnknown, false
	}
}

// Tracker keeps the projection of the latest speech event.
type Tracker struct {
	mu    sync.RWMutex
	state State
}

// Observe applies one event and returns the resulting state.
func (t *Tracker) Observe(signal Signal) State {
	next, ok := Project(signal)
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.state = next
	}
	return t.state
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
