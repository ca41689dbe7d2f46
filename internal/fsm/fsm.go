// Package fsm holds the pure transition tables for interview sessions and voice calls.
package fsm

import "fmt"

type State string

type Event string

const (
	StateSetup           State = "setup"
	StateReadinessCheck  State = "readiness_check"
	StateMediaReady      State = "media_ready"
	StateInCall          State = "in_call"
	StateWrappingUp      State = "wrapping_up"
	StateFeedbackPending State = "feedback_pending"
	StateComplete        State = "complete"
	StateAborted         State = "aborted"
)

const (
	EventCheck       Event = "check"
	EventProceed     Event = "proceed"
	EventCallStarted Event = "call_started"
	EventWrapUp      Event = "wrap_up"
	EventCallEnded   Event = "call_ended"
	EventHandedOff   Event = "handed_off"
	EventAbort       Event = "abort"
)

// Transition returns the session phase reached by applying event to current.
func Transition(current State, event Event) (State, error) {
	if event == EventAbort {
		if current == StateComplete || current == StateAborted {
			return current, invalidTransition(current, event)
		}
		return StateAborted, nil
	}

	switch current {
	case StateSetup:
		switch event {
		case EventCheck:
			return StateReadinessCheck, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReadinessCheck:
		switch event {
		case EventProceed:
			return StateMediaReady, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateMediaReady:
		switch event {
		case EventCallStarted:
			return StateInCall, nil
		case EventCallEnded:
			return StateFeedbackPending, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateInCall:
		switch event {
		case EventWrapUp:
			return StateWrappingUp, nil
		case EventCallEnded:
			return StateFeedbackPending, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateWrappingUp:
		switch event {
		case EventCallEnded:
			return StateFeedbackPending, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFeedbackPending:
		switch event {
		case EventHandedOff:
			return StateComplete, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateComplete, StateAborted:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Terminal reports whether no further session events are accepted.
func Terminal(s State) bool {
	return s == StateComplete || s == StateAborted
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
