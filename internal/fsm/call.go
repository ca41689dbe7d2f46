package fsm

type CallState string

type CallEvent string

const (
	CallIdle     CallState = "idle"
	CallStarting CallState = "starting"
	CallActive   CallState = "active"
	CallEnding   CallState = "ending"
	CallEnded    CallState = "ended"
	CallError    CallState = "error"
)

const (
	CallEventStart     CallEvent = "start"
	CallEventConfirmed CallEvent = "confirmed"
	CallEventStop      CallEvent = "stop"
	CallEventFinished  CallEvent = "finished"
	CallEventFail      CallEvent = "fail"
)

// CallTransition applies one voice-call lifecycle event.
func CallTransition(current CallState, event CallEvent) (CallState, error) {
	switch current {
	case CallIdle, CallError:
		switch event {
		case CallEventStart:
			return CallStarting, nil
		default:
			return current, invalidCallTransition(current, event)
		}
	case CallStarting:
		switch event {
		case CallEventConfirmed:
			return CallActive, nil
		case CallEventStop:
			return CallEnding, nil
		case CallEventFail:
			return CallError, nil
		default:
			return current, invalidCallTransition(current, event)
		}
	case CallActive:
		switch event {
		case CallEventStop:
			return CallEnding, nil
		case CallEventFail:
			return CallError, nil
		default:
			return current, invalidCallTransition(current, event)
		}
	case CallEnding:
		switch event {
		case CallEventFinished:
			return CallEnded, nil
		default:
			return current, invalidCallTransition(current, event)
		}
	case CallEnded:
		return current, invalidCallTransition(current, event)
	default:
		return current, invalidCallTransition(current, event)
	}
}

func invalidCallTransition(state CallState, event CallEvent) error {
	return invalidTransition(State(state), Event(event))
}
