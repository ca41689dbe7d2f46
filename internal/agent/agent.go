// Package agent drives one voice call with the remote interviewer agent and
// accumulates its transcript.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/candor/internal/agent/wire"
	"github.com/rbright/candor/internal/transcript"
)

// Termination reasons produced by the agent side of a call.
const (
	ReasonCallEnd    = "call_end"
	ReasonAgentError = "agent_error"
)

var (
	ErrNotActive = errors.New("voice call is not active")
	ErrEnded     = errors.New("voice call already ended")
)

// Transport is the connection to a remote voice agent.
type Transport interface {
	// Start opens the call and begins streaming audio upstream. It returns
	// once the agent accepted the start request.
	Start(ctx context.Context, opts Options, audio <-chan []byte) error
	// Stop hangs up. It is safe to call more than once.
	Stop(ctx context.Context) error
	// Events delivers downstream events until the call is over.
	Events() <-chan Event
}

// Event is one downstream notification from the agent.
type Event struct {
	Type         string
	Role         transcript.Role
	Content      string
	Partial      bool
	Conversation []transcript.Turn
	Reason       string
	Audio        []byte
	Err          error
}

// EventFromFrame converts a wire frame into an Event.
func EventFromFrame(frame wire.Frame) (Event, error) {
	ev := Event{
		Type:         frame.Type,
		Role:         transcript.Role(frame.Role),
		Content:      frame.Content,
		Partial:      frame.Partial,
		Conversation: frame.Conversation,
		Reason:       frame.Reason,
	}
	switch frame.Type {
	case wire.TypeAudio:
		pcm, err := frame.PCM()
		if err != nil {
			return Event{}, err
		}
		ev.Audio = pcm
	case wire.TypeError:
		message := frame.Message
		if message == "" {
			message = "voice agent error"
		}
		ev.Err = errors.New(message)
	}
	return ev, nil
}

// ErrorEvent builds the event a transport emits when its connection fails.
func ErrorEvent(err error) Event {
	return Event{Type: wire.TypeError, Err: fmt.Errorf("voice agent connection: %w", err)}
}
