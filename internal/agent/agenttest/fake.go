// Package agenttest provides a scripted voice agent transport for tests.
package agenttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/agent/wire"
	"github.com/rbright/candor/internal/transcript"
)

// Transport records calls and lets tests push downstream events.
type Transport struct {
	StartErr error
	StopErr  error

	Starts atomic.Int32
	Stops  atomic.Int32

	mu      sync.Mutex
	options []agent.Options
	audio   <-chan []byte
	events  chan agent.Event
}

// New builds a transport with a buffered event channel.
func New() *Transport {
	return &Transport{events: make(chan agent.Event, 64)}
}

func (t *Transport) Start(_ context.Context, opts agent.Options, audio <-chan []byte) error {
	t.Starts.Add(1)
	t.mu.Lock()
	t.options = append(t.options, opts)
	t.audio = audio
	t.mu.Unlock()
	return t.StartErr
}

func (t *Transport) Stop(context.Context) error {
	t.Stops.Add(1)
	return t.StopErr
}

func (t *Transport) Events() <-chan agent.Event { return t.events }

// Options returns the options of every Start call.
func (t *Transport) Options() []agent.Options {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]agent.Options(nil), t.options...)
}

// Audio returns the upstream audio channel of the last Start call.
func (t *Transport) Audio() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

// Emit queues one downstream event.
func (t *Transport) Emit(ev agent.Event) { t.events <- ev }

func (t *Transport) CallStart()   { t.Emit(agent.Event{Type: wire.TypeCallStart}) }
func (t *Transport) SpeechStart() { t.Emit(agent.Event{Type: wire.TypeSpeechStart}) }
func (t *Transport) SpeechEnd()   { t.Emit(agent.Event{Type: wire.TypeSpeechEnd}) }
func (t *Transport) CallEnd()     { t.Emit(agent.Event{Type: wire.TypeCallEnd}) }

// Say emits a final utterance.
func (t *Transport) Say(role transcript.Role, content string) {
	t.Emit(agent.Event{Type: wire.TypeMessage, Role: role, Content: content})
}

// Conversation emits a running conversation snapshot.
func (t *Transport) Conversation(turns ...transcript.Turn) {
	t.Emit(agent.Event{Type: wire.TypeMessage, Conversation: turns})
}
