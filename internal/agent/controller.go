package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/candor/internal/agent/wire"
	"github.com/rbright/candor/internal/fsm"
	"github.com/rbright/candor/internal/interview"
	"github.com/rbright/candor/internal/transcript"
	"github.com/rbright/candor/internal/turn"
)

// Ended is the final outcome of one call, produced exactly once.
type Ended struct {
	Transcript []transcript.Turn
	Reason     string
	Err        error
}

// Update is what the session loop needs to react to after one event.
type Update struct {
	Started   bool
	Speech    turn.Signal
	Caption   string
	Assistant string
	Audio     []byte
	Err       error
	Ended     *Ended
}

// Controller owns the call lifecycle and the transcript. Apply and Stop are
// meant to be called from a single session goroutine.
type Controller struct {
	transport Transport
	defaults  Options
	logger    *slog.Logger

	mu           sync.Mutex
	state        fsm.CallState
	conversation transcript.Transcript
	finals       transcript.Transcript
	synced       bool
	ended        bool
}

// NewController builds a controller over transport.
func NewController(transport Transport, defaults Options, logger *slog.Logger) *Controller {
	return &Controller{
		transport: transport,
		defaults:  defaults,
		logger:    logger,
		state:     fsm.CallIdle,
	}
}

// State returns the call lifecycle state.
func (c *Controller) State() fsm.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events exposes the transport's downstream events.
func (c *Controller) Events() <-chan Event {
	return c.transport.Events()
}

// Start places the call. It is a no-op while a call is starting or active.
// A transport failure leaves the controller in the error state, from which
// Start may be retried.
func (c *Controller) Start(ctx context.Context, cfg interview.Config, audio <-chan []byte) error {
	c.mu.Lock()
	if c.state == fsm.CallStarting || c.state == fsm.CallActive {
		c.mu.Unlock()
		return nil
	}
	if c.ended {
		c.mu.Unlock()
		return ErrEnded
	}
	next, err := fsm.CallTransition(c.state, fsm.CallEventStart)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.conversation.Reset()
	c.finals.Reset()
	c.synced = false
	c.mu.Unlock()

	opts, err := c.defaults.For(cfg)
	if err == nil {
		err = c.transport.Start(ctx, opts, audio)
	}
	if err != nil {
		c.fail()
		c.log(slog.LevelWarn, "voice call start failed", "error", err.Error())
		return fmt.Errorf("start voice call: %w", err)
	}
	c.log(slog.LevelInfo, "voice call starting", "interview", cfg.InterviewID, "questions", len(opts.Metadata.Questions))
	return nil
}

// Apply folds one transport event into the call state.
func (c *Controller) Apply(ev Event) Update {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return Update{}
	}

	var update Update
	switch ev.Type {
	case wire.TypeCallStart:
		if c.state == fsm.CallStarting {
			c.state, _ = fsm.CallTransition(c.state, fsm.CallEventConfirmed)
			update.Started = true
		}
	case wire.TypeSpeechStart:
		update.Speech = turn.SignalSpeechStart
	case wire.TypeSpeechEnd:
		update.Speech = turn.SignalSpeechEnd
	case wire.TypeMessage:
		c.applyMessage(ev, &update)
	case wire.TypeAudio:
		update.Audio = ev.Audio
	case wire.TypeCallEnd:
		c.mu.Unlock()
		update.Ended = c.finish(ReasonCallEnd, nil)
		return update
	case wire.TypeError:
		if c.state == fsm.CallActive {
			c.mu.Unlock()
			update.Ended = c.finish(ReasonAgentError, ev.Err)
			return update
		}
		if c.state == fsm.CallStarting {
			c.state, _ = fsm.CallTransition(c.state, fsm.CallEventFail)
		}
		update.Err = ev.Err
	}
	c.mu.Unlock()
	return update
}

func (c *Controller) applyMessage(ev Event, update *Update) {
	if len(ev.Conversation) > 0 {
		c.synced = true
		c.conversation.Sync(ev.Conversation)
	}
	content := strings.TrimSpace(ev.Content)
	if content == "" {
		return
	}
	update.Caption = content
	if strings.EqualFold(string(ev.Role), string(transcript.RoleAssistant)) {
		update.Assistant = content
	}
	if !ev.Partial {
		c.finals.Append(transcript.Turn{Role: ev.Role, Content: content})
	}
}

// Stop hangs up with reason. It returns the call outcome when this call
// ended it, or nil when the call already ended or never started.
func (c *Controller) Stop(ctx context.Context, reason string) (*Ended, error) {
	c.mu.Lock()
	if c.ended || (c.state != fsm.CallStarting && c.state != fsm.CallActive) {
		c.mu.Unlock()
		return nil, nil
	}
	c.state, _ = fsm.CallTransition(c.state, fsm.CallEventStop)
	c.mu.Unlock()

	err := c.transport.Stop(ctx)
	if err != nil {
		c.log(slog.LevelWarn, "voice call stop failed", "error", err.Error())
	}
	return c.finish(reason, nil), err
}

// finish is the single exit path shared by Stop and a natural call end.
func (c *Controller) finish(reason string, cause error) *Ended {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return nil
	}
	if c.state == fsm.CallStarting || c.state == fsm.CallActive {
		c.state, _ = fsm.CallTransition(c.state, fsm.CallEventStop)
	}
	if c.state == fsm.CallEnding {
		c.state, _ = fsm.CallTransition(c.state, fsm.CallEventFinished)
	}
	c.ended = true

	turns := c.finals.Turns()
	if c.synced {
		turns = c.conversation.Turns()
	}
	c.conversation.Reset()
	c.finals.Reset()

	c.log(slog.LevelInfo, "voice call ended", "reason", reason, "turns", len(turns))
	return &Ended{Transcript: turns, Reason: reason, Err: cause}
}

func (c *Controller) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, _ = fsm.CallTransition(c.state, fsm.CallEventFail)
}

func (c *Controller) log(level slog.Level, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(context.Background(), level, msg, args...)
}
