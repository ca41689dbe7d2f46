// Package session sequences one live interview: readiness, media, the voice
// call, presence enforcement, wrap-up and the transcript handoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/clock"
	"github.com/rbright/candor/internal/fsm"
	"github.com/rbright/candor/internal/interview"
	"github.com/rbright/candor/internal/ipc"
	"github.com/rbright/candor/internal/media"
	"github.com/rbright/candor/internal/presence"
	"github.com/rbright/candor/internal/readiness"
	"github.com/rbright/candor/internal/turn"
)

// Config is the immutable interview input of one session.
type Config = interview.Config

// Termination reasons.
const (
	ReasonUserExit        = "user_exit"
	ReasonFaceNotDetected = "face_not_detected"
	ReasonCameraError     = "camera_error"
	ReasonWrapUp          = "wrap_up"
	ReasonCallEnd         = agent.ReasonCallEnd
	ReasonAgentError      = agent.ReasonAgentError
	ReasonCancelled       = "cancelled"
)

// ErrAborted wraps the error of every session that ended in the aborted phase.
var ErrAborted = errors.New("interview session aborted")

// Aborts reports whether reason ends the session in the aborted phase.
func Aborts(reason string) bool {
	return reason != ReasonWrapUp && reason != ReasonCallEnd
}

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	SessionID  string
	Phase      fsm.State
	Reason     string
	Turns      int
	Outcome    Outcome
	Overridden bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Readiness is the session-facing subset of readiness.Checker.
type Readiness interface {
	RunAll(context.Context) readiness.Report
	Retry(context.Context, readiness.Name) (readiness.Report, error)
	Report() readiness.Report
	Changed() <-chan struct{}
	Close()
}

// Media is the session-facing subset of media.Acquirer.
type Media interface {
	Acquire(context.Context, media.Constraints) (*media.Stream, error)
	SetAudioEnabled(bool) error
	SetVideoEnabled(bool) error
	Attach(media.Sink)
	Release() error
}

// Call is the session-facing subset of agent.Controller.
type Call interface {
	Start(context.Context, interview.Config, <-chan []byte) error
	Apply(agent.Event) agent.Update
	Stop(context.Context, string) (*agent.Ended, error)
	Events() <-chan agent.Event
}

// Player plays interviewer audio.
type Player interface {
	Play([]byte)
	Flush()
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowReadiness(context.Context, readiness.Report)
	ShowInCall(context.Context)
	ShowPresenceWarning(context.Context)
	ShowCountdown(context.Context, int)
	ShowFeedbackPending(context.Context)
	ShowDone(context.Context, string)
	ShowError(context.Context, string)
	CueStart(context.Context)
	CueWrapUp(context.Context)
	CueEnd(context.Context)
	CueError(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowReadiness(context.Context, readiness.Report) {}
func (noopIndicator) ShowInCall(context.Context)                      {}
func (noopIndicator) ShowPresenceWarning(context.Context)             {}
func (noopIndicator) ShowCountdown(context.Context, int)              {}
func (noopIndicator) ShowFeedbackPending(context.Context)             {}
func (noopIndicator) ShowDone(context.Context, string)                {}
func (noopIndicator) ShowError(context.Context, string)               {}
func (noopIndicator) CueStart(context.Context)                        {}
func (noopIndicator) CueWrapUp(context.Context)                       {}
func (noopIndicator) CueEnd(context.Context)                          {}
func (noopIndicator) CueError(context.Context)                        {}

// Deps are the collaborators of one session. Readiness, Media, Call and
// Committer are required.
type Deps struct {
	Readiness Readiness
	Media     Media
	Call      Call
	Committer Committer
	Indicator Indicator
	Player    Player
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Options tune session policy.
type Options struct {
	Constraints media.Constraints

	// MediaAttempts bounds device acquisition and call start attempts.
	MediaAttempts int

	PresenceInterval  time.Duration
	PresenceWarnAfter time.Duration
	PresenceExitAfter time.Duration
	PresenceThreshold float64

	CountdownSeconds int
	FarewellPhrases  []string

	StopTimeout    time.Duration
	HandoffTimeout time.Duration
}

// DefaultMediaAttempts is the acquisition retry bound.
const DefaultMediaAttempts = 3

func (o Options) withDefaults() Options {
	if o.MediaAttempts <= 0 {
		o.MediaAttempts = DefaultMediaAttempts
	}
	if o.CountdownSeconds <= 0 {
		o.CountdownSeconds = turn.DefaultCountdownSeconds
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.HandoffTimeout <= 0 {
		o.HandoffTimeout = 2 * time.Minute
	}
	return o
}

// Status is the snapshot reported to IPC clients.
type Status struct {
	Phase     fsm.State
	Turn      turn.State
	Countdown int
	Warning   bool
	Muted     bool
	CameraOff bool
	Waiting   string
}

func (s Status) String() string {
	parts := []string{string(s.Phase)}
	if s.Turn != turn.StateUnknown {
		parts = append(parts, "turn="+string(s.Turn))
	}
	if s.Countdown > 0 {
		parts = append(parts, fmt.Sprintf("wrap-up in %ds", s.Countdown))
	}
	if s.Warning {
		parts = append(parts, "presence warning")
	}
	if s.Muted {
		parts = append(parts, "muted")
	}
	if s.CameraOff {
		parts = append(parts, "camera off")
	}
	if s.Waiting != "" {
		parts = append(parts, "waiting for "+s.Waiting)
	}
	return strings.Join(parts, ", ")
}

type actionKind int

const (
	actionProceed actionKind = iota + 1
	actionRetry
	actionHere
	actionMute
	actionUnmute
	actionCameraOn
	actionCameraOff
)

type action struct {
	kind  actionKind
	check readiness.Name
}

// Orchestrator owns one interview session. Run drives it on a single
// goroutine; Handle may be called concurrently from the IPC server.
type Orchestrator struct {
	id        string
	cfg       Config
	opts      Options
	logger    *slog.Logger
	clock     clock.Clock
	readiness Readiness
	media     Media
	call      Call
	commit    Committer
	indicator Indicator
	player    Player

	mu     sync.RWMutex
	status Status

	actions chan action
	exits   chan struct{}

	// Owned by the Run goroutine.
	tracker    turn.Tracker
	detector   turn.Detector
	countdown  turn.Countdown
	ticker     clock.Ticker
	monitor    *presence.Monitor
	poller     *presence.Poller
	committed  bool
	overridden bool
}

// New builds an orchestrator for cfg with safe default fallbacks.
func New(cfg Config, deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if deps.Indicator == nil {
		deps.Indicator = noopIndicator{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Committer == nil {
		deps.Committer = CommitFunc(func(context.Context, Handoff) (Outcome, error) {
			return Outcome{}, errors.New("no committer configured")
		})
	}

	return &Orchestrator{
		id:        uuid.NewString(),
		cfg:       cfg,
		opts:      opts,
		logger:    deps.Logger,
		clock:     deps.Clock,
		readiness: deps.Readiness,
		media:     deps.Media,
		call:      deps.Call,
		commit:    deps.Committer,
		indicator: deps.Indicator,
		player:    deps.Player,
		status:    Status{Phase: fsm.StateSetup},
		actions:   make(chan action, 4),
		exits:     make(chan struct{}, 1),
		detector:  turn.NewDetector(opts.FarewellPhrases),
		monitor:   presence.NewMonitor(opts.PresenceInterval, opts.PresenceWarnAfter, opts.PresenceExitAfter),
	}
}

// ID returns the session id sent with the handoff.
func (o *Orchestrator) ID() string { return o.id }

// Phase returns the current session phase.
func (o *Orchestrator) Phase() fsm.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.Phase
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) transition(event fsm.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, err := fsm.Transition(o.status.Phase, event)
	if err != nil {
		return err
	}
	o.status.Phase = next
	return nil
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.status)
	o.mu.Unlock()
}

// Handle serves IPC commands for the owner session.
func (o *Orchestrator) Handle(_ context.Context, req ipc.Request) ipc.Response {
	status := o.Status()
	phase := status.Phase

	switch req.Command {
	case "status":
		return ipc.Response{OK: true, State: string(phase), Message: status.String()}
	case "exit":
		return o.requestExit(phase)
	}

	if fsm.Terminal(phase) {
		return ipc.Response{OK: false, State: string(phase), Error: "session is finished"}
	}

	switch req.Command {
	case "proceed":
		if phase != fsm.StateReadinessCheck {
			return o.reject(phase, req.Command)
		}
		return o.enqueue(phase, "proceed", action{kind: actionProceed})
	case "retry":
		switch phase {
		case fsm.StateReadinessCheck:
			name, err := readiness.ParseName(req.Arg)
			if err != nil {
				return ipc.Response{OK: false, State: string(phase), Error: err.Error()}
			}
			return o.enqueue(phase, "retry "+string(name), action{kind: actionRetry, check: name})
		case fsm.StateMediaReady:
			if status.Waiting == "" {
				return ipc.Response{OK: false, State: string(phase), Error: "nothing to retry"}
			}
			return o.enqueue(phase, "retry", action{kind: actionRetry})
		default:
			return o.reject(phase, req.Command)
		}
	case "here":
		if phase != fsm.StateInCall && phase != fsm.StateWrappingUp {
			return o.reject(phase, req.Command)
		}
		return o.enqueue(phase, "here", action{kind: actionHere})
	case "mute", "unmute", "camera-on", "camera-off":
		if phase != fsm.StateMediaReady && phase != fsm.StateInCall && phase != fsm.StateWrappingUp {
			return o.reject(phase, req.Command)
		}
		kinds := map[string]actionKind{
			"mute":       actionMute,
			"unmute":     actionUnmute,
			"camera-on":  actionCameraOn,
			"camera-off": actionCameraOff,
		}
		return o.enqueue(phase, req.Command, action{kind: kinds[req.Command]})
	default:
		return ipc.Response{OK: false, State: string(phase), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (o *Orchestrator) reject(phase fsm.State, command string) ipc.Response {
	return ipc.Response{OK: false, State: string(phase), Error: fmt.Sprintf("cannot %s from phase %s", command, phase)}
}

// requestExit enqueues the exit request. It is accepted in every live phase.
func (o *Orchestrator) requestExit(phase fsm.State) ipc.Response {
	if phase == fsm.StateFeedbackPending {
		return ipc.Response{OK: false, State: string(phase), Error: "feedback is already being generated"}
	}
	if fsm.Terminal(phase) {
		return ipc.Response{OK: false, State: string(phase), Error: "session is finished"}
	}

	select {
	case o.exits <- struct{}{}:
		return ipc.Response{OK: true, State: string(phase), Message: "exit requested"}
	default:
		return ipc.Response{OK: true, State: string(phase), Message: "exit already requested"}
	}
}

func (o *Orchestrator) enqueue(phase fsm.State, label string, a action) ipc.Response {
	select {
	case o.actions <- a:
		return ipc.Response{OK: true, State: string(phase), Message: label + " requested"}
	default:
		return ipc.Response{OK: false, State: string(phase), Error: "session is busy, try again"}
	}
}

func (o *Orchestrator) log(level slog.Level, msg string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Log(context.Background(), level, msg, append([]any{"session", o.id}, args...)...)
}
