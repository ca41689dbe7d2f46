package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/fsm"
	"github.com/rbright/candor/internal/media"
	"github.com/rbright/candor/internal/presence"
	"github.com/rbright/candor/internal/readiness"
	"github.com/rbright/candor/internal/transcript"
)

// Run drives the session from setup to complete or aborted.
func (o *Orchestrator) Run(ctx context.Context) Result {
	startedAt := o.clock.Now()

	result := o.run(ctx)
	result.SessionID = o.id
	result.Phase = o.Phase()
	result.Overridden = o.overridden
	result.StartedAt = startedAt
	result.FinishedAt = o.clock.Now()
	return result
}

func (o *Orchestrator) run(ctx context.Context) Result {
	if err := o.transition(fsm.EventCheck); err != nil {
		return Result{Err: err}
	}
	if result, done := o.checkReadiness(ctx); done {
		return result
	}
	o.readiness.Close()

	if err := o.transition(fsm.EventProceed); err != nil {
		return o.abort(ctx, ReasonCameraError, "", err)
	}
	stream, result, done := o.acquireMedia(ctx)
	if done {
		return result
	}
	return o.converse(ctx, stream)
}

// checkReadiness runs every check and waits until the hard checks pass or
// the candidate proceeds anyway.
func (o *Orchestrator) checkReadiness(ctx context.Context) (Result, bool) {
	report := o.readiness.RunAll(ctx)
	shown := ""

	for {
		if report.AllPassed() {
			o.log(slog.LevelInfo, "readiness passed")
			return Result{}, false
		}
		if text := report.String(); text != shown {
			shown = text
			o.indicator.ShowReadiness(ctx, report)
		}

		select {
		case <-ctx.Done():
			return o.abort(ctx, ReasonCancelled, "", ctx.Err()), true
		case <-o.exits:
			return o.abort(ctx, ReasonUserExit, "", nil), true
		case <-o.readiness.Changed():
			report = o.readiness.Report()
		case a := <-o.actions:
			switch a.kind {
			case actionProceed:
				o.overridden = true
				failed := make([]string, 0, len(report.Failed()))
				for _, check := range report.Failed() {
					failed = append(failed, string(check.Name))
				}
				o.log(slog.LevelWarn, "readiness overridden", "failed", failed)
				return Result{}, false
			case actionRetry:
				next, err := o.readiness.Retry(ctx, a.check)
				report = next
				if err != nil {
					o.indicator.ShowError(ctx, err.Error())
				}
			}
		}
	}
}

// acquireMedia opens the camera and microphone, waiting for a retry between
// recoverable failures.
func (o *Orchestrator) acquireMedia(ctx context.Context) (*media.Stream, Result, bool) {
	for attempt := 1; ; attempt++ {
		stream, err := o.media.Acquire(ctx, o.opts.Constraints)
		if err == nil {
			return stream, Result{}, false
		}
		if ctx.Err() != nil {
			return nil, o.abort(ctx, ReasonCancelled, "", ctx.Err()), true
		}

		message := media.UserMessage(err)
		o.log(slog.LevelWarn, "media acquisition failed", "attempt", attempt, "error", err.Error())
		if errors.Is(err, media.ErrPermissionDenied) {
			return nil, o.abort(ctx, ReasonCameraError, message+". Allow camera and microphone access, then start again.", err), true
		}
		if !media.Retryable(err) || attempt >= o.opts.MediaAttempts {
			return nil, o.abort(ctx, ReasonCameraError, message, err), true
		}

		o.indicator.ShowError(ctx, message+". Run `candor retry` or `candor exit`.")
		if result, done := o.awaitRetry(ctx, "media"); done {
			return nil, result, true
		}
	}
}

// awaitRetry blocks until the candidate retries or leaves.
func (o *Orchestrator) awaitRetry(ctx context.Context, what string) (Result, bool) {
	o.update(func(s *Status) { s.Waiting = what + " retry" })
	defer o.update(func(s *Status) { s.Waiting = "" })

	for {
		select {
		case <-ctx.Done():
			return o.abort(ctx, ReasonCancelled, "", ctx.Err()), true
		case <-o.exits:
			return o.abort(ctx, ReasonUserExit, "", nil), true
		case a := <-o.actions:
			if a.kind == actionRetry {
				return Result{}, false
			}
			o.applyDeviceAction(a)
		}
	}
}

// converse runs the voice call until it ends, then hands off the transcript.
func (o *Orchestrator) converse(ctx context.Context, stream *media.Stream) Result {
	var audio <-chan []byte
	if track := stream.Audio(); track != nil {
		audio = track.Chunks()
	}

	starts := 0
	startCall := func() (Result, bool) {
		for {
			starts++
			err := o.call.Start(ctx, o.cfg, audio)
			if err == nil {
				return Result{}, false
			}
			if result, done := o.callStartFailed(ctx, starts, err); done {
				return result, true
			}
		}
	}
	if result, done := startCall(); done {
		return result
	}

	videoReady := stream.VideoReady()
	var (
		observations <-chan bool
		ticks        <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return o.hangUp(ctx, ReasonCancelled, ctx.Err())
		case <-o.exits:
			return o.hangUp(ctx, ReasonUserExit, nil)
		case <-videoReady:
			videoReady = nil
			observations = o.startPresence(ctx, stream)
		case present := <-observations:
			switch o.monitor.Observe(present) {
			case presence.SignalWarn:
				o.update(func(s *Status) { s.Warning = true })
				o.log(slog.LevelWarn, "candidate not detected", "absent", o.monitor.State().ConsecutiveAbsent.String())
				o.indicator.ShowPresenceWarning(ctx)
			case presence.SignalCleared:
				o.update(func(s *Status) { s.Warning = false })
				o.indicator.ShowInCall(ctx)
			case presence.SignalExit:
				return o.hangUp(ctx, ReasonFaceNotDetected, nil)
			}
		case <-ticks:
			remaining, fire := o.countdown.Tick()
			o.update(func(s *Status) { s.Countdown = remaining })
			if fire {
				return o.hangUp(ctx, ReasonWrapUp, nil)
			}
			o.indicator.ShowCountdown(ctx, remaining)
		case a := <-o.actions:
			switch a.kind {
			case actionHere:
				o.monitor.Acknowledge()
				o.update(func(s *Status) { s.Warning = false })
				o.indicator.ShowInCall(ctx)
			default:
				o.applyDeviceAction(a)
			}
		case ev := <-o.call.Events():
			update := o.call.Apply(ev)
			if update.Ended != nil {
				return o.handOff(ctx, update.Ended)
			}
			if update.Err != nil {
				if result, done := o.callStartFailed(ctx, starts, update.Err); done {
					return result
				}
				if result, done := startCall(); done {
					return result
				}
				continue
			}
			if update.Started {
				if err := o.transition(fsm.EventCallStarted); err != nil {
					o.log(slog.LevelWarn, "ignore call start", "error", err.Error())
				}
				o.indicator.CueStart(ctx)
				o.indicator.ShowInCall(ctx)
			}
			if update.Speech != "" {
				state := o.tracker.Observe(update.Speech)
				o.update(func(s *Status) { s.Turn = state })
			}
			if len(update.Audio) > 0 && o.player != nil {
				o.player.Play(update.Audio)
			}
			if update.Assistant != "" && o.Phase() == fsm.StateInCall && o.detector.IsFarewell(update.Assistant) {
				ticks = o.startCountdown(ctx)
			}
		}
	}
}

// callStartFailed decides whether a failed call start can be retried.
func (o *Orchestrator) callStartFailed(ctx context.Context, attempt int, err error) (Result, bool) {
	o.log(slog.LevelWarn, "voice call start failed", "attempt", attempt, "error", err.Error())
	if attempt >= o.opts.MediaAttempts {
		return o.abort(ctx, ReasonAgentError, "Unable to reach the interviewer", err), true
	}
	o.indicator.ShowError(ctx, "Unable to reach the interviewer. Run `candor retry` or `candor exit`.")
	return o.awaitRetry(ctx, "call")
}

func (o *Orchestrator) applyDeviceAction(a action) {
	var err error
	switch a.kind {
	case actionMute, actionUnmute:
		muted := a.kind == actionMute
		if err = o.media.SetAudioEnabled(!muted); err == nil {
			o.update(func(s *Status) { s.Muted = muted })
		}
	case actionCameraOn, actionCameraOff:
		off := a.kind == actionCameraOff
		if err = o.media.SetVideoEnabled(!off); err == nil {
			o.update(func(s *Status) { s.CameraOff = off })
		}
	default:
		return
	}
	if err != nil {
		o.log(slog.LevelWarn, "device toggle failed", "error", err.Error())
	}
}

func (o *Orchestrator) startPresence(ctx context.Context, stream *media.Stream) <-chan bool {
	o.poller = presence.NewPoller(o.clock, stream.Video(), o.opts.PresenceThreshold)
	o.media.Attach(o.poller)
	o.poller.Start(ctx, o.monitor.Interval)
	o.log(slog.LevelInfo, "presence polling started", "interval", o.monitor.Interval.String())
	return o.poller.Observations()
}

func (o *Orchestrator) stopPresence() {
	if o.poller != nil {
		o.poller.Stop()
	}
}

func (o *Orchestrator) startCountdown(ctx context.Context) <-chan time.Time {
	if !o.countdown.Start(o.opts.CountdownSeconds) {
		return o.ticker.C()
	}
	if err := o.transition(fsm.EventWrapUp); err != nil {
		o.log(slog.LevelWarn, "ignore wrap-up", "error", err.Error())
	}
	remaining := o.countdown.Remaining()
	o.update(func(s *Status) { s.Countdown = remaining })
	o.ticker = o.clock.NewTicker(time.Second)
	o.log(slog.LevelInfo, "wrap-up countdown started", "seconds", remaining)
	o.indicator.CueWrapUp(ctx)
	o.indicator.ShowCountdown(ctx, remaining)
	return o.ticker.C()
}

func (o *Orchestrator) stopCountdown() {
	o.countdown.Cancel()
	if o.ticker != nil {
		o.ticker.Stop()
		o.ticker = nil
	}
	o.update(func(s *Status) { s.Countdown = 0 })
}

// hangUp stops the call for reason. A call that never connected ends the
// session without a handoff.
func (o *Orchestrator) hangUp(ctx context.Context, reason string, cause error) Result {
	o.stopCountdown()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StopTimeout)
	ended, err := o.call.Stop(stopCtx, reason)
	cancel()
	if err != nil {
		o.log(slog.LevelWarn, "voice call stop failed", "reason", reason, "error", err.Error())
	}
	if ended == nil {
		return o.abort(ctx, reason, "", cause)
	}
	if ended.Err == nil {
		ended.Err = cause
	}
	return o.handOff(ctx, ended)
}

// handOff is the single exit path of a call that produced a transcript.
func (o *Orchestrator) handOff(ctx context.Context, ended *agent.Ended) Result {
	o.stopCountdown()
	o.stopPresence()
	if err := o.transition(fsm.EventCallEnded); err != nil {
		o.log(slog.LevelWarn, "ignore call end", "error", err.Error())
	}
	if o.player != nil {
		o.player.Flush()
	}
	o.releaseMedia()

	result := Result{Reason: ended.Reason, Err: ended.Err}
	turns := transcript.Filter(ended.Transcript)
	result.Turns = len(turns)

	if len(turns) == 0 || o.committed {
		o.log(slog.LevelInfo, "no transcript to hand off", "reason", ended.Reason)
		o.indicator.CueEnd(ctx)
		return o.finish(ctx, result, "Interview ended")
	}
	o.committed = true

	o.indicator.ShowFeedbackPending(ctx)
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.HandoffTimeout)
	outcome, err := o.commit.Commit(commitCtx, Handoff{
		SessionID:  o.id,
		Config:     o.cfg,
		Transcript: ended.Transcript,
		Reason:     ended.Reason,
		EndedAt:    o.clock.Now(),
	})
	cancel()
	result.Outcome = outcome

	switch {
	case err != nil:
		o.log(slog.LevelError, "transcript handoff failed", "error", err.Error())
		o.indicator.CueError(ctx)
		o.indicator.ShowError(ctx, "Feedback could not be generated or saved")
		result.Err = errors.Join(result.Err, fmt.Errorf("hand off transcript: %w", err))
		_ = o.transition(fsm.EventAbort)
		return result
	case outcome.Queued:
		o.log(slog.LevelWarn, "transcript handoff queued", "queue_id", outcome.QueueID, "cause", outcome.Cause)
		o.indicator.CueEnd(ctx)
		return o.finish(ctx, result, "Interview saved. Feedback will be generated later.")
	default:
		o.indicator.CueEnd(ctx)
		return o.finish(ctx, result, "Interview complete. Feedback is ready.")
	}
}

// finish moves a handed-off session to its terminal phase.
func (o *Orchestrator) finish(ctx context.Context, result Result, message string) Result {
	if !Aborts(result.Reason) {
		if err := o.transition(fsm.EventHandedOff); err != nil {
			result.Err = errors.Join(result.Err, err)
		}
		o.indicator.ShowDone(ctx, message)
		return result
	}

	_ = o.transition(fsm.EventAbort)
	result.Err = abortError(result.Reason, result.Err)
	o.indicator.ShowDone(ctx, message+" ("+terminationMessage(result.Reason)+")")
	return result
}

// abort ends a session that has no transcript to hand off. Cleanup follows
// the exit order: readiness, countdown, call, media.
func (o *Orchestrator) abort(ctx context.Context, reason string, message string, cause error) Result {
	o.readiness.Close()
	o.stopCountdown()
	if o.call != nil && o.Phase() != fsm.StateReadinessCheck {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StopTimeout)
		if _, err := o.call.Stop(stopCtx, reason); err != nil {
			o.log(slog.LevelWarn, "voice call stop failed", "reason", reason, "error", err.Error())
		}
		cancel()
	}
	o.stopPresence()
	o.releaseMedia()
	_ = o.transition(fsm.EventAbort)

	if message == "" {
		message = terminationMessage(reason)
	}
	if reason == ReasonUserExit || reason == ReasonCancelled {
		o.indicator.ShowDone(ctx, message)
	} else {
		o.indicator.CueError(ctx)
		o.indicator.ShowError(ctx, message)
	}
	return Result{Reason: reason, Err: abortError(reason, cause)}
}

func (o *Orchestrator) releaseMedia() {
	if err := o.media.Release(); err != nil {
		o.log(slog.LevelWarn, "media release failed", "error", err.Error())
	}
}

func abortError(reason string, cause error) error {
	if errors.Is(cause, ErrAborted) {
		return cause
	}
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrAborted, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrAborted, reason, cause)
}

func terminationMessage(reason string) string {
	switch reason {
	case ReasonUserExit:
		return "You left the interview"
	case ReasonFaceNotDetected:
		return "Interview ended because no one was detected on camera"
	case ReasonCameraError:
		return "Interview ended because the camera or microphone is unavailable"
	case ReasonAgentError:
		return "Interview ended because the connection to the interviewer failed"
	case ReasonCancelled:
		return "Interview cancelled"
	default:
		return "Interview ended"
	}
}

var _ Readiness = (*readiness.Checker)(nil)
var _ Media = (*media.Acquirer)(nil)
var _ Call = (*agent.Controller)(nil)
