// Package indicator shows interview state on the desktop and plays audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/hypr"
	"github.com/rbright/candor/internal/readiness"
)

const (
	iconWarning = 0
	iconInfo    = 1
	iconError   = 3
	iconOK      = 5

	colorInfo    = "rgb(89b4fa)"
	colorWarning = "rgb(f9e2af)"
	colorPending = "rgb(cba6f7)"
	colorOK      = "rgb(a6e3a1)"
	colorError   = "rgb(f38ba8)"

	persistentMS = 300000
	countdownMS  = 1500
	doneMS       = 4000
)

// HyprNotify routes indicator output through Hyprland or desktop DBus
// notifications depending on the configured backend. Each new state
// replaces the previous one.
type HyprNotify struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
}

// NewHyprNotify creates an indicator from config.
func NewHyprNotify(cfg config.IndicatorConfig, logger *slog.Logger) *HyprNotify {
	return &HyprNotify{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// ShowReadiness summarizes failed pre-call checks, or confirms they passed.
func (h *HyprNotify) ShowReadiness(ctx context.Context, report readiness.Report) {
	failed := report.Failed()
	if len(failed) == 0 {
		if report.AllPassed() {
			h.show(ctx, iconOK, doneMS, colorOK, h.messages.checksPassed)
		}
		return
	}
	parts := make([]string, 0, len(failed))
	for _, check := range failed {
		parts = append(parts, check.Message)
	}
	h.show(ctx, iconWarning, persistentMS, colorWarning, strings.Join(parts, " ")+" "+h.messages.checksHint)
}

// ShowInCall marks the interview as live.
func (h *HyprNotify) ShowInCall(ctx context.Context) {
	h.show(ctx, iconInfo, persistentMS, colorInfo, h.messages.inCall)
}

// ShowPresenceWarning asks the candidate to confirm they are still there.
func (h *HyprNotify) ShowPresenceWarning(ctx context.Context) {
	h.show(ctx, iconWarning, persistentMS, colorWarning, h.messages.presence)
}

// ShowCountdown displays the seconds left before the call is closed.
func (h *HyprNotify) ShowCountdown(ctx context.Context, remaining int) {
	h.show(ctx, iconInfo, countdownMS, colorPending, fmt.Sprintf(h.messages.countdown, remaining))
}

// ShowFeedbackPending is shown while the transcript is handed off.
func (h *HyprNotify) ShowFeedbackPending(ctx context.Context) {
	h.show(ctx, iconInfo, persistentMS, colorPending, h.messages.pending)
}

// ShowDone displays a final message.
func (h *HyprNotify) ShowDone(ctx context.Context, text string) {
	if text == "" {
		text = h.messages.done
	}
	h.show(ctx, iconOK, doneMS, colorOK, text)
}

// ShowError displays an error-state message.
func (h *HyprNotify) ShowError(ctx context.Context, text string) {
	if text == "" {
		text = h.messages.errorText
	}
	timeout := h.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	h.show(ctx, iconError, timeout, colorError, text)
}

func (h *HyprNotify) CueStart(ctx context.Context)  { h.playCue(ctx, cueStart) }
func (h *HyprNotify) CueWrapUp(ctx context.Context) { h.playCue(ctx, cueWrapUp) }
func (h *HyprNotify) CueEnd(ctx context.Context)    { h.playCue(ctx, cueEnd) }
func (h *HyprNotify) CueError(ctx context.Context)  { h.playCue(ctx, cueError) }

// Hide dismisses the active indicator surface.
func (h *HyprNotify) Hide(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, h.dismiss)
}

func (h *HyprNotify) show(ctx context.Context, icon int, timeoutMS int, color string, text string) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, icon, timeoutMS, color, text)
	})
}

func (h *HyprNotify) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(h.cfg.Backend), "desktop")
}

// notify dispatches indicator output through the configured backend.
func (h *HyprNotify) notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if h.desktop() {
		return h.notifyDesktop(ctx, timeoutMS, color, text)
	}
	// hyprctl notifications stack; clear the previous state first.
	if err := hypr.DismissNotify(ctx); err != nil {
		return err
	}
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

func (h *HyprNotify) dismiss(ctx context.Context) error {
	if h.desktop() {
		return h.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (h *HyprNotify) notifyDesktop(ctx context.Context, timeoutMS int, color string, text string) error {
	h.mu.Lock()
	replaceID := h.desktopNotificationID
	h.mu.Unlock()

	appName := strings.TrimSpace(h.cfg.DesktopAppName)
	if appName == "" {
		appName = "candor"
	}

	id, err := desktopNotify(ctx, desktopNote{
		AppName:   appName,
		ReplaceID: replaceID,
		Summary:   text,
		Urgency:   urgencyFor(color),
		TimeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.desktopNotificationID = id
	h.mu.Unlock()
	return nil
}

func (h *HyprNotify) dismissDesktop(ctx context.Context) error {
	h.mu.Lock()
	id := h.desktopNotificationID
	h.desktopNotificationID = 0
	h.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (h *HyprNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		h.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (h *HyprNotify) playCue(ctx context.Context, kind cueKind) {
	if !h.cfg.SoundEnable {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		h.soundMu.Lock()
		defer h.soundMu.Unlock()
		if err := emitCue(ctx, kind, h.cfg); err != nil {
			h.log("indicator audio cue failed", err)
		}
	}()
}

func (h *HyprNotify) log(message string, err error) {
	if h.logger == nil || err == nil {
		return
	}
	h.logger.Debug(message, "error", err.Error())
}
