package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/agent/rpc"
	"github.com/rbright/candor/internal/agent/wire"
	"github.com/rbright/candor/internal/agent/ws"
	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/feedback"
	"github.com/rbright/candor/internal/feedbacksvc"
	"github.com/rbright/candor/internal/indicator"
	"github.com/rbright/candor/internal/ipc"
	"github.com/rbright/candor/internal/llm"
	"github.com/rbright/candor/internal/media"
	"github.com/rbright/candor/internal/pipeline"
	"github.com/rbright/candor/internal/questions"
	"github.com/rbright/candor/internal/readiness"
	"github.com/rbright/candor/internal/resume"
	"github.com/rbright/candor/internal/session"
	"github.com/rbright/candor/internal/store"
	"github.com/rbright/candor/internal/version"
)

const levelWait = 3 * time.Second

func (r Runner) commandStart(ctx context.Context, id string, cfg config.Config, logger *slog.Logger) int {
	stash, err := resume.Default()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	interviewCfg, err := stash.Load(id)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, func(path string) {
		logger.Warn("removed stale session socket", "path", path)
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: an interview session is already running; see `candor status`")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	resultStore, err := store.Open(ctx, storeConfig(cfg.Store, r.getenv()))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = resultStore.Close() }()

	deps := session.Deps{
		Readiness: newReadiness(cfg, logger),
		Media:     media.NewAcquirer(media.DeviceSource{Logger: logger}, logger),
		Call:      agent.NewController(r.newTransport(cfg.Agent, logger), agentOptions(cfg.Agent), logger),
		Committer: newCommitter(cfg, resultStore, logger),
		Indicator: indicator.NewHyprNotify(cfg.Indicator, logger),
		Logger:    logger,
	}
	if cfg.Media.Playback {
		player, err := media.NewPlayer()
		if err != nil {
			logger.Warn("audio playback unavailable", "error", err.Error())
		} else {
			deps.Player = player
			defer func() { _ = player.Close() }()
		}
	}

	orchestrator := session.New(interviewCfg, deps, sessionOptions(cfg))

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, orchestrator)
	}()

	result := orchestrator.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)
	if !session.Aborts(result.Reason) && result.Err == nil {
		if err := stash.Clear(interviewCfg.InterviewID); err != nil {
			logger.Warn("clear session stash failed", "error", err.Error())
		}
	}

	if msg := outcomeMessage(result); msg != "" {
		fmt.Fprintln(r.Stdout, msg)
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
	}
	return exitCode(result)
}

func (r Runner) commandCheck(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	checker := newReadiness(cfg, logger)
	defer checker.Close()

	report := checker.RunAll(ctx)
	if report.Get(readiness.Microphone).Status == readiness.StatusPassed {
		report = waitForLevel(ctx, checker, levelWait)
	}
	fmt.Fprintln(r.Stdout, report.String())
	if report.AllPassed() {
		return 0
	}
	return 1
}

// waitForLevel gives the level monitor a moment to hear the microphone. It
// returns early once the level check settles.
func waitForLevel(ctx context.Context, checker *readiness.Checker, wait time.Duration) readiness.Report {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		report := checker.Report()
		if report.Get(readiness.AudioLevel).Status != readiness.StatusChecking {
			return report
		}
		select {
		case <-ctx.Done():
			return checker.Report()
		case <-timer.C:
			return checker.Report()
		case <-checker.Changed():
		}
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := media.ListAudioDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintln(r.Stdout, "microphones:")
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "  none")
	}
	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	cameras, err := media.ListCameras()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, "cameras:")
	if len(cameras) == 0 {
		fmt.Fprintln(r.Stdout, "  none")
	}
	for _, camera := range cameras {
		fmt.Fprintf(r.Stdout, "  %s | name=%q\n", camera.Path, camera.Name)
	}

	if len(devices) == 0 && len(cameras) == 0 {
		return 1
	}
	return 0
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	getenv := r.getenv()
	creds := llm.CredentialsFromEnv(getenv)
	svc := &feedbacksvc.Service{
		Selector: llmSelector(cfg.LLM, getenv),
		Chatters: func(ctx context.Context, vendor llm.Vendor) (llm.Chatter, error) {
			return llm.NewChatter(ctx, vendor, creds)
		},
		Logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	logger.Info("feedback service listening", "addr", cfg.Server.Addr)
	fmt.Fprintf(r.Stdout, "listening on %s\n", cfg.Server.Addr)
	if err := feedbacksvc.Serve(ctx, cfg.Server.Addr, svc.Routes()); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) commandFlush(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if strings.TrimSpace(cfg.Feedback.URL) == "" {
		fmt.Fprintln(r.Stderr, "error: feedback.url is not configured")
		return 1
	}
	resultStore, err := store.Open(ctx, storeConfig(cfg.Store, r.getenv()))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = resultStore.Close() }()

	committer := newCommitter(cfg, resultStore, logger)
	flushed, err := committer.Flush(ctx)
	fmt.Fprintf(r.Stdout, "delivered=%d failed=%d\n", flushed.Delivered, flushed.Failed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if flushed.Failed > 0 {
		return 1
	}
	return 0
}

func cameraConfig(cfg config.MediaConfig) media.CameraConfig {
	return media.CameraConfig{
		Device:  cfg.Camera,
		Width:   cfg.Width,
		Height:  cfg.Height,
		FPS:     cfg.FPS,
		Command: cfg.VideoCmd.Argv,
	}
}

func newReadiness(cfg config.Config, logger *slog.Logger) *readiness.Checker {
	return readiness.New(readiness.DeviceProbes(readiness.DeviceConfig{
		AgentURL:    cfg.Agent.URL,
		AgentTLS:    cfg.Agent.TLS,
		Camera:      cameraConfig(cfg.Media),
		AudioInput:  cfg.Media.AudioInput,
		AudioBackup: cfg.Media.AudioFallback,
	}), readiness.Options{
		RetryLimit:     cfg.Readiness.RetryLimit,
		LevelThreshold: cfg.Readiness.AudioLevelThreshold,
		Logger:         logger,
	})
}

// newTransport picks the gRPC transport for grpc:// and grpcs:// agents and
// the websocket transport otherwise.
func (r Runner) newTransport(cfg config.AgentConfig, logger *slog.Logger) agent.Transport {
	if secure, ok := grpcScheme(cfg.URL); ok {
		return rpc.New(rpc.Config{
			Target:      cfg.URL,
			TLS:         cfg.TLS || secure,
			DialTimeout: time.Duration(cfg.DialTimeoutMS) * time.Millisecond,
		}, logger)
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if token := strings.TrimSpace(r.getenv()("CANDOR_AGENT_TOKEN")); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return ws.New(cfg.URL, header, logger)
}

// grpcScheme reports whether raw names a gRPC agent and whether its scheme
// implies TLS.
func grpcScheme(raw string) (secure bool, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(lower, "grpcs://"):
		return true, true
	case strings.HasPrefix(lower, "grpc://"):
		return false, true
	default:
		return false, false
	}
}

func agentOptions(cfg config.AgentConfig) agent.Options {
	opts := agent.DefaultOptions()
	if name := strings.TrimSpace(cfg.Name); name != "" {
		opts.Name = name
	}
	if first := strings.TrimSpace(cfg.FirstMessage); first != "" {
		opts.FirstMessage = first
	}
	opts.Transcriber = overlayProvider(opts.Transcriber, cfg.Transcriber)
	opts.Voice = overlayProvider(opts.Voice, cfg.Voice)
	opts.Model = overlayProvider(opts.Model, cfg.Model)
	return opts
}

func overlayProvider(base wire.Provider, cfg config.ProviderConfig) wire.Provider {
	if cfg.Provider != "" {
		base.Provider = cfg.Provider
	}
	if cfg.Model != "" {
		base.Model = cfg.Model
	}
	if cfg.Language != "" {
		base.Language = cfg.Language
	}
	if cfg.VoiceID != "" {
		base.VoiceID = cfg.VoiceID
	}
	return base
}

func newCommitter(cfg config.Config, resultStore *store.Store, logger *slog.Logger) *pipeline.Committer {
	committer := &pipeline.Committer{
		Store:      resultStore,
		Regenerate: cfg.Questions.RegenerateAfterSession,
		Logger:     logger,
	}
	if url := strings.TrimSpace(cfg.Feedback.URL); url != "" {
		committer.Feedback = feedback.NewClient(url, time.Duration(cfg.Feedback.TimeoutMS)*time.Millisecond)
	}
	if url := strings.TrimSpace(cfg.Questions.URL); url != "" {
		committer.Questions = questions.NewClient(url, time.Duration(cfg.Questions.TimeoutMS)*time.Millisecond)
	}
	return committer
}

func sessionOptions(cfg config.Config) session.Options {
	return session.Options{
		Constraints: media.Constraints{
			Audio:       true,
			Video:       true,
			AudioInput:  cfg.Media.AudioInput,
			AudioBackup: cfg.Media.AudioFallback,
			Camera:      cameraConfig(cfg.Media),
		},
		PresenceInterval:  time.Duration(cfg.Presence.IntervalMS) * time.Millisecond,
		PresenceWarnAfter: time.Duration(cfg.Presence.WarnAfterMS) * time.Millisecond,
		PresenceExitAfter: time.Duration(cfg.Presence.ExitAfterMS) * time.Millisecond,
		PresenceThreshold: cfg.Presence.Ratio,
		CountdownSeconds:  cfg.WrapUp.CountdownSeconds,
		FarewellPhrases:   cfg.WrapUp.Phrases,
	}
}

func llmSelector(cfg config.LLMConfig, getenv func(string) string) llm.Selector {
	models := make(map[llm.Task]string, len(cfg.Models))
	for task, model := range cfg.Models {
		models[llm.Task(task)] = model
	}
	return llm.Selector{Provider: cfg.Provider, Models: models, Getenv: getenv}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
