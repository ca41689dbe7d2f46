package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/fsm"
	"github.com/rbright/candor/internal/ipc"
	"github.com/rbright/candor/internal/readiness"
	"github.com/rbright/candor/internal/resume"
	"github.com/rbright/candor/internal/session"
	"github.com/rbright/candor/internal/store"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "candor")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteRejectsMissingInterviewID(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"start"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "usage: candor start")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerExitReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "exit"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active candor session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 16)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "candor.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "in_call", Message: "in_call, turn=user_turn"}
		default:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		}
	})
	defer shutdown()

	cases := [][]string{
		{"status"},
		{"here"},
		{"mute"},
		{"unmute"},
		{"camera-off"},
		{"camera-on"},
		{"proceed"},
		{"retry", "microphone"},
		{"exit"},
	}
	for _, args := range cases {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)

		req := <-requests
		require.Equal(t, args[0], req.Command)
		if len(args) > 1 {
			require.Equal(t, args[1], req.Arg)
		}
		if args[0] == "status" {
			require.Equal(t, "in_call, turn=user_turn\n", stdout.String())
		} else {
			require.Equal(t, args[0]+" handled\n", stdout.String())
		}
	}
}

func TestRunnerForwardReportsRejectedCommand(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "candor.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: "cannot proceed from phase in_call"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "proceed"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cannot proceed from phase in_call")
	require.Empty(t, stdout.String())
}

func TestRunnerStatusFallsBackToStateThenIdle(t *testing.T) {
	paths := setupRunnerEnv(t)
	state := "readiness_check"

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "candor.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: state}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"}))
	require.Equal(t, "readiness_check\n", stdout.String())

	state = ""
	stdout.Reset()
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"}))
	require.Equal(t, "idle\n", stdout.String())
}

func TestRunnerJoinStashesInterviewAndListsSessions(t *testing.T) {
	paths := setupRunnerEnv(t)
	interviewPath := writeInterview(t, `{
		"interview_id": "iv-7",
		"candidate_name": "Sam",
		"job_position": "Backend Engineer",
		"questions": [{"question": "Why Go?"}, {"question": "Tell me about channels."}]
	}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "join", interviewPath})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "joined iv-7 (Sam, Backend Engineer, 2 questions)")
	require.Contains(t, stdout.String(), "candor start iv-7")

	stash, err := resume.Default()
	require.NoError(t, err)
	cfg, err := stash.Load("iv-7")
	require.NoError(t, err)
	require.Equal(t, "Sam", cfg.CandidateName)

	stdout.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", paths.configPath, "sessions"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "iv-7\n", stdout.String())
}

func TestRunnerJoinRejectsIncompleteInterview(t *testing.T) {
	paths := setupRunnerEnv(t)
	interviewPath := writeInterview(t, `{"interview_id": "iv-8"}`)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "join", interviewPath})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "candidate_name is required")
}

func TestRunnerSessionsEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "sessions"}))
	require.Equal(t, "no joined interviews\n", stdout.String())
}

func TestRunnerStartRequiresJoin(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "start", "iv-missing"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "interview not joined")
	require.Contains(t, stderr.String(), "candor join")
}

func TestRunnerStartRefusesSecondSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	stash, err := resume.Default()
	require.NoError(t, err)
	_, err = stash.Save(session.Config{InterviewID: "iv-9", CandidateName: "Sam", JobPosition: "SRE"})
	require.NoError(t, err)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "candor.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "in_call"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "start", "iv-9"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")

	_, err = stash.Load("iv-9")
	require.NoError(t, err)
}

func TestRunnerFlushWithEmptyOutbox(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Getenv: func(string) string { return "" }}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "flush"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "delivered=0 failed=0\n", stdout.String())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"indicator": {"enable": false},
		"media": {"camera": "`+filepath.Join(paths.runtimeDir, "video-missing")+`"}
	}`), 0o600))

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}, Getenv: func(string) string { return "" }}

	exitCode := runner.Execute(context.Background(), []string{"--config", configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config:")
	require.Contains(t, stdout.String(), "[OK] XDG_RUNTIME_DIR")
	require.Contains(t, stdout.String(), "[FAIL] media.camera")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestStoreConfigFallsBackToDatabaseURL(t *testing.T) {
	env := map[string]string{}
	getenv := func(key string) string { return env[key] }

	got := storeConfig(config.StoreConfig{Driver: "sqlite", DSN: " /tmp/results.db "}, getenv)
	require.Equal(t, store.Config{Driver: "sqlite", DSN: "/tmp/results.db"}, got)

	got = storeConfig(config.StoreConfig{Driver: "sqlite"}, getenv)
	require.Equal(t, store.Config{Driver: "sqlite"}, got)

	env["DATABASE_URL"] = "postgres://candor@db/candor"
	got = storeConfig(config.StoreConfig{Driver: "sqlite"}, getenv)
	require.Equal(t, store.Config{Driver: store.DriverPostgres, DSN: "postgres://candor@db/candor"}, got)

	env["DATABASE_URL"] = "/var/lib/candor/results.db"
	got = storeConfig(config.StoreConfig{Driver: "sqlite"}, getenv)
	require.Equal(t, store.Config{Driver: "sqlite", DSN: "/var/lib/candor/results.db"}, got)
}

func TestAgentOptionsOverlayConfiguredProviders(t *testing.T) {
	defaults := agent.DefaultOptions()

	opts := agentOptions(config.AgentConfig{
		Name:        "Screening Bot",
		Voice:       config.ProviderConfig{VoiceID: "will"},
		Transcriber: config.ProviderConfig{Language: "en-GB"},
	})
	require.Equal(t, "Screening Bot", opts.Name)
	require.Equal(t, defaults.FirstMessage, opts.FirstMessage)
	require.Equal(t, defaults.Voice.Provider, opts.Voice.Provider)
	require.Equal(t, "will", opts.Voice.VoiceID)
	require.Equal(t, defaults.Transcriber.Model, opts.Transcriber.Model)
	require.Equal(t, "en-GB", opts.Transcriber.Language)
	require.Equal(t, defaults.Model, opts.Model)
}

func TestWaitForLevelWaitsForMicrophoneSample(t *testing.T) {
	pass := func(context.Context) error { return nil }
	checker := readiness.New(readiness.Probes{
		Platform:   pass,
		Camera:     pass,
		Microphone: pass,
		Level: func(ctx context.Context) (<-chan float64, error) {
			levels := make(chan float64, 1)
			go func() {
				select {
				case <-ctx.Done():
				case <-time.After(200 * time.Millisecond):
					levels <- 0.8
				}
			}()
			return levels, nil
		},
	}, readiness.Options{})
	t.Cleanup(checker.Close)

	report := checker.RunAll(context.Background())
	require.Equal(t, readiness.StatusChecking, report.Get(readiness.AudioLevel).Status)

	report = waitForLevel(context.Background(), checker, 2*time.Second)
	require.Equal(t, readiness.StatusPassed, report.Get(readiness.AudioLevel).Status)
}

func TestWaitForLevelReturnsWithoutMonitor(t *testing.T) {
	pass := func(context.Context) error { return nil }
	checker := readiness.New(readiness.Probes{Platform: pass, Camera: pass, Microphone: pass}, readiness.Options{})
	checker.RunAll(context.Background())

	started := time.Now()
	report := waitForLevel(context.Background(), checker, 2*time.Second)
	require.Equal(t, readiness.StatusPending, report.Get(readiness.AudioLevel).Status)
	require.Less(t, time.Since(started), time.Second)
}

func TestGRPCScheme(t *testing.T) {
	secure, ok := grpcScheme("grpcs://agent.example.com:443")
	require.True(t, ok)
	require.True(t, secure)

	secure, ok = grpcScheme("GRPC://127.0.0.1:9000")
	require.True(t, ok)
	require.False(t, secure)

	_, ok = grpcScheme("wss://agent.example.com/v1/call")
	require.False(t, ok)
}

func TestSessionOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WrapUp.Phrases = []string{"see you soon"}

	opts := sessionOptions(cfg)
	require.True(t, opts.Constraints.Audio)
	require.True(t, opts.Constraints.Video)
	require.Equal(t, cfg.Media.Camera, opts.Constraints.Camera.Device)
	require.Equal(t, 2*time.Second, opts.PresenceInterval)
	require.Equal(t, 15*time.Second, opts.PresenceWarnAfter)
	require.Equal(t, time.Minute, opts.PresenceExitAfter)
	require.InDelta(t, 0.05, opts.PresenceThreshold, 1e-9)
	require.Equal(t, 30, opts.CountdownSeconds)
	require.Equal(t, []string{"see you soon"}, opts.FarewellPhrases)
}

func TestLLMSelectorMapsTaskNames(t *testing.T) {
	selector := llmSelector(config.LLMConfig{
		Provider: "openai",
		Models:   map[string]string{"FEEDBACK": "gpt-4o-mini"},
	}, func(string) string { return "" })

	selection := selector.ModelForTask("FEEDBACK")
	require.Equal(t, "gpt-4o-mini", selection.Model)
}

func TestOutcomeMessageAndExitCode(t *testing.T) {
	completed := session.Result{
		Phase:   fsm.StateComplete,
		Reason:  session.ReasonWrapUp,
		Outcome: session.Outcome{ResultID: "res-1", Summary: "Strong systems answers."},
	}
	require.Equal(t, "interview ended (wrap_up); result res-1\nStrong systems answers.", outcomeMessage(completed))
	require.Equal(t, 0, exitCode(completed))

	queued := session.Result{
		Phase:   fsm.StateComplete,
		Reason:  session.ReasonCallEnd,
		Outcome: session.Outcome{Queued: true, QueueID: "q-1", Cause: "feedback service unavailable"},
	}
	require.Equal(t, "interview ended (call_end); feedback queued as q-1: feedback service unavailable", outcomeMessage(queued))

	userExit := session.Result{Phase: fsm.StateAborted, Reason: session.ReasonUserExit, Err: session.ErrAborted}
	require.Equal(t, "interview ended (user_exit)", outcomeMessage(userExit))
	require.Equal(t, 0, exitCode(userExit))

	cameraLost := session.Result{Phase: fsm.StateAborted, Reason: session.ReasonCameraError, Err: session.ErrAborted}
	require.Equal(t, 1, exitCode(cameraLost))

	setupFailed := session.Result{Phase: fsm.StateAborted, Err: errors.New("media unavailable")}
	require.Empty(t, outcomeMessage(setupFailed))
	require.Equal(t, 1, exitCode(setupFailed))
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		SessionID:  "sess-1",
		Phase:      fsm.StateComplete,
		Reason:     session.ReasonWrapUp,
		Turns:      6,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    session.Outcome{ResultID: "res-1", Vendor: "openrouter"},
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"turns":6`)
	require.Contains(t, logBuf.String(), `"duration_ms":1500`)
	require.NotContains(t, logBuf.String(), "queue_id")

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		Phase:      fsm.StateComplete,
		Reason:     session.ReasonCallEnd,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    session.Outcome{Queued: true, QueueID: "q-1", Cause: "timeout"},
	})
	require.Contains(t, logBuf.String(), `"queue_id":"q-1"`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		Phase:      fsm.StateAborted,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")

	logSessionResult(nil, session.Result{})
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("CANDOR_SOCKET", "")
	t.Setenv("DATABASE_URL", "")

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte("\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func writeInterview(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interview.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
