package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rbright/candor/internal/cli"
	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/doctor"
	"github.com/rbright/candor/internal/interview"
	"github.com/rbright/candor/internal/ipc"
	"github.com/rbright/candor/internal/logging"
	"github.com/rbright/candor/internal/resume"
	"github.com/rbright/candor/internal/session"
	"github.com/rbright/candor/internal/store"
	"github.com/rbright/candor/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Getenv overrides os.Getenv for secrets and DATABASE_URL.
	Getenv func(string) string
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("candor"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("candor"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(r.Stderr, "warning: load .env: %v\n", err)
	}

	logRuntime, err := logging.New(parsed.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	if parsed.Command.Forwarded() {
		if parsed.Command == cli.CommandStatus {
			return r.commandStatus(ctx)
		}
		return r.forwardOrFail(ctx, ipc.Request{Command: string(parsed.Command), Arg: parsed.Arg()})
	}

	switch parsed.Command {
	case cli.CommandJoin:
		return r.commandJoin(parsed.Arg())
	case cli.CommandSessions:
		return r.commandSessions()
	case cli.CommandStart:
		return r.commandStart(ctx, parsed.Arg(), cfgLoaded.Config, logger)
	case cli.CommandCheck:
		return r.commandCheck(ctx, cfgLoaded.Config, logger)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, storeConfig(cfgLoaded.Config.Store, r.getenv()))
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, logger)
	case cli.CommandFlush:
		return r.commandFlush(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) getenv() func(string) string {
	if r.Getenv != nil {
		return r.Getenv
	}
	return os.Getenv
}

// storeConfig resolves the result database, falling back to DATABASE_URL.
func storeConfig(cfg config.StoreConfig, getenv func(string) string) store.Config {
	out := store.Config{Driver: cfg.Driver, DSN: strings.TrimSpace(cfg.DSN)}
	if out.DSN != "" {
		return out
	}
	dsn := strings.TrimSpace(getenv("DATABASE_URL"))
	if dsn == "" {
		return out
	}
	out.DSN = dsn
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		out.Driver = store.DriverPostgres
	}
	return out
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, err := ipc.Command(ctx, socketPath, ipc.Request{Command: "status"}, forwardTimeout)
	if errors.Is(err, ipc.ErrNoSession) {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	switch {
	case resp.Message != "":
		fmt.Fprintln(r.Stdout, resp.Message)
	case resp.State != "":
		fmt.Fprintln(r.Stdout, resp.State)
	default:
		fmt.Fprintln(r.Stdout, "idle")
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, err := ipc.Command(ctx, socketPath, req, forwardTimeout)
	if errors.Is(err, ipc.ErrNoSession) {
		fmt.Fprintln(r.Stderr, "error: no active candor session")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandJoin(path string) int {
	cfg, err := interview.Load(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	stash, err := resume.Default()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if _, err := stash.Save(cfg); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "joined %s (%s, %s, %d questions)\n",
		cfg.InterviewID, cfg.CandidateName, cfg.JobPosition, len(cfg.Questions))
	fmt.Fprintf(r.Stdout, "run `candor start %s` when ready\n", cfg.InterviewID)
	return 0
}

func (r Runner) commandSessions() int {
	stash, err := resume.Default()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	ids, err := stash.List()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(ids) == 0 {
		fmt.Fprintln(r.Stdout, "no joined interviews")
		return 0
	}
	for _, id := range ids {
		fmt.Fprintln(r.Stdout, id)
	}
	return 0
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"phase", result.Phase,
		"reason", result.Reason,
		"turns", result.Turns,
		"overridden", result.Overridden,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"result_id", result.Outcome.ResultID,
		"vendor", result.Outcome.Vendor,
		"model", result.Outcome.Model,
		"queued", result.Outcome.Queued,
	}
	if result.Outcome.Queued {
		fields = append(fields, "queue_id", result.Outcome.QueueID, "queue_cause", result.Outcome.Cause)
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

// outcomeMessage is the line printed after a session ends.
func outcomeMessage(result session.Result) string {
	switch {
	case result.Err != nil && result.Reason == "":
		return ""
	case result.Outcome.Queued:
		return fmt.Sprintf("interview ended (%s); feedback queued as %s: %s",
			result.Reason, result.Outcome.QueueID, result.Outcome.Cause)
	case result.Outcome.ResultID != "":
		msg := fmt.Sprintf("interview ended (%s); result %s", result.Reason, result.Outcome.ResultID)
		if summary := strings.TrimSpace(result.Outcome.Summary); summary != "" {
			msg += "\n" + summary
		}
		return msg
	default:
		return fmt.Sprintf("interview ended (%s)", result.Reason)
	}
}

// exitCode maps a session result to the process exit status. A user exit
// or cancellation is a clean stop.
func exitCode(result session.Result) int {
	if result.Err == nil {
		return 0
	}
	if result.Reason == session.ReasonUserExit || result.Reason == session.ReasonCancelled {
		return 0
	}
	return 1
}
