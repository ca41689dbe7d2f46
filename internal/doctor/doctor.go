// Package doctor runs environment diagnostics for config, devices, and the
// services an interview depends on.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/candor/internal/agent/rpc"
	"github.com/rbright/candor/internal/config"
	"github.com/rbright/candor/internal/hypr"
	"github.com/rbright/candor/internal/media"
	"github.com/rbright/candor/internal/readiness"
	"github.com/rbright/candor/internal/store"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, device, and endpoint checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, storeCfg store.Config) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "session socket directory set", "XDG_RUNTIME_DIR is empty; session control is unavailable"))

	checks = append(checks, checkIndicator(ctx, cfg.Config.Indicator))
	checks = append(checks, checkCameraCommand(cfg.Config.Media))
	checks = append(checks, checkCamera(cfg.Config.Media.Camera))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config.Media))
	checks = append(checks, checkSecureEndpoint(cfg.Config.Agent))
	checks = append(checks, checkAgent(ctx, cfg.Config.Agent))
	if strings.TrimSpace(cfg.Config.Feedback.URL) != "" {
		checks = append(checks, checkServiceHealth(ctx, "feedback.service", cfg.Config.Feedback.URL))
	}
	checks = append(checks, checkStore(ctx, storeCfg))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkIndicator(ctx context.Context, cfg config.IndicatorConfig) Check {
	if !cfg.Enable {
		return Check{Name: "indicator", Pass: true, Message: "disabled"}
	}
	if strings.EqualFold(cfg.Backend, "desktop") {
		return checkBinary("busctl", "desktop notifications")
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	monitor, err := hypr.QueryFocusedMonitor(probeCtx)
	if err != nil {
		return Check{Name: "indicator", Pass: false, Message: err.Error()}
	}
	return Check{Name: "indicator", Pass: true, Message: fmt.Sprintf("hyprland focused monitor %s", monitor)}
}

func checkCameraCommand(cfg config.MediaConfig) Check {
	argv := cfg.VideoCmd.Argv
	if len(argv) == 0 {
		argv = media.DefaultCameraCommand
	}
	return checkCommand(argv, "media.video_cmd")
}

func checkCamera(device string) Check {
	if err := media.ProbeCamera(device); err != nil {
		return Check{Name: "media.camera", Pass: false, Message: media.UserMessage(err)}
	}
	return Check{Name: "media.camera", Pass: true, Message: fmt.Sprintf("%s is available", device)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.MediaConfig) Check {
	selection, err := media.SelectAudioDevice(ctx, cfg.AudioInput, cfg.AudioFallback)
	if err != nil {
		return Check{Name: "media.audio", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "media.audio", Pass: true, Message: message}
}

func checkSecureEndpoint(cfg config.AgentConfig) Check {
	if err := readiness.SecureEndpoint(cfg.URL, cfg.TLS); err != nil {
		return Check{Name: "agent.secure", Pass: false, Message: err.Error()}
	}
	return Check{Name: "agent.secure", Pass: true, Message: "endpoint is encrypted or local"}
}

// checkAgent uses the gRPC health service for grpc endpoints and a TCP dial
// for websocket endpoints.
func checkAgent(ctx context.Context, cfg config.AgentConfig) Check {
	scheme, _, _ := strings.Cut(strings.TrimSpace(cfg.URL), "://")
	if strings.EqualFold(scheme, "grpc") || strings.EqualFold(scheme, "grpcs") {
		target, _ := rpc.Target(cfg.URL)
		msg, err := rpc.Health(ctx, rpc.Config{Target: cfg.URL, TLS: cfg.TLS, DialTimeout: probeTimeout})
		if err != nil {
			return Check{Name: "agent.endpoint", Pass: false, Message: err.Error()}
		}
		return Check{Name: "agent.endpoint", Pass: true, Message: fmt.Sprintf("%s %s", target, msg)}
	}

	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" {
		return Check{Name: "agent.endpoint", Pass: false, Message: fmt.Sprintf("invalid agent url %q", cfg.URL)}
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if strings.EqualFold(u.Scheme, "wss") {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Check{Name: "agent.endpoint", Pass: false, Message: fmt.Sprintf("dial %s: %v", host, err)}
	}
	_ = conn.Close()
	return Check{Name: "agent.endpoint", Pass: true, Message: fmt.Sprintf("%s accepts connections", host)}
}

// checkServiceHealth probes GET <base>/health.
func checkServiceHealth(ctx context.Context, name string, base string) Check {
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	target := strings.TrimRight(base, "/") + "/health"

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready at %s", target)}
}

func checkStore(ctx context.Context, cfg store.Config) Check {
	probeCtx, cancel := context.WithTimeout(ctx, 2*probeTimeout)
	defer cancel()
	st, err := store.Open(probeCtx, cfg)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	defer st.Close()
	if err := st.Ping(probeCtx); err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	driver := cfg.Driver
	if driver == "" {
		driver = store.DriverSQLite
	}
	return Check{Name: "store", Pass: true, Message: fmt.Sprintf("%s is migrated and reachable", driver)}
}
