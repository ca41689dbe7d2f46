// Package readiness runs the pre-interview platform, camera and microphone
// checks and tracks their per-check status.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/candor/internal/media"
)

// DefaultRetryLimit bounds retries per check.
const DefaultRetryLimit = 3

// DefaultLevelThreshold is the normalized input level that proves the
// microphone is picking up sound.
const DefaultLevelThreshold = 0.1

// Name identifies one check.
type Name string

const (
	Browser    Name = "browser"
	Camera     Name = "camera"
	Microphone Name = "microphone"
	AudioLevel Name = "audioLevel"
)

// Names lists checks in display order.
var Names = []Name{Browser, Camera, Microphone, AudioLevel}

// ParseName resolves a user-supplied check name.
func ParseName(raw string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "browser", "platform":
		return Browser, nil
	case "camera":
		return Camera, nil
	case "microphone", "mic":
		return Microphone, nil
	case "audiolevel", "audio-level", "level":
		return AudioLevel, nil
	default:
		return "", fmt.Errorf("unknown check %q", raw)
	}
}

// Status is the per-check state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusChecking Status = "checking"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
)

var (
	ErrRetryLimit   = errors.New("retry limit reached")
	ErrCheckRunning = errors.New("check is already running")
	ErrNotRetryable = errors.New("check cannot be retried")
	ErrInsecure     = errors.New("HTTPS required for camera access")
	ErrUnsupported  = errors.New("Browser does not support required features")
	errMissingProbe = errors.New("probe is not configured")
)

// Check is one row of the report.
type Check struct {
	Name    Name
	Status  Status
	Message string
	Retries int
}

// Report is a snapshot of every check.
type Report struct {
	Checks []Check
	Level  float64
}

// Get returns the named check.
func (r Report) Get(name Name) Check {
	for _, check := range r.Checks {
		if check.Name == name {
			return check
		}
	}
	return Check{Name: name, Status: StatusPending}
}

// AllPassed is true when the hard checks passed. AudioLevel is advisory.
func (r Report) AllPassed() bool {
	return r.Get(Browser).Status == StatusPassed &&
		r.Get(Camera).Status == StatusPassed &&
		r.Get(Microphone).Status == StatusPassed
}

// HasFailures is true when any hard check failed.
func (r Report) HasFailures() bool {
	return r.Get(Browser).Status == StatusFailed ||
		r.Get(Camera).Status == StatusFailed ||
		r.Get(Microphone).Status == StatusFailed
}

// Failed lists the hard checks that failed.
func (r Report) Failed() []Check {
	var failed []Check
	for _, check := range r.Checks {
		if check.Name != AudioLevel && check.Status == StatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}

func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "    "
		switch check.Status {
		case StatusPassed:
			status = " OK "
		case StatusFailed:
			status = "FAIL"
		case StatusChecking:
			status = "...."
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probe runs one check. A nil error passes it.
type Probe func(ctx context.Context) error

// LevelSource streams normalized microphone levels until ctx is cancelled.
type LevelSource func(ctx context.Context) (<-chan float64, error)

// Probes are the checks' backends.
type Probes struct {
	Platform   Probe
	Camera     Probe
	Microphone Probe
	Level      LevelSource
}

// Options tune a Checker.
type Options struct {
	RetryLimit     int
	LevelThreshold float64
	Logger         *slog.Logger
}

// Checker owns the readiness report. Methods are safe for concurrent use.
type Checker struct {
	probes    Probes
	limit     int
	threshold float64
	logger    *slog.Logger

	mu      sync.Mutex
	checks  map[Name]*Check
	level   float64
	cancel  context.CancelFunc
	done    chan struct{}
	changed chan struct{}
}

// New builds a Checker with every check pending.
func New(probes Probes, opts Options) *Checker {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.LevelThreshold <= 0 {
		opts.LevelThreshold = DefaultLevelThreshold
	}
	c := &Checker{
		probes:    probes,
		limit:     opts.RetryLimit,
		threshold: opts.LevelThreshold,
		logger:    opts.Logger,
		changed:   make(chan struct{}, 1),
	}
	c.reset()
	return c
}

// Changed signals asynchronous report updates from the level monitor.
func (c *Checker) Changed() <-chan struct{} { return c.changed }

// Report returns a snapshot.
func (c *Checker) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// RunAll resets the report and runs every check. A failed platform check
// leaves the device checks pending.
func (c *Checker) RunAll(ctx context.Context) Report {
	c.stopLevel()
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()

	if !c.run(ctx, Browser) {
		return c.Report()
	}
	c.run(ctx, Camera)
	c.runMicrophone(ctx)
	return c.Report()
}

// Retry re-runs one check. A browser retry that passes also runs the device
// checks it was gating.
func (c *Checker) Retry(ctx context.Context, name Name) (Report, error) {
	if name == AudioLevel {
		return c.Report(), ErrNotRetryable
	}

	c.mu.Lock()
	check, ok := c.checks[name]
	if !ok {
		c.mu.Unlock()
		return c.Report(), fmt.Errorf("unknown check %q", name)
	}
	if check.Status == StatusChecking {
		c.mu.Unlock()
		return c.Report(), ErrCheckRunning
	}
	if check.Retries >= c.limit {
		c.mu.Unlock()
		return c.Report(), fmt.Errorf("%s: %w (%d)", name, ErrRetryLimit, c.limit)
	}
	check.Retries++
	c.mu.Unlock()

	switch name {
	case Microphone:
		c.runMicrophone(ctx)
	case Browser:
		if c.run(ctx, Browser) {
			c.runPending(ctx)
		}
	default:
		c.run(ctx, name)
	}
	return c.Report(), nil
}

// runPending runs the device checks that never ran.
func (c *Checker) runPending(ctx context.Context) {
	c.mu.Lock()
	camera := c.checks[Camera].Status == StatusPending
	microphone := c.checks[Microphone].Status == StatusPending
	c.mu.Unlock()

	if camera {
		c.run(ctx, Camera)
	}
	if microphone {
		c.runMicrophone(ctx)
	}
}

// runMicrophone runs the microphone check and starts or stops the level
// monitor to match. The level check only passes while the microphone does.
func (c *Checker) runMicrophone(ctx context.Context) {
	if c.run(ctx, Microphone) {
		c.startLevel(ctx)
		return
	}
	c.stopLevel()
	c.set(AudioLevel, StatusPending, "Audio level not tested")
	c.notify()
}

// Close stops the level monitor.
func (c *Checker) Close() {
	c.stopLevel()
}

func (c *Checker) run(ctx context.Context, name Name) bool {
	probe, checking := c.probeFor(name)
	c.set(name, StatusChecking, checking)

	var err error
	if probe == nil {
		err = errMissingProbe
	} else {
		err = probe(ctx)
	}

	if err != nil {
		message := Message(name, err)
		c.set(name, StatusFailed, message)
		if c.logger != nil {
			c.logger.Warn("readiness check failed", "check", string(name), "error", err.Error())
		}
		return false
	}
	c.set(name, StatusPassed, passedMessage(name))
	return true
}

func (c *Checker) probeFor(name Name) (Probe, string) {
	switch name {
	case Browser:
		return c.probes.Platform, "Checking platform compatibility..."
	case Camera:
		return c.probes.Camera, "Requesting camera access..."
	default:
		return c.probes.Microphone, "Requesting microphone access..."
	}
}

func passedMessage(name Name) string {
	switch name {
	case Browser:
		return "Platform is compatible"
	case Camera:
		return "Camera is working"
	case Microphone:
		return "Microphone is working"
	default:
		return "Audio input detected"
	}
}

// Message is the user-facing text for a failed check.
func Message(name Name, err error) string {
	switch name {
	case Camera:
		return media.DeviceMessage(media.KindVideo, err)
	case Microphone:
		return media.DeviceMessage(media.KindAudio, err)
	}
	switch {
	case errors.Is(err, ErrInsecure):
		return ErrInsecure.Error()
	case errors.Is(err, ErrUnsupported):
		return ErrUnsupported.Error()
	default:
		return err.Error()
	}
}

func (c *Checker) startLevel(ctx context.Context) {
	if c.probes.Level == nil {
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	levelCtx, cancel := context.WithCancel(ctx)
	levels, err := c.probes.Level(levelCtx)
	if err != nil {
		cancel()
		c.setLocked(AudioLevel, StatusFailed, media.DeviceMessage(media.KindAudio, err))
		c.mu.Unlock()
		c.notify()
		return
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setLocked(AudioLevel, StatusChecking, "Speak to test your microphone...")
	done := c.done
	c.mu.Unlock()
	c.notify()

	go func() {
		defer close(done)
		for {
			select {
			case <-levelCtx.Done():
				return
			case level, ok := <-levels:
				if !ok {
					return
				}
				c.observeLevel(level)
			}
		}
	}()
}

func (c *Checker) observeLevel(level float64) {
	c.mu.Lock()
	c.level = level
	passed := false
	if level > c.threshold &&
		c.checks[Microphone].Status == StatusPassed &&
		c.checks[AudioLevel].Status != StatusPassed {
		c.setLocked(AudioLevel, StatusPassed, passedMessage(AudioLevel))
		passed = true
	}
	c.mu.Unlock()
	if passed {
		c.notify()
	}
}

func (c *Checker) stopLevel() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Checker) set(name Name, status Status, message string) {
	c.mu.Lock()
	c.setLocked(name, status, message)
	c.mu.Unlock()
}

func (c *Checker) setLocked(name Name, status Status, message string) {
	check := c.checks[name]
	check.Status = status
	check.Message = message
}

func (c *Checker) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Checker) reset() {
	c.level = 0
	c.checks = map[Name]*Check{
		Browser:    {Name: Browser, Status: StatusPending, Message: "Platform not checked yet"},
		Camera:     {Name: Camera, Status: StatusPending, Message: "Camera not checked yet"},
		Microphone: {Name: Microphone, Status: StatusPending, Message: "Microphone not checked yet"},
		AudioLevel: {Name: AudioLevel, Status: StatusPending, Message: "Audio level not tested"},
	}
}

func (c *Checker) snapshotLocked() Report {
	checks := make([]Check, 0, len(Names))
	for _, name := range Names {
		checks = append(checks, *c.checks[name])
	}
	return Report{Checks: checks, Level: c.level}
}
