package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCameraCommand reads V4L2 frames as raw RGBA on stdout.
var DefaultCameraCommand = []string{
	"ffmpeg", "-hide_banner", "-loglevel", "error",
	"-f", "v4l2",
	"-framerate", "{fps}",
	"-video_size", "{width}x{height}",
	"-i", "{device}",
	"-f", "rawvideo", "-pix_fmt", "rgba", "-",
}

const cameraStartTimeout = 5 * time.Second

// CameraConfig selects the capture device and frame geometry.
type CameraConfig struct {
	Device  string
	Width   int
	Height  int
	FPS     int
	Command []string
}

// CameraDevice describes one V4L2 node.
type CameraDevice struct {
	Path string
	Name string
}

// ListCameras returns the V4L2 capture nodes present on the host.
func ListCameras() ([]CameraDevice, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	devices := make([]CameraDevice, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if raw, err := os.ReadFile(filepath.Join("/sys/class/video4linux", name, "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}
		devices = append(devices, CameraDevice{Path: path, Name: name})
	}
	return devices, nil
}

// ProbeCamera opens the device node to surface permission, presence and
// busy errors without starting a capture.
func ProbeCamera(device string) error {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return Classify(KindVideo, err)
	}
	return f.Close()
}

// CameraCommand expands the argv template for cfg.
func CameraCommand(cfg CameraConfig) ([]string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, &Error{Kind: ErrConstraintsUnsatisfiable, Device: KindVideo, Err: fmt.Errorf("invalid geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)}
	}
	template := cfg.Command
	if len(template) == 0 {
		template = DefaultCameraCommand
	}
	replacer := strings.NewReplacer(
		"{device}", cfg.Device,
		"{width}", strconv.Itoa(cfg.Width),
		"{height}", strconv.Itoa(cfg.Height),
		"{fps}", strconv.Itoa(cfg.FPS),
	)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = replacer.Replace(arg)
	}
	return argv, nil
}

// CameraTrack runs a frame-producing subprocess and keeps the latest frame.
type CameraTrack struct {
	cfg    CameraConfig
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer

	enabled atomic.Bool
	stopped atomic.Bool

	mu        sync.RWMutex
	frame     Frame
	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	readErr  error
	stopOnce sync.Once
}

// StartCamera launches the capture process and waits until it produces a
// first frame, exits, or the start timeout elapses.
func StartCamera(ctx context.Context, cfg CameraConfig) (*CameraTrack, error) {
	argv, err := CameraCommand(cfg)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(cfg.Device, "/dev/") {
		if err := ProbeCamera(cfg.Device); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("start camera capture: %w", err)
		}
		return nil, Classify(KindVideo, fmt.Errorf("start camera capture: %w", err))
	}

	track := &CameraTrack{
		cfg:    cfg,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	track.enabled.Store(true)
	go track.readLoop(stdout)

	timer := time.NewTimer(cameraStartTimeout)
	defer timer.Stop()
	select {
	case <-track.ready:
		return track, nil
	case <-track.done:
		err := track.exitError()
		_ = track.Stop()
		return nil, err
	case <-timer.C:
		// Slow cameras still become ready later; presence polling waits on Ready.
		return track, nil
	case <-ctx.Done():
		_ = track.Stop()
		return nil, ctx.Err()
	}
}

func (t *CameraTrack) readLoop(stdout io.Reader) {
	defer close(t.done)
	size := t.cfg.Width * t.cfg.Height * 4
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			t.readErr = err
			_ = t.cmd.Wait()
			return
		}
		if !t.enabled.Load() {
			continue
		}
		t.mu.Lock()
		t.frame = Frame{Width: t.cfg.Width, Height: t.cfg.Height, Pix: buf}
		t.mu.Unlock()
		t.readyOnce.Do(func() { close(t.ready) })
	}
}

func (t *CameraTrack) exitError() error {
	msg := strings.TrimSpace(t.stderr.String())
	if msg == "" && t.readErr != nil {
		msg = t.readErr.Error()
	}
	if msg == "" {
		msg = "camera capture exited before the first frame"
	}
	return Classify(KindVideo, errors.New(msg))
}

func (t *CameraTrack) ID() string             { return t.cfg.Device }
func (t *CameraTrack) Kind() Kind             { return KindVideo }
func (t *CameraTrack) Ready() <-chan struct{} { return t.ready }
func (t *CameraTrack) Enabled() bool          { return t.enabled.Load() }
func (t *CameraTrack) Stopped() bool          { return t.stopped.Load() }

// SetEnabled pauses or resumes frame delivery. A disabled camera yields no frame.
func (t *CameraTrack) SetEnabled(v bool) {
	if t.stopped.Load() {
		return
	}
	t.enabled.Store(v)
	if !v {
		t.mu.Lock()
		t.frame = Frame{}
		t.mu.Unlock()
	}
}

// Frame returns the latest frame while the camera is enabled.
func (t *CameraTrack) Frame() (Frame, bool) {
	if !t.enabled.Load() {
		return Frame{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame.Empty() {
		return Frame{}, false
	}
	return t.frame, true
}

// Stop terminates the capture process. It is safe to call more than once.
func (t *CameraTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		t.cancel()
		<-t.done
		t.mu.Lock()
		t.frame = Frame{}
		t.mu.Unlock()
	})
	return nil
}
