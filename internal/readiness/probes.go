package readiness

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"

	"github.com/rbright/candor/internal/media"
)

// DeviceConfig selects the host devices and agent endpoint the probes inspect.
type DeviceConfig struct {
	AgentURL    string
	AgentTLS    bool
	Camera      media.CameraConfig
	AudioInput  string
	AudioBackup string
}

// DeviceProbes builds probes over the real host devices.
func DeviceProbes(cfg DeviceConfig) Probes {
	return Probes{
		Platform: func(context.Context) error {
			return checkPlatform(cfg)
		},
		Camera: func(context.Context) error {
			return media.ProbeCamera(cfg.Camera.Device)
		},
		Microphone: func(ctx context.Context) error {
			_, err := media.SelectAudioDevice(ctx, cfg.AudioInput, cfg.AudioBackup)
			return media.Classify(media.KindAudio, err)
		},
		Level: func(ctx context.Context) (<-chan float64, error) {
			return pulseLevels(ctx, cfg.AudioInput, cfg.AudioBackup)
		},
	}
}

func checkPlatform(cfg DeviceConfig) error {
	if err := SecureEndpoint(cfg.AgentURL, cfg.AgentTLS); err != nil {
		return err
	}
	if err := media.PulseAvailable(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	argv := cfg.Camera.Command
	if len(argv) == 0 {
		argv = media.DefaultCameraCommand
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrUnsupported, argv[0])
	}
	return nil
}

// SecureEndpoint accepts TLS endpoints and plaintext endpoints on loopback.
func SecureEndpoint(raw string, tls bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid agent url %q", ErrInsecure, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https", "grpcs":
		return nil
	case "grpc":
		if tls {
			return nil
		}
	case "ws", "http":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInsecure, u.Scheme)
	}
	if isLoopback(u.Hostname()) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInsecure, u.Redacted())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func pulseLevels(ctx context.Context, input, backup string) (<-chan float64, error) {
	selection, err := media.SelectAudioDevice(ctx, input, backup)
	if err != nil {
		return nil, media.Classify(media.KindAudio, err)
	}
	track, err := media.StartPulseTrack(selection.Device)
	if err != nil {
		return nil, err
	}

	levels := make(chan float64, 1)
	go func() {
		defer close(levels)
		defer func() { _ = track.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-track.Chunks():
				if !ok {
					return
				}
				select {
				case levels <- media.Level(chunk):
				default:
				}
			}
		}
	}()
	return levels, nil
}
