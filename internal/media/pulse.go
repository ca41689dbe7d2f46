package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// SampleRate is the capture and playback rate shared with the voice agent.
	SampleRate     = 16000
	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16
)

// AudioDevice describes one Pulse input source.
type AudioDevice struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// AudioSelection is the resolved capture source plus optional fallback warning.
type AudioSelection struct {
	Device   AudioDevice
	Warning  string
	Fallback bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("candor"),
		pulse.ClientApplicationIconName("camera-web"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// PulseAvailable reports whether a Pulse-compatible server accepts connections.
func PulseAvailable() error {
	client, err := newPulseClient()
	if err != nil {
		return err
	}
	client.Close()
	return nil
}

// ListAudioDevices returns Pulse input sources with default/availability metadata.
func ListAudioDevices(_ context.Context) ([]AudioDevice, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]AudioDevice, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, AudioDevice{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectAudioDevice resolves input/fallback preferences against live devices.
func SelectAudioDevice(ctx context.Context, input string, fallback string) (AudioSelection, error) {
	devices, err := ListAudioDevices(ctx)
	if err != nil {
		return AudioSelection{}, err
	}
	return selectAudioDevice(devices, input, fallback)
}

func selectAudioDevice(devices []AudioDevice, input string, fallback string) (AudioSelection, error) {
	if len(devices) == 0 {
		return AudioSelection{}, &Error{Kind: ErrDeviceNotFound, Device: KindAudio, Err: errors.New("no audio input devices found")}
	}

	var (
		defaultDevice *AudioDevice
		byInput       *AudioDevice
		byFallback    *AudioDevice
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && input != "default" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && fallback != "default" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	chooseDefault := func() (*AudioDevice, error) {
		if defaultDevice == nil {
			return nil, &Error{Kind: ErrDeviceNotFound, Device: KindAudio, Err: errors.New("default audio source is unavailable")}
		}
		return defaultDevice, nil
	}

	primary := byInput
	if input == "" || input == "default" {
		d, err := chooseDefault()
		if err != nil {
			return AudioSelection{}, err
		}
		primary = d
	}
	if primary == nil {
		return AudioSelection{}, &Error{Kind: ErrDeviceNotFound, Device: KindAudio, Err: fmt.Errorf("audio input %q did not match any device", input)}
	}
	if primary.Available && !primary.Muted {
		return AudioSelection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	var backup *AudioDevice
	if fallback != "" && fallback != "default" {
		if byFallback == nil {
			return AudioSelection{}, &Error{Kind: ErrDeviceNotFound, Device: KindAudio, Err: fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, primaryReason, fallback)}
		}
		backup = byFallback
	} else {
		d, err := chooseDefault()
		if err != nil {
			return AudioSelection{}, err
		}
		backup = d
	}

	if !backup.Available {
		return AudioSelection{}, &Error{Kind: ErrDeviceBusy, Device: KindAudio, Err: fmt.Errorf("audio fallback device %q is not available", backup.ID)}
	}
	if backup.Muted {
		return AudioSelection{}, &Error{Kind: ErrDeviceBusy, Device: KindAudio, Err: fmt.Errorf("audio fallback device %q is muted", backup.ID)}
	}

	return AudioSelection{
		Device:   *backup,
		Warning:  fmt.Sprintf("audio input %q is %s; falling back to %q", primary.ID, primaryReason, backup.ID),
		Fallback: primary.ID != backup.ID,
	}, nil
}

func deviceMatches(device AudioDevice, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// PulseTrack streams fixed-size PCM chunks from one Pulse source.
type PulseTrack struct {
	device AudioDevice

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	enabled  atomic.Bool
	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartPulseTrack opens a 16kHz mono s16 record stream on the selected source.
func StartPulseTrack(selected AudioDevice) (*PulseTrack, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, Classify(KindAudio, err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, Classify(KindAudio, fmt.Errorf("resolve source %q: %w", selected.ID, err))
	}

	track := &PulseTrack{
		device: selected,
		client: client,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}
	track.enabled.Store(true)

	writer := pulse.NewWriter(writerFunc(track.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("candor interview"),
	)
	if err != nil {
		_ = track.Stop()
		return nil, Classify(KindAudio, fmt.Errorf("create pulse record stream: %w", err))
	}

	track.stream = stream
	stream.Start()
	return track, nil
}

func (t *PulseTrack) ID() string            { return t.device.ID }
func (t *PulseTrack) Kind() Kind            { return KindAudio }
func (t *PulseTrack) Device() AudioDevice   { return t.device }
func (t *PulseTrack) Chunks() <-chan []byte { return t.chunks }
func (t *PulseTrack) Enabled() bool         { return t.enabled.Load() }
func (t *PulseTrack) SetEnabled(v bool)     { t.enabled.Store(v) }

// BytesCaptured reports total bytes accepted from Pulse.
func (t *PulseTrack) BytesCaptured() int64 {
	return t.bytes.Load()
}

func (t *PulseTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stop halts the stream and closes Chunks exactly once.
func (t *PulseTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.enabled.Store(false)
	close(t.stopCh)
	t.mu.Unlock()

	if t.stream != nil {
		t.stream.Stop()
		t.stream.Close()
	}
	if t.client != nil {
		t.client.Close()
	}

	t.inflight.Wait()

	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()

	close(t.chunks)
	return nil
}

// onPCM receives raw Pulse frames and emits chunkSizeBytes slices.
func (t *PulseTrack) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-t.stopCh:
		return 0, io.EOF
	default:
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return 0, io.EOF
	}
	// Add must happen under the same lock that guards stopped.
	t.inflight.Add(1)

	t.pending = append(t.pending, buffer...)
	chunks := make([][]byte, 0, len(t.pending)/chunkSizeBytes)
	for len(t.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, t.pending[:chunkSizeBytes])
		t.pending = t.pending[chunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	t.mu.Unlock()
	defer t.inflight.Done()

	t.bytes.Add(int64(len(buffer)))
	muted := !t.enabled.Load()

	for _, chunk := range chunks {
		if muted {
			clear(chunk)
		}
		select {
		case <-t.stopCh:
			return 0, io.EOF
		case t.chunks <- chunk:
		default:
			// Nobody is draining; drop.
		}
	}

	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
