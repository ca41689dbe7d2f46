package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Acquirer owns at most one active Stream and is the only component allowed
// to start or stop its tracks.
type Acquirer struct {
	source Source
	logger *slog.Logger

	mu     sync.Mutex
	stream *Stream
	sinks  []Sink
	opens  int
}

// NewAcquirer builds an Acquirer over source.
func NewAcquirer(source Source, logger *slog.Logger) *Acquirer {
	return &Acquirer{source: source, logger: logger}
}

// Acquire opens the requested devices, or returns the active stream when one
// exists. Failures are classified into the device taxonomy.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream != nil {
		return a.stream, nil
	}
	if a.source == nil {
		return nil, errors.New("media source is not configured")
	}

	a.opens++
	audio, video, err := a.source.Open(ctx, c)
	if err != nil {
		stopAll(audio, video)
		device := KindVideo
		var classified *Error
		if errors.As(err, &classified) {
			device = classified.Device
		}
		return nil, Classify(device, err)
	}

	a.stream = &Stream{id: uuid.NewString(), audio: audio, video: video}
	if a.logger != nil {
		a.logger.Info("media acquired",
			"stream", a.stream.id,
			"audio", audio != nil,
			"video", video != nil,
		)
	}
	return a.stream, nil
}

// Stream returns the active stream, or nil.
func (a *Acquirer) Stream() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

// Opens reports how many times the device source was opened.
func (a *Acquirer) Opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}

// SetVideoEnabled toggles the camera without reopening it.
func (a *Acquirer) SetVideoEnabled(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		return ErrNoStream
	}
	if a.stream.video != nil {
		a.stream.video.SetEnabled(enabled)
	}
	return nil
}

// SetAudioEnabled mutes or unmutes the microphone without reopening it.
func (a *Acquirer) SetAudioEnabled(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		return ErrNoStream
	}
	if a.stream.audio != nil {
		a.stream.audio.SetEnabled(enabled)
	}
	return nil
}

// Attach registers a sink detached on Release. Attaching without an active
// stream detaches the sink immediately.
func (a *Acquirer) Attach(sink Sink) {
	if sink == nil {
		return
	}
	a.mu.Lock()
	if a.stream == nil {
		a.mu.Unlock()
		sink.Detach()
		return
	}
	a.sinks = append(a.sinks, sink)
	a.mu.Unlock()
}

// Release detaches every sink, stops every track and forgets the stream.
// Calling it again is a no-op.
func (a *Acquirer) Release() error {
	a.mu.Lock()
	stream := a.stream
	sinks := a.sinks
	a.stream = nil
	a.sinks = nil
	a.mu.Unlock()

	if stream == nil {
		return nil
	}

	for _, sink := range sinks {
		sink.Detach()
	}

	var errs []error
	for _, track := range stream.Tracks() {
		track.SetEnabled(false)
		if err := track.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		a.logger.Info("media released", "stream", stream.id, "sinks", len(sinks))
	}
	return errors.Join(errs...)
}

func stopAll(audio AudioTrack, video VideoTrack) {
	if audio != nil {
		_ = audio.Stop()
	}
	if video != nil {
		_ = video.Stop()
	}
}
