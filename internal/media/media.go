// Package media acquires the camera and microphone, exposes them as a
// controllable stream, and guarantees their release.
package media

import (
	"context"
)

// Kind identifies a track's medium.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one captured device. Only the Acquirer stops tracks.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(bool)
	Stop() error
	Stopped() bool
}

// AudioTrack yields 16kHz mono s16le PCM chunks. Disabled tracks yield silence.
type AudioTrack interface {
	Track
	Chunks() <-chan []byte
}

// VideoTrack exposes the most recent frame.
type VideoTrack interface {
	Track
	Frame() (Frame, bool)
	// Ready is closed once a frame with usable dimensions has arrived.
	Ready() <-chan struct{}
}

// Frame is one RGBA image, 4 bytes per pixel, rows packed without padding.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Empty reports whether the frame cannot be sampled.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*4
}

// Constraints selects which devices to open and how.
type Constraints struct {
	Audio       bool
	Video       bool
	AudioInput  string
	AudioBackup string
	Camera      CameraConfig
}

// Source opens device tracks. Each Open call corresponds to one OS-level
// permission request; the Acquirer makes sure it happens once per stream.
type Source interface {
	Open(ctx context.Context, c Constraints) (AudioTrack, VideoTrack, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(context.Context, Constraints) (AudioTrack, VideoTrack, error)

func (f SourceFunc) Open(ctx context.Context, c Constraints) (AudioTrack, VideoTrack, error) {
	return f(ctx, c)
}

// Sink consumes a stream read-only and must let go of it on Detach.
type Sink interface {
	Detach()
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func()

func (f SinkFunc) Detach() { f() }

// Stream is the set of tracks owned by one acquisition.
type Stream struct {
	id    string
	audio AudioTrack
	video VideoTrack
}

func (s *Stream) ID() string { return s.id }

// Audio returns the microphone track, or nil when none was requested.
func (s *Stream) Audio() AudioTrack { return s.audio }

// Video returns the camera track, or nil when none was requested.
func (s *Stream) Video() VideoTrack { return s.video }

// Tracks lists every track in the stream.
func (s *Stream) Tracks() []Track {
	tracks := make([]Track, 0, 2)
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

// VideoReady is closed once the camera delivers a usable frame. It is nil
// (never ready) when the stream carries no video.
func (s *Stream) VideoReady() <-chan struct{} {
	if s.video == nil {
		return nil
	}
	return s.video.Ready()
}
