// Package mediatest provides in-memory tracks and sources for tests.
package mediatest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbright/candor/internal/media"
)

// Audio is an in-memory microphone track.
type Audio struct {
	id      string
	chunks  chan []byte
	enabled atomic.Bool
	stopped atomic.Bool
	once    sync.Once
	Stops   atomic.Int32
}

// NewAudio builds an enabled audio track with a buffered chunk channel.
func NewAudio(id string) *Audio {
	a := &Audio{id: id, chunks: make(chan []byte, 64)}
	a.enabled.Store(true)
	return a
}

func (a *Audio) ID() string            { return a.id }
func (a *Audio) Kind() media.Kind      { return media.KindAudio }
func (a *Audio) Chunks() <-chan []byte { return a.chunks }
func (a *Audio) Enabled() bool         { return a.enabled.Load() }
func (a *Audio) SetEnabled(v bool)     { a.enabled.Store(v) }
func (a *Audio) Stopped() bool         { return a.stopped.Load() }

// Push delivers one chunk, replaced by silence while disabled.
func (a *Audio) Push(pcm []byte) {
	if a.stopped.Load() {
		return
	}
	chunk := append([]byte(nil), pcm...)
	if !a.enabled.Load() {
		clear(chunk)
	}
	a.chunks <- chunk
}

func (a *Audio) Stop() error {
	a.Stops.Add(1)
	a.once.Do(func() {
		a.stopped.Store(true)
		a.enabled.Store(false)
		close(a.chunks)
	})
	return nil
}

// Video is an in-memory camera track.
type Video struct {
	id        string
	enabled   atomic.Bool
	stopped   atomic.Bool
	mu        sync.Mutex
	frame     media.Frame
	ready     chan struct{}
	readyOnce sync.Once
	Stops     atomic.Int32
}

// NewVideo builds an enabled video track without frames.
func NewVideo(id string) *Video {
	v := &Video{id: id, ready: make(chan struct{})}
	v.enabled.Store(true)
	return v
}

func (v *Video) ID() string             { return v.id }
func (v *Video) Kind() media.Kind       { return media.KindVideo }
func (v *Video) Ready() <-chan struct{} { return v.ready }
func (v *Video) Enabled() bool          { return v.enabled.Load() }
func (v *Video) SetEnabled(b bool)      { v.enabled.Store(b) }
func (v *Video) Stopped() bool          { return v.stopped.Load() }

// SetFrame replaces the current frame and marks the track ready when the
// frame has usable dimensions.
func (v *Video) SetFrame(f media.Frame) {
	v.mu.Lock()
	v.frame = f
	v.mu.Unlock()
	if !f.Empty() {
		v.readyOnce.Do(func() { close(v.ready) })
	}
}

func (v *Video) Frame() (media.Frame, bool) {
	if !v.enabled.Load() || v.stopped.Load() {
		return media.Frame{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame, true
}

func (v *Video) Stop() error {
	v.Stops.Add(1)
	v.stopped.Store(true)
	v.enabled.Store(false)
	return nil
}

// Source hands out fixed tracks and counts opens.
type Source struct {
	Audio *Audio
	Video *Video
	Err   error
	Opens atomic.Int32
}

// NewSource builds a source with fresh tracks.
func NewSource() *Source {
	return &Source{Audio: NewAudio("mic"), Video: NewVideo("/dev/video0")}
}

func (s *Source) Open(_ context.Context, c media.Constraints) (media.AudioTrack, media.VideoTrack, error) {
	s.Opens.Add(1)
	if s.Err != nil {
		return nil, nil, s.Err
	}
	var (
		audio media.AudioTrack
		video media.VideoTrack
	)
	if c.Audio && s.Audio != nil {
		audio = s.Audio
	}
	if c.Video && s.Video != nil {
		video = s.Video
	}
	return audio, video, nil
}

// Solid builds a frame filled with one RGB color.
func Solid(width, height int, r, g, b byte) media.Frame {
	pix := make([]byte, width*height*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 255
	}
	return media.Frame{Width: width, Height: height, Pix: pix}
}

// SkinTone and Backdrop are colors on either side of the presence heuristic.
var (
	SkinTone = [3]byte{200, 140, 110}
	Backdrop = [3]byte{30, 60, 120}
)
