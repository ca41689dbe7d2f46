package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Player plays assistant speech through a Pulse playback stream. Queued PCM is
// 16kHz mono s16le; gaps are filled with silence.
type Player struct {
	client *pulse.Client
	stream *pulse.PlaybackStream

	mu      sync.Mutex
	queue   []int16
	closed  bool
	closeMu sync.Once
}

// NewPlayer opens and starts a playback stream.
func NewPlayer() (*Player, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	p := &Player{client: client}

	stream, err := client.NewPlayback(
		pulse.Int16Reader(p.read),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.08),
		pulse.PlaybackMediaName("candor interviewer"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	p.stream = stream
	stream.Start()
	return p, nil
}

// Play queues one PCM chunk.
func (p *Player) Play(pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, samples...)
}

// Flush drops queued speech, used when the user interrupts.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
}

func (p *Player) read(buf []int16) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, pulse.EndOfData
	}
	n := copy(buf, p.queue)
	p.queue = p.queue[n:]
	clear(buf[n:])
	return len(buf), nil
}

// Close stops playback. It is safe to call more than once.
func (p *Player) Close() error {
	p.closeMu.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		if p.stream != nil {
			p.stream.Stop()
			p.stream.Close()
		}
		p.client.Close()
	})
	return nil
}

// PlayOnce plays a short 16kHz mono clip to completion on its own stream.
// ctx is checked before connecting; playback itself is not interruptible.
func PlayOnce(ctx context.Context, name string, samples []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	client, err := newPulseClient()
	if err != nil {
		return err
	}
	defer client.Close()

	pos := 0
	stream, err := client.NewPlayback(
		pulse.Int16Reader(func(buf []int16) (int, error) {
			n := copy(buf, samples[pos:])
			pos += n
			if pos >= len(samples) {
				return n, pulse.EndOfData
			}
			return n, nil
		}),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName(name),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play %s: %w", name, err)
	}
	return nil
}
