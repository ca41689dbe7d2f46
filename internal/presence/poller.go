package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rbright/candor/internal/clock"
	"github.com/rbright/candor/internal/media"
)

// Poller samples a video track on a ticker and reports one observation per
// tick while the track is enabled.
type Poller struct {
	clock     clock.Clock
	track     media.VideoTrack
	threshold float64

	out chan bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewPoller builds a poller over track. A zero threshold uses DefaultThreshold.
func NewPoller(c clock.Clock, track media.VideoTrack, threshold float64) *Poller {
	if c == nil {
		c = clock.Real()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Poller{
		clock:     c,
		track:     track,
		threshold: threshold,
		out:       make(chan bool, 1),
	}
}

// Observations delivers one presence sample per tick.
func (p *Poller) Observations() <-chan bool { return p.out }

// Start begins polling. Calling Start on a running or stopped poller is a no-op.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.stopped || p.track == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	ticker := p.clock.NewTicker(interval)

	go p.loop(ctx, ticker, p.done)
}

func (p *Poller) loop(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !p.track.Enabled() {
				continue
			}
			present := true
			if frame, ok := p.track.Frame(); ok {
				present = Detect(frame, p.threshold)
			}
			select {
			case p.out <- present:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop halts polling and waits for the goroutine. It is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Detach satisfies media.Sink so the acquirer can stop polling on release.
func (p *Poller) Detach() { p.Stop() }
