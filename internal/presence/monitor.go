package presence

import "time"

// Default timings for presence polling.
const (
	DefaultInterval  = 2 * time.Second
	DefaultWarnAfter = 15 * time.Second
	DefaultExitAfter = 60 * time.Second
)

// Signal is what the session should do after one observation.
type Signal int

const (
	SignalNone Signal = iota
	SignalWarn
	SignalCleared
	SignalExit
)

func (s Signal) String() string {
	switch s {
	case SignalWarn:
		return "warn"
	case SignalCleared:
		return "cleared"
	case SignalExit:
		return "exit"
	default:
		return "none"
	}
}

// State is the observable presence status.
type State struct {
	FaceDetected      bool
	ConsecutiveAbsent time.Duration
	Warning           bool
}

// Monitor accumulates consecutive absence. It is not safe for concurrent use;
// the session loop owns it.
type Monitor struct {
	Interval  time.Duration
	WarnAfter time.Duration
	ExitAfter time.Duration

	absent  time.Duration
	warned  bool
	exited  bool
	started bool
}

// NewMonitor builds a Monitor, filling zero durations with defaults.
func NewMonitor(interval, warnAfter, exitAfter time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if warnAfter <= 0 {
		warnAfter = DefaultWarnAfter
	}
	if exitAfter <= 0 {
		exitAfter = DefaultExitAfter
	}
	return &Monitor{Interval: interval, WarnAfter: warnAfter, ExitAfter: exitAfter}
}

// Observe records one sample.
func (m *Monitor) Observe(present bool) Signal {
	m.started = true
	if m.exited {
		return SignalNone
	}
	if present {
		m.absent = 0
		if m.warned {
			m.warned = false
			return SignalCleared
		}
		return SignalNone
	}

	m.absent += m.Interval
	if m.absent >= m.ExitAfter {
		m.exited = true
		return SignalExit
	}
	if m.absent >= m.WarnAfter && !m.warned {
		m.warned = true
		return SignalWarn
	}
	return SignalNone
}

// Acknowledge resets absence after the candidate confirms they are there.
func (m *Monitor) Acknowledge() {
	m.absent = 0
	m.warned = false
}

func (m *Monitor) State() State {
	return State{
		FaceDetected:      !m.started || m.absent == 0,
		ConsecutiveAbsent: m.absent,
		Warning:           m.warned,
	}
}
