package turn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerReflectsLatestEvent(t *testing.T) {
	var tracker Tracker
	got := []State{
		tracker.Observe(SignalSpeechStart),
		tracker.Observe(SignalSpeechEnd),
		tracker.Observe(SignalSpeechStart),
	}
	require.Equal(t, []State{StateAssistantSpeaking, StateUserTurn, StateAssistantSpeaking}, got)
	require.Equal(t, StateAssistantSpeaking, tracker.State())

	require.Equal(t, StateAssistantSpeaking, tracker.Observe(Signal("message")))
}

func TestDetectorMatchesFarewells(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		content string
		want    bool
	}{
		{"Thanks for chatting! Hope to see you crushing projects soon!", true},
		{"GOOD LUCK with everything", true},
		{"We’ll be in touch shortly.", true},
		{"Tell me about your last project.", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.content, func(t *testing.T) {
			require.Equal(t, tc.want, d.IsFarewell(tc.content))
		})
	}
}

func TestDetectorCustomPhrases(t *testing.T) {
	d := NewDetector([]string{"  Au Revoir ", ""})
	require.True(t, d.IsFarewell("well, au revoir then"))
	require.False(t, d.IsFarewell("good luck"))
}

func TestCountdownStartIsIdempotent(t *testing.T) {
	var c Countdown
	require.True(t, c.Start(30))
	c.Tick()
	require.False(t, c.Start(30))
	require.Equal(t, 29, c.Remaining())
}

func TestCountdownFiresOnceAtZero(t *testing.T) {
	var c Countdown
	require.True(t, c.Start(30))

	fires := 0
	for i := 0; i < 40; i++ {
		if _, fire := c.Tick(); fire {
			fires++
			require.Equal(t, 29, i)
		}
	}
	require.Equal(t, 1, fires)
	require.False(t, c.Active())
}

func TestCountdownCancelPreventsFire(t *testing.T) {
	var c Countdown
	c.Start(2)
	c.Tick()
	c.Cancel()

	_, fire := c.Tick()
	require.False(t, fire)
	_, fire = c.Tick()
	require.False(t, fire)
	require.False(t, c.Active())
}
