package turn

import "strings"

// DefaultCountdownSeconds is the wrap-up grace period before the call is ended.
const DefaultCountdownSeconds = 30

// DefaultFarewellPhrases are closing remarks that start the wrap-up countdown.
var DefaultFarewellPhrases = []string{
	"thanks for chatting",
	"thank you for your time",
	"that concludes",
	"interview is complete",
	"good luck",
	"best of luck",
	"we'll be in touch",
	"hope to see you",
	"that was great",
	"end of the interview",
	"wrapping up",
}

// Detector matches assistant utterances against farewell phrases.
type Detector struct {
	phrases []string
}

// NewDetector builds a detector. An empty list falls back to DefaultFarewellPhrases.
func NewDetector(phrases []string) Detector {
	normalized := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" {
			normalized = append(normalized, phrase)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, DefaultFarewellPhrases...)
	}
	return Detector{phrases: normalized}
}

// IsFarewell reports whether content contains any closing phrase.
func (d Detector) IsFarewell(content string) bool {
	lower := strings.ToLower(normalizeApostrophes(content))
	for _, phrase := range d.phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

// Countdown is the wrap-up timer state. It is driven by one Tick per second.
type Countdown struct {
	active    bool
	remaining int
}

// Start activates the countdown. It returns false while already active.
func (c *Countdown) Start(seconds int) bool {
	if c.active {
		return false
	}
	if seconds <= 0 {
		seconds = DefaultCountdownSeconds
	}
	c.active = true
	c.remaining = seconds
	return true
}

// Tick decrements the countdown. fire is true exactly once, when it reaches zero.
func (c *Countdown) Tick() (remaining int, fire bool) {
	if !c.active {
		return 0, false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.active = false
		c.remaining = 0
		return 0, true
	}
	return c.remaining, false
}

// Cancel clears the countdown without firing.
func (c *Countdown) Cancel() {
	c.active = false
	c.remaining = 0
}

func (c *Countdown) Active() bool   { return c.active }
func (c *Countdown) Remaining() int { return c.remaining }
