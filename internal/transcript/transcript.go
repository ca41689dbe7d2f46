// Package transcript accumulates the ordered conversation of one interview call.
package transcript

import (
	"encoding/json"
	"strings"
)

// Role identifies the speaker of one turn.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an append-only list of turns. The zero value is ready to use.
type Transcript struct {
	turns []Turn
}

// Append adds one turn with normalized whitespace. Empty turns are dropped.
func (t *Transcript) Append(turn Turn) bool {
	content := normalize(turn.Content)
	if content == "" {
		return false
	}
	t.turns = append(t.turns, Turn{Role: normalizeRole(turn.Role), Content: content})
	return true
}

// Sync appends the tail of a running conversation array that this transcript
// has not seen yet. Earlier entries are never rewritten.
func (t *Transcript) Sync(conversation []Turn) int {
	known := len(t.turns)
	incoming := make([]Turn, 0, len(conversation))
	for _, turn := range conversation {
		content := normalize(turn.Content)
		if content == "" {
			continue
		}
		incoming = append(incoming, Turn{Role: normalizeRole(turn.Role), Content: content})
	}
	if len(incoming) <= known {
		return 0
	}
	t.turns = append(t.turns, incoming[known:]...)
	return len(incoming) - known
}

// Len returns the number of accumulated turns, system turns included.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Turns returns a copy of every accumulated turn.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Filtered returns the conversational turns with system instructions removed,
// preserving relative order.
func (t *Transcript) Filtered() []Turn {
	return Filter(t.turns)
}

// Reset discards every accumulated turn.
func (t *Transcript) Reset() {
	t.turns = nil
}

// Filter drops system-role entries from turns.
func Filter(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// Serialize renders filtered turns as indented JSON for the feedback service.
func Serialize(turns []Turn) (string, error) {
	filtered := Filter(turns)
	data, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

func normalizeRole(role Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(role))))
}
