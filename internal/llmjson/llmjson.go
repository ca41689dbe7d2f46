// Package llmjson recovers JSON from free-form language model output.
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Source records which extraction step produced the value.
type Source string

const (
	SourceDirect   Source = "direct"
	SourceFenced   Source = "fenced"
	SourceEmbedded Source = "embedded"
	SourceRaw      Source = "raw"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	objectPattern = regexp.MustCompile(`(?s)(\{.*\})`)
	arrayPattern  = regexp.MustCompile(`(?s)(\[.*\])`)
)

// Parse extracts a JSON value from text. It tries the whole text, then a
// fenced code block, then the widest embedded object or array. When all of
// those fail the text is wrapped as {"raw": text}. The result is always
// valid JSON.
func Parse(text string) (json.RawMessage, Source) {
	trimmed := strings.TrimSpace(text)
	if value, ok := valid(trimmed); ok {
		return value, SourceDirect
	}

	if match := fencePattern.FindStringSubmatch(trimmed); len(match) == 2 {
		if value, ok := valid(strings.TrimSpace(match[1])); ok {
			return value, SourceFenced
		}
	}

	for _, pattern := range []*regexp.Regexp{objectPattern, arrayPattern} {
		if match := pattern.FindStringSubmatch(trimmed); len(match) == 2 {
			if value, ok := valid(match[1]); ok {
				return value, SourceEmbedded
			}
		}
	}

	return Raw(text), SourceRaw
}

// Raw wraps text as {"raw": text}.
func Raw(text string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"raw": text})
	return b
}

// RawText returns the wrapped text when value is a {"raw": ...} fallback.
func RawText(value json.RawMessage) (string, bool) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(value, &wrapper); err != nil || len(wrapper) != 1 {
		return "", false
	}
	field, ok := wrapper["raw"]
	if !ok {
		return "", false
	}
	var text string
	if err := json.Unmarshal(field, &text); err != nil {
		return "", false
	}
	return text, true
}

func valid(candidate string) (json.RawMessage, bool) {
	if candidate == "" || !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
