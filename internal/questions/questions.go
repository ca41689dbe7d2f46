// Package questions decodes interview question lists and requests new ones
// from the question generation service.
package questions

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rbright/candor/internal/llmjson"
)

// Question is one interview question and its category.
type Question struct {
	Question string `json:"question"`
	Type     string `json:"type,omitempty"`
}

// List is the structured question document.
type List struct {
	InterviewQuestions []Question `json:"interviewQuestions"`
}

// Decode accepts every question shape seen in stored interviews and model
// output: {"interviewQuestions": [...]}, a bare array of questions or
// strings, a JSON string holding either, and {"raw": text} wrappers.
// Anything else yields an empty list.
func Decode(raw json.RawMessage) []Question {
	return decode(raw, 0)
}

const maxNesting = 3

func decode(raw json.RawMessage, depth int) []Question {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || depth > maxNesting {
		return []Question{}
	}

	switch raw[0] {
	case '{':
		var list List
		if err := json.Unmarshal(raw, &list); err == nil && list.InterviewQuestions != nil {
			return clean(list.InterviewQuestions)
		}
		if text, ok := llmjson.RawText(raw); ok {
			value, source := llmjson.Parse(text)
			if source == llmjson.SourceRaw {
				return []Question{}
			}
			return decode(value, depth+1)
		}
		var single Question
		if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single.Question) != "" {
			return clean([]Question{single})
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return []Question{}
		}
		out := make([]Question, 0, len(items))
		for _, item := range items {
			var text string
			if err := json.Unmarshal(item, &text); err == nil {
				out = append(out, Question{Question: text})
				continue
			}
			var q Question
			if err := json.Unmarshal(item, &q); err == nil {
				out = append(out, q)
			}
		}
		return clean(out)
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return []Question{}
		}
		value, source := llmjson.Parse(text)
		if source == llmjson.SourceRaw {
			return []Question{}
		}
		return decode(value, depth+1)
	}
	return []Question{}
}

func clean(in []Question) []Question {
	out := make([]Question, 0, len(in))
	for _, q := range in {
		q.Question = strings.TrimSpace(q.Question)
		q.Type = strings.TrimSpace(q.Type)
		if q.Question == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Texts returns the question strings in order.
func Texts(qs []Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Question)
	}
	return out
}
