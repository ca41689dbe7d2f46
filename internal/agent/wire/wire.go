// Package wire defines the JSON frames exchanged with the voice agent.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/candor/internal/transcript"
)

// Upstream frame types.
const (
	TypeStart = "start"
	TypeAudio = "audio"
	TypeStop  = "stop"
)

// Downstream frame types.
const (
	TypeCallStart   = "call-start"
	TypeSpeechStart = "speech-start"
	TypeSpeechEnd   = "speech-end"
	TypeMessage     = "message"
	TypeCallEnd     = "call-end"
	TypeError       = "error"
)

// Provider selects a vendor component of the agent pipeline.
type Provider struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
}

// Assistant configures the remote agent for one call.
type Assistant struct {
	Name         string    `json:"name"`
	FirstMessage string    `json:"first_message"`
	SystemPrompt string    `json:"system_prompt"`
	Transcriber  Provider  `json:"transcriber"`
	Voice        Provider  `json:"voice"`
	Model        Provider  `json:"model"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// Metadata carries interview identity for the agent's own records.
type Metadata struct {
	InterviewID   string   `json:"interview_id,omitempty"`
	CandidateName string   `json:"candidate_name,omitempty"`
	JobPosition   string   `json:"job_position,omitempty"`
	Questions     []string `json:"questions,omitempty"`
}

// Frame is one message in either direction.
type Frame struct {
	Type         string            `json:"type"`
	Assistant    *Assistant        `json:"assistant,omitempty"`
	Role         string            `json:"role,omitempty"`
	Content      string            `json:"content,omitempty"`
	Partial      bool              `json:"partial,omitempty"`
	Conversation []transcript.Turn `json:"conversation,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Message      string            `json:"message,omitempty"`
	DataB64      string            `json:"data_b64,omitempty"`
}

// Start builds the opening frame.
func Start(a Assistant) Frame {
	return Frame{Type: TypeStart, Assistant: &a}
}

// Audio builds a PCM frame.
func Audio(pcm []byte) Frame {
	return Frame{Type: TypeAudio, DataB64: base64.StdEncoding.EncodeToString(pcm)}
}

// Stop builds the hang-up frame.
func Stop(reason string) Frame {
	return Frame{Type: TypeStop, Reason: reason}
}

// PCM decodes an audio frame payload.
func (f Frame) PCM() ([]byte, error) {
	if f.DataB64 == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(f.DataB64)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	return pcm, nil
}

// Decode parses one frame and requires a type.
func Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode agent frame: %w", err)
	}
	frame.Type = strings.TrimSpace(frame.Type)
	if frame.Type == "" {
		return Frame{}, errors.New("agent frame missing type")
	}
	return frame, nil
}
