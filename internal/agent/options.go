package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/rbright/candor/internal/agent/wire"
	"github.com/rbright/candor/internal/interview"
)

// DefaultFirstMessage greets the candidate by name.
const DefaultFirstMessage = "Hi {{.CandidateName}}, how are you? Ready for your interview on {{.JobPosition}}?"

// DefaultSystemPrompt instructs the agent to walk through the questions in order.
const DefaultSystemPrompt = `You are an AI voice assistant conducting interviews.
Your job is to ask the candidate the provided interview questions and assess their responses.
Open with a short, friendly introduction for {{.CandidateName}} and the {{.JobPosition}} role.
Ask one question at a time and wait for the answer before moving on.
Questions:
{{range $i, $q := .Questions}}{{inc $i}}. {{$q}}
{{end}}If the candidate struggles, offer a hint or rephrase without giving the answer away.
Give brief, encouraging feedback after each answer and keep responses short and natural.
When the questions are done, summarize how it went and close with a clear goodbye such as "Thanks for chatting!".`

// Options configures the remote assistant for one call.
type Options struct {
	Name         string
	FirstMessage string
	SystemPrompt string
	Transcriber  wire.Provider
	Voice        wire.Provider
	Model        wire.Provider
	Metadata     wire.Metadata
}

// DefaultOptions returns the stock interviewer configuration.
func DefaultOptions() Options {
	return Options{
		Name:         "AI Recruiter",
		FirstMessage: DefaultFirstMessage,
		SystemPrompt: DefaultSystemPrompt,
		Transcriber:  wire.Provider{Provider: "deepgram", Model: "nova-3", Language: "en-US"},
		Voice:        wire.Provider{Provider: "playht", VoiceID: "jennifer"},
		Model:        wire.Provider{Provider: "openai", Model: "gpt-4"},
	}
}

type promptData struct {
	CandidateName string
	JobPosition   string
	Questions     []string
}

// For renders the message templates for one interview.
func (o Options) For(cfg interview.Config) (Options, error) {
	position := strings.TrimSpace(cfg.JobPosition)
	if position == "" {
		position = "Unknown Position"
	}
	data := promptData{
		CandidateName: strings.TrimSpace(cfg.CandidateName),
		JobPosition:   position,
		Questions:     cfg.QuestionTexts(),
	}

	first, err := render("first_message", o.FirstMessage, data)
	if err != nil {
		return Options{}, err
	}
	prompt, err := render("system_prompt", o.SystemPrompt, data)
	if err != nil {
		return Options{}, err
	}

	out := o
	out.FirstMessage = first
	out.SystemPrompt = prompt
	out.Metadata = wire.Metadata{
		InterviewID:   cfg.InterviewID,
		CandidateName: data.CandidateName,
		JobPosition:   data.JobPosition,
		Questions:     data.Questions,
	}
	return out, nil
}

// Assistant converts the options to the start frame payload.
func (o Options) Assistant() wire.Assistant {
	metadata := o.Metadata
	return wire.Assistant{
		Name:         o.Name,
		FirstMessage: o.FirstMessage,
		SystemPrompt: o.SystemPrompt,
		Transcriber:  o.Transcriber,
		Voice:        o.Voice,
		Model:        o.Model,
		Metadata:     &metadata,
	}
}

var templateFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func render(name, text string, data promptData) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
