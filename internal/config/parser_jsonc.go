package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Agent     *jsoncAgent     `json:"agent"`
	Media     *jsoncMedia     `json:"media"`
	Presence  *jsoncPresence  `json:"presence"`
	Readiness *jsoncReadiness `json:"readiness"`
	WrapUp    *jsoncWrapUp    `json:"wrapup"`
	Feedback  *jsoncService   `json:"feedback"`
	Questions *jsoncQuestions `json:"questions"`
	Store     *jsoncStore     `json:"store"`
	LLM       *jsoncLLM       `json:"llm"`
	Indicator *jsoncIndicator `json:"indicator"`
	Server    *jsoncServer    `json:"server"`
}

type jsoncAgent struct {
	URL           *string        `json:"url"`
	TLS           *bool          `json:"tls"`
	DialTimeoutMS *int           `json:"dial_timeout_ms"`
	Name          *string        `json:"name"`
	FirstMessage  *string        `json:"first_message"`
	Transcriber   *jsoncProvider `json:"transcriber"`
	Voice         *jsoncProvider `json:"voice"`
	Model         *jsoncProvider `json:"model"`
}

type jsoncProvider struct {
	Provider *string `json:"provider"`
	Model    *string `json:"model"`
	Language *string `json:"language"`
	VoiceID  *string `json:"voice_id"`
}

type jsoncMedia struct {
	AudioInput    *string `json:"audio_input"`
	AudioFallback *string `json:"audio_fallback"`
	Camera        *string `json:"camera"`
	Width         *int    `json:"width"`
	Height        *int    `json:"height"`
	FPS           *int    `json:"fps"`
	VideoCmd      *string `json:"video_cmd"`
	Playback      *bool   `json:"playback"`
}

type jsoncPresence struct {
	IntervalMS  *int     `json:"interval_ms"`
	WarnAfterMS *int     `json:"warn_after_ms"`
	ExitAfterMS *int     `json:"exit_after_ms"`
	Ratio       *float64 `json:"ratio"`
}

type jsoncReadiness struct {
	RetryLimit          *int     `json:"retry_limit"`
	AudioLevelThreshold *float64 `json:"audio_level_threshold"`
}

type jsoncWrapUp struct {
	CountdownSeconds *int             `json:"countdown_seconds"`
	Phrases          *jsoncStringList `json:"phrases"`
}

type jsoncService struct {
	URL       *string `json:"url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncQuestions struct {
	jsoncService
	RegenerateAfterSession *bool `json:"regenerate_after_session"`
}

type jsoncStore struct {
	Driver *string `json:"driver"`
	DSN    *string `json:"dsn"`
}

type jsoncLLM struct {
	Provider *string           `json:"provider"`
	Models   map[string]string `json:"models"`
}

type jsoncIndicator struct {
	Enable          *bool   `json:"enable"`
	Backend         *string `json:"backend"`
	DesktopAppName  *string `json:"desktop_app_name"`
	SoundEnable     *bool   `json:"sound_enable"`
	SoundStartFile  *string `json:"sound_start_file"`
	SoundWrapUpFile *string `json:"sound_wrapup_file"`
	SoundEndFile    *string `json:"sound_end_file"`
	SoundErrorFile  *string `json:"sound_error_file"`
	ErrorTimeoutMS  *int    `json:"error_timeout_ms"`
}

type jsoncServer struct {
	Addr *string `json:"addr"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	cfg.LLM.Models = cloneModels(base.LLM.Models)
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (p *jsoncProvider) applyTo(dst *ProviderConfig) {
	if p == nil {
		return
	}
	setString(&dst.Provider, p.Provider)
	setString(&dst.Model, p.Model)
	setString(&dst.Language, p.Language)
	setString(&dst.VoiceID, p.VoiceID)
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if a := payload.Agent; a != nil {
		setString(&cfg.Agent.URL, a.URL)
		set(&cfg.Agent.TLS, a.TLS)
		set(&cfg.Agent.DialTimeoutMS, a.DialTimeoutMS)
		setString(&cfg.Agent.Name, a.Name)
		set(&cfg.Agent.FirstMessage, a.FirstMessage)
		a.Transcriber.applyTo(&cfg.Agent.Transcriber)
		a.Voice.applyTo(&cfg.Agent.Voice)
		a.Model.applyTo(&cfg.Agent.Model)
	}

	if m := payload.Media; m != nil {
		setString(&cfg.Media.AudioInput, m.AudioInput)
		setString(&cfg.Media.AudioFallback, m.AudioFallback)
		setString(&cfg.Media.Camera, m.Camera)
		set(&cfg.Media.Width, m.Width)
		set(&cfg.Media.Height, m.Height)
		set(&cfg.Media.FPS, m.FPS)
		set(&cfg.Media.Playback, m.Playback)
		if m.VideoCmd != nil {
			raw := *m.VideoCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid media.video_cmd: %w", err)
			}
			cfg.Media.VideoCmd = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if p := payload.Presence; p != nil {
		set(&cfg.Presence.IntervalMS, p.IntervalMS)
		set(&cfg.Presence.WarnAfterMS, p.WarnAfterMS)
		set(&cfg.Presence.ExitAfterMS, p.ExitAfterMS)
		set(&cfg.Presence.Ratio, p.Ratio)
	}

	if r := payload.Readiness; r != nil {
		set(&cfg.Readiness.RetryLimit, r.RetryLimit)
		set(&cfg.Readiness.AudioLevelThreshold, r.AudioLevelThreshold)
	}

	if w := payload.WrapUp; w != nil {
		set(&cfg.WrapUp.CountdownSeconds, w.CountdownSeconds)
		if w.Phrases != nil {
			cfg.WrapUp.Phrases = cfg.WrapUp.Phrases[:0]
			for _, phrase := range *w.Phrases {
				phrase = strings.TrimSpace(phrase)
				if phrase == "" {
					continue
				}
				cfg.WrapUp.Phrases = append(cfg.WrapUp.Phrases, phrase)
			}
			if len(cfg.WrapUp.Phrases) == 0 {
				warnings = append(warnings, Warning{Message: "wrapup.phrases is empty; using the built-in farewell phrases"})
			}
		}
	}

	if f := payload.Feedback; f != nil {
		setString(&cfg.Feedback.URL, f.URL)
		set(&cfg.Feedback.TimeoutMS, f.TimeoutMS)
	}

	if q := payload.Questions; q != nil {
		setString(&cfg.Questions.URL, q.URL)
		set(&cfg.Questions.TimeoutMS, q.TimeoutMS)
		set(&cfg.Questions.RegenerateAfterSession, q.RegenerateAfterSession)
	}

	if s := payload.Store; s != nil {
		setString(&cfg.Store.Driver, s.Driver)
		setString(&cfg.Store.DSN, s.DSN)
	}

	if l := payload.LLM; l != nil {
		setString(&cfg.LLM.Provider, l.Provider)
		for task, model := range l.Models {
			task = strings.ToUpper(strings.TrimSpace(task))
			if task == "" {
				return nil, fmt.Errorf("llm.models contains an empty task name")
			}
			cfg.LLM.Models[task] = strings.TrimSpace(model)
		}
	}

	if i := payload.Indicator; i != nil {
		set(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		set(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundWrapUpFile, i.SoundWrapUpFile)
		setString(&cfg.Indicator.SoundEndFile, i.SoundEndFile)
		setString(&cfg.Indicator.SoundErrorFile, i.SoundErrorFile)
		set(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if s := payload.Server; s != nil {
		setString(&cfg.Server.Addr, s.Addr)
	}

	return warnings, nil
}

func cloneModels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for task, model := range in {
		out[task] = model
	}
	return out
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
