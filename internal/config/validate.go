package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	agentSchemes   = []string{"ws", "wss", "grpc", "grpcs"}
	storeDrivers   = []string{"sqlite", "postgres", "pgx"}
	llmProviders   = []string{"azure", "openai", "openrouter", "anthropic", "google", "gemini"}
	llmTaskNames   = []string{"QUESTION_GENERATION", "ANSWER_EVALUATION", "FEEDBACK"}
	indicatorKinds = []string{"hypr", "desktop"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	agentURL := strings.TrimSpace(cfg.Agent.URL)
	if agentURL == "" {
		return nil, fmt.Errorf("agent.url must not be empty")
	}
	parsed, err := url.Parse(agentURL)
	if err != nil {
		return nil, fmt.Errorf("agent.url is invalid: %w", err)
	}
	if !oneOf(strings.ToLower(parsed.Scheme), agentSchemes) {
		return nil, fmt.Errorf("agent.url scheme must be one of: %s", strings.Join(agentSchemes, ", "))
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("agent.url must include a host")
	}
	if cfg.Agent.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("agent.dial_timeout_ms must be > 0")
	}

	if cfg.Media.Width <= 0 || cfg.Media.Height <= 0 {
		return nil, fmt.Errorf("media.width and media.height must be > 0")
	}
	if cfg.Media.FPS <= 0 {
		return nil, fmt.Errorf("media.fps must be > 0")
	}
	if cfg.Media.VideoCmd.Raw != "" && len(cfg.Media.VideoCmd.Argv) == 0 {
		return nil, fmt.Errorf("media.video_cmd is configured but empty")
	}

	if cfg.Presence.IntervalMS <= 0 {
		return nil, fmt.Errorf("presence.interval_ms must be > 0")
	}
	if cfg.Presence.WarnAfterMS <= 0 {
		return nil, fmt.Errorf("presence.warn_after_ms must be > 0")
	}
	if cfg.Presence.ExitAfterMS < cfg.Presence.WarnAfterMS {
		return nil, fmt.Errorf("presence.exit_after_ms must be >= presence.warn_after_ms")
	}
	if cfg.Presence.Ratio <= 0 || cfg.Presence.Ratio >= 1 {
		return nil, fmt.Errorf("presence.ratio must be between 0 and 1")
	}

	if cfg.Readiness.RetryLimit <= 0 {
		return nil, fmt.Errorf("readiness.retry_limit must be > 0")
	}
	if cfg.Readiness.AudioLevelThreshold < 0 || cfg.Readiness.AudioLevelThreshold > 1 {
		return nil, fmt.Errorf("readiness.audio_level_threshold must be between 0 and 1")
	}

	if cfg.WrapUp.CountdownSeconds <= 0 {
		return nil, fmt.Errorf("wrapup.countdown_seconds must be > 0")
	}

	if strings.TrimSpace(cfg.Feedback.URL) == "" {
		warnings = append(warnings, Warning{Message: "feedback.url is empty; transcripts will be queued in the outbox"})
	}
	if cfg.Feedback.TimeoutMS <= 0 {
		return nil, fmt.Errorf("feedback.timeout_ms must be > 0")
	}
	if cfg.Questions.TimeoutMS <= 0 {
		return nil, fmt.Errorf("questions.timeout_ms must be > 0")
	}
	if cfg.Questions.RegenerateAfterSession && strings.TrimSpace(cfg.Questions.URL) == "" {
		return nil, fmt.Errorf("questions.url must not be empty when questions.regenerate_after_session=true")
	}

	if !oneOf(strings.ToLower(cfg.Store.Driver), storeDrivers) {
		return nil, fmt.Errorf("store.driver must be one of: sqlite, postgres")
	}

	if !oneOf(strings.ToLower(cfg.LLM.Provider), llmProviders) {
		return nil, fmt.Errorf("llm.provider must be one of: %s", strings.Join(llmProviders, ", "))
	}
	for task := range cfg.LLM.Models {
		if !oneOf(task, llmTaskNames) {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("llm.models has unknown task %q", task)})
		}
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if !oneOf(backend, indicatorKinds) {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return nil, fmt.Errorf("server.addr must not be empty")
	}

	return warnings, nil
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}
