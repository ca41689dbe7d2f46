// Package config resolves, parses, validates, and defaults candor configuration.
package config

// Config is the fully materialized runtime configuration used by candor.
type Config struct {
	Agent     AgentConfig
	Media     MediaConfig
	Presence  PresenceConfig
	Readiness ReadinessConfig
	WrapUp    WrapUpConfig
	Feedback  FeedbackConfig
	Questions QuestionsConfig
	Store     StoreConfig
	LLM       LLMConfig
	Indicator IndicatorConfig
	Server    ServerConfig
}

// AgentConfig selects the voice agent endpoint and the assistant it runs.
type AgentConfig struct {
	URL           string
	TLS           bool
	DialTimeoutMS int
	Name          string
	FirstMessage  string
	Transcriber   ProviderConfig
	Voice         ProviderConfig
	Model         ProviderConfig
}

// ProviderConfig names one upstream speech or model provider.
type ProviderConfig struct {
	Provider string
	Model    string
	Language string
	VoiceID  string
}

// MediaConfig controls microphone and camera selection.
type MediaConfig struct {
	AudioInput    string
	AudioFallback string
	Camera        string
	Width         int
	Height        int
	FPS           int
	VideoCmd      CommandConfig
	Playback      bool
}

// PresenceConfig controls the face-presence heuristic.
type PresenceConfig struct {
	IntervalMS  int
	WarnAfterMS int
	ExitAfterMS int
	Ratio       float64
}

// ReadinessConfig controls pre-call checks.
type ReadinessConfig struct {
	RetryLimit          int
	AudioLevelThreshold float64
}

// WrapUpConfig controls farewell detection and the closing countdown.
type WrapUpConfig struct {
	CountdownSeconds int
	Phrases          []string
}

// FeedbackConfig locates the feedback-generation service.
type FeedbackConfig struct {
	URL       string
	TimeoutMS int
}

// QuestionsConfig locates the question-generation service.
type QuestionsConfig struct {
	URL                    string
	TimeoutMS              int
	RegenerateAfterSession bool
}

// StoreConfig selects the result database.
type StoreConfig struct {
	Driver string
	DSN    string
}

// LLMConfig selects the vendor and per-task models used by `candor serve`.
type LLMConfig struct {
	Provider string
	Models   map[string]string
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable          bool
	Backend         string
	DesktopAppName  string
	SoundEnable     bool
	SoundStartFile  string
	SoundWrapUpFile string
	SoundEndFile    string
	SoundErrorFile  string
	ErrorTimeoutMS  int
}

// ServerConfig controls the feedback HTTP service.
type ServerConfig struct {
	Addr string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
