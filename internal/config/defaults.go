package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			URL:           "ws://127.0.0.1:8787/v1/call",
			DialTimeoutMS: 15000,
			Name:          "AI Recruiter",
			Transcriber:   ProviderConfig{Provider: "deepgram", Model: "nova-3", Language: "en-US"},
			Voice:         ProviderConfig{Provider: "playht", VoiceID: "jennifer"},
			Model:         ProviderConfig{Provider: "openai", Model: "gpt-4"},
		},
		Media: MediaConfig{
			AudioInput:    "default",
			AudioFallback: "default",
			Camera:        "/dev/video0",
			Width:         320,
			Height:        240,
			FPS:           5,
			Playback:      true,
		},
		Presence: PresenceConfig{
			IntervalMS:  2000,
			WarnAfterMS: 15000,
			ExitAfterMS: 60000,
			Ratio:       0.05,
		},
		Readiness: ReadinessConfig{
			RetryLimit:          3,
			AudioLevelThreshold: 0.1,
		},
		WrapUp: WrapUpConfig{CountdownSeconds: 30},
		Feedback: FeedbackConfig{
			URL:       "http://127.0.0.1:8080",
			TimeoutMS: 90000,
		},
		Questions: QuestionsConfig{
			URL:       "http://127.0.0.1:8080",
			TimeoutMS: 90000,
		},
		Store: StoreConfig{Driver: "sqlite"},
		LLM: LLMConfig{
			Provider: "openrouter",
			Models:   map[string]string{},
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "candor",
			SoundEnable:    true,
			ErrorTimeoutMS: 4000,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
	}
}
