package config

import "time"

// DefaultConfig returns the built-in configuration. Vendor credentials are
// left empty and expected to arrive via the environment.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Port:      8080,
			StaticDir: "web",
			BaseURL:   "http://localhost:8080",
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				IP:          "0.0.0.0",
				Port:        8000,
				Path:        "/voice",
				IdleTimeout: 120 * time.Second,
			},
		},
		AmiVoice: AmiVoiceConfig{
			StreamURL:        "wss://acp-api.amivoice.com/v2/streaming_recognition",
			GrammarFileNames: "g-ja",
			ResultIntervalMs: 500,
			Segmentation:     true,

			AsyncURL:     "https://acp-api-async.amivoice.com/v1/recognitions",
			PollInterval: 10 * time.Second,
			PollAttempts: 18,
		},
		Gemini: GeminiConfig{
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			ModelName: "gemini-2.5-flash",
			MaxTokens: 1024,
		},
		Music: MusicConfig{
			Endpoint:        "https://api.topmediai.com/v1/music",
			DurationSeconds: 30,
			OutputFormat:    "mp3",
			OutputDir:       "generated_music",
		},
		Storage: StorageConfig{
			DSN: "data/music_generations.db",
		},
	}
}
