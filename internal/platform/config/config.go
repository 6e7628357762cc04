package config

import (
	"time"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Transport TransportConfig `yaml:"transport"`
	AmiVoice  AmiVoiceConfig  `yaml:"amivoice"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Music     MusicConfig     `yaml:"music"`
	Storage   StorageConfig   `yaml:"storage"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// WebConfig describes the gin HTTP surface: the REST API, the static
// frontend and the generated music directory.
type WebConfig struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
	// BaseURL is the externally reachable prefix used when building
	// music URLs for locally stored files, e.g. "http://localhost:8080".
	BaseURL string `yaml:"base_url"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebSocketConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
	// IdleTimeout force-closes a session with no client or upstream
	// traffic, releasing its upstream connection.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AmiVoiceConfig covers both the streaming recognition endpoint used by the
// relay and the asynchronous job endpoint used by /analyze_and_create.
type AmiVoiceConfig struct {
	StreamURL        string `yaml:"stream_url"`
	AppKey           string `yaml:"app_key"`
	Password         string `yaml:"password"`
	GrammarFileNames string `yaml:"grammar_file_names"`
	ResultIntervalMs int    `yaml:"result_interval_ms"`
	Segmentation     bool   `yaml:"segmentation"`

	AsyncURL     string        `yaml:"async_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
}

type GeminiConfig struct {
	BaseURL   string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	ModelName string `yaml:"model_name"`
	MaxTokens int    `yaml:"max_tokens"`
}

type MusicConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	DurationSeconds int    `yaml:"duration_seconds"`
	OutputFormat    string `yaml:"output_format"`
	OutputDir       string `yaml:"output_dir"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}
