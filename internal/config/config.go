// Package config provides the configuration schema, loader, and hot-reload
// watcher for the voxcast server.
package config

import "time"

// LogLevel controls log verbosity for the voxcast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxUploadBytes  = 20 << 20
	DefaultArtifactTTL     = 30 * time.Minute
	DefaultMaxArtifacts    = 256
	DefaultSweepInterval   = time.Minute
	DefaultMaxTurns        = 6
)

// Config is the root configuration structure for voxcast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	Podcast     PodcastConfig     `yaml:"podcast"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the size of uploaded documents and recordings.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StaticDir, when set, is served at / for the browser front-end.
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins are extra host patterns accepted for /ws/live
	// (e.g. "localhost:5173"). Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GeminiConfig configures the Gemini client used for speech synthesis, live
// transcription and, unless an alternate writer is configured, scripts.
type GeminiConfig struct {
	// APIKey authenticates every request. GEMINI_API_KEY or API_KEY in the
	// environment (or a .env file) take precedence.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the REST endpoint. Leave empty for the default.
	BaseURL string `yaml:"base_url"`

	// LiveBaseURL overrides the Live WebSocket endpoint.
	LiveBaseURL string `yaml:"live_base_url"`

	// Model is used for script generation and file transcription.
	Model string `yaml:"model"`

	// LiveModel is used for speech synthesis and live transcription.
	LiveModel string `yaml:"live_model"`

	// Voice selects a prebuilt voice for speech synthesis.
	Voice string `yaml:"voice"`

	// RequestsPerMinute spaces requests client-side. Zero disables pacing.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// PodcastConfig shapes generated podcasts.
type PodcastConfig struct {
	// Speakers are the two speaker labels. Defaults to Alex and Ben.
	Speakers []string `yaml:"speakers"`

	// MaxTurns caps the dialogue length requested from the model.
	MaxTurns int `yaml:"max_turns"`

	// ScriptWriter, when set, writes scripts with another LLM vendor.
	ScriptWriter *ScriptWriterConfig `yaml:"script_writer"`
}

// ScriptWriterConfig selects an any-llm-go backend for script generation.
type ScriptWriterConfig struct {
	// Provider is one of openai, anthropic, gemini, ollama, deepseek,
	// mistral, groq, llamacpp, llamafile.
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature is the sampling temperature. Zero leaves the default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. Zero leaves the backend default.
	MaxTokens int `yaml:"max_tokens"`
}

// TranscriberConfig configures live transcription sessions.
type TranscriberConfig struct {
	// Instructions is an optional system instruction for live sessions.
	Instructions string `yaml:"instructions"`
}

// ArtifactsConfig bounds the in-memory download store.
type ArtifactsConfig struct {
	// TTL is how long a generated file stays downloadable.
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries caps the number of stored files; the oldest is evicted.
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is how often expired files are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}
