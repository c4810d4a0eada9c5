package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned when no Gemini API key is configured. It is
// the only configuration error that prevents startup on its own.
var ErrMissingCredential = errors.New("config: no Gemini API key; set GEMINI_API_KEY, API_KEY or gemini.api_key")

// CredentialEnvVars are consulted in order; the first non-empty one wins over
// gemini.api_key.
var CredentialEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// ValidScriptProviders lists the accepted podcast.script_writer.provider names.
var ValidScriptProviders = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document is a valid
// all-defaults config as long as a credential is available.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the .env file at path into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	slog.Debug("loaded environment file", "path", path)
	return nil
}

// ApplyEnv overrides credentials from the environment.
func ApplyEnv(cfg *Config) {
	for _, name := range CredentialEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.Gemini.APIKey = v
			return
		}
	}
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(cfg.Podcast.Speakers) == 0 {
		cfg.Podcast.Speakers = []string{"Alex", "Ben"}
	}
	if cfg.Podcast.MaxTurns == 0 {
		cfg.Podcast.MaxTurns = DefaultMaxTurns
	}
	if cfg.Artifacts.TTL == 0 {
		cfg.Artifacts.TTL = DefaultArtifactTTL
	}
	if cfg.Artifacts.MaxEntries == 0 {
		cfg.Artifacts.MaxEntries = DefaultMaxArtifacts
	}
	if cfg.Artifacts.SweepInterval == 0 {
		cfg.Artifacts.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must not be negative"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	// Gemini
	if cfg.Gemini.APIKey == "" {
		errs = append(errs, ErrMissingCredential)
	}
	if cfg.Gemini.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("gemini.requests_per_minute must not be negative"))
	}

	// Podcast
	sp := cfg.Podcast.Speakers
	switch {
	case len(sp) != 0 && len(sp) != 2:
		errs = append(errs, fmt.Errorf("podcast.speakers must list exactly two names, got %d", len(sp)))
	case len(sp) == 2 && (strings.TrimSpace(sp[0]) == "" || strings.TrimSpace(sp[1]) == ""):
		errs = append(errs, fmt.Errorf("podcast.speakers must not be blank"))
	case len(sp) == 2 && sp[0] == sp[1]:
		errs = append(errs, fmt.Errorf("podcast.speakers %q is a duplicate", sp[0]))
	}
	if cfg.Podcast.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("podcast.max_turns must not be negative"))
	}
	if sw := cfg.Podcast.ScriptWriter; sw != nil {
		if sw.Provider == "" {
			errs = append(errs, fmt.Errorf("podcast.script_writer.provider is required"))
		} else if !slices.Contains(ValidScriptProviders, strings.ToLower(sw.Provider)) {
			errs = append(errs, fmt.Errorf("podcast.script_writer.provider %q is invalid; valid values: %s",
				sw.Provider, strings.Join(ValidScriptProviders, ", ")))
		}
		if sw.Model == "" {
			errs = append(errs, fmt.Errorf("podcast.script_writer.model is required"))
		}
		if sw.Temperature < 0 || sw.Temperature > 2 {
			errs = append(errs, fmt.Errorf("podcast.script_writer.temperature %.2f is out of range [0, 2]", sw.Temperature))
		}
	}

	// Artifacts
	if cfg.Artifacts.TTL < 0 {
		errs = append(errs, fmt.Errorf("artifacts.ttl must not be negative"))
	}
	if cfg.Artifacts.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("artifacts.max_entries must not be negative"))
	}
	if cfg.Artifacts.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("artifacts.sweep_interval must not be negative"))
	}

	return errors.Join(errs...)
}
