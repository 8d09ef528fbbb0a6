// ABOUTME: Configuration loading and parsing for voxrelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete voxrelay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Inference InferenceConfig `yaml:"inference"`
	Speech    SpeechConfig    `yaml:"speech"`
	Queue     QueueConfig     `yaml:"queue"`
	Context   ContextConfig   `yaml:"context"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig holds LLM backend configuration. BaseURL points at any
// OpenAI-compatible endpoint, including a local Ollama instance.
type InferenceConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SpeechConfig groups the transcription and synthesis backends
type SpeechConfig struct {
	STT STTConfig `yaml:"stt"`
	TTS TTSConfig `yaml:"tts"`
}

// STTConfig holds speech-to-text backend configuration
type STTConfig struct {
	BaseURL string `yaml:"base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// TTSConfig holds text-to-speech backend configuration
type TTSConfig struct {
	BaseURL string `yaml:"base_url"`
	Voice   string `yaml:"voice"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// QueueConfig holds job queue tuning
type QueueConfig struct {
	VisibilityTimeout    time.Duration `yaml:"-"`
	VisibilityTimeoutRaw string        `yaml:"visibility_timeout"`

	Workers WorkersConfig `yaml:"workers"`
	Retries RetriesConfig `yaml:"retries"`
}

// WorkersConfig sets the worker count per queue
type WorkersConfig struct {
	Default  int `yaml:"default"`
	Priority int `yaml:"priority"`
	GPU      int `yaml:"gpu"`
}

// RetriesConfig sets the transient-failure retry ceiling per job kind
type RetriesConfig struct {
	Transcribe int `yaml:"transcribe"`
	Infer      int `yaml:"infer"`
	Synthesize int `yaml:"synthesize"`
}

// ContextConfig controls conversation context assembly
type ContextConfig struct {
	MaxChars     int    `yaml:"max_chars"`
	MaxMessages  int    `yaml:"max_messages"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultSystemPrompt is used when no prompt is configured or set per
// conversation.
const DefaultSystemPrompt = "You are a helpful assistant. Pay special attention to the most recent messages in the conversation."

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values a minimal config file may omit
func (c *Config) applyDefaults() {
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 2 * time.Minute
	}
	if c.Speech.STT.Timeout == 0 {
		c.Speech.STT.Timeout = time.Minute
	}
	if c.Speech.TTS.Timeout == 0 {
		c.Speech.TTS.Timeout = time.Minute
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 5 * time.Minute
	}
	if c.Queue.Workers.Default == 0 {
		c.Queue.Workers.Default = 2
	}
	if c.Queue.Workers.Priority == 0 {
		c.Queue.Workers.Priority = 2
	}
	if c.Queue.Workers.GPU == 0 {
		c.Queue.Workers.GPU = 1
	}
	if c.Queue.Retries.Transcribe == 0 {
		c.Queue.Retries.Transcribe = 2
	}
	if c.Queue.Retries.Infer == 0 {
		c.Queue.Retries.Infer = 2
	}
	if c.Queue.Retries.Synthesize == 0 {
		c.Queue.Retries.Synthesize = 2
	}
	if c.Context.MaxChars == 0 {
		c.Context.MaxChars = 8000
	}
	if c.Context.MaxMessages == 0 {
		c.Context.MaxMessages = 20
	}
	if c.Context.SystemPrompt == "" {
		c.Context.SystemPrompt = DefaultSystemPrompt
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required")
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("inference.model is required")
	}

	if c.Speech.STT.BaseURL == "" {
		return fmt.Errorf("speech.stt.base_url is required")
	}
	if c.Speech.TTS.BaseURL == "" {
		return fmt.Errorf("speech.tts.base_url is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Inference.TimeoutRaw, "inference.timeout", &cfg.Inference.Timeout},
		{cfg.Speech.STT.TimeoutRaw, "speech.stt.timeout", &cfg.Speech.STT.Timeout},
		{cfg.Speech.TTS.TimeoutRaw, "speech.tts.timeout", &cfg.Speech.TTS.Timeout},
		{cfg.Queue.VisibilityTimeoutRaw, "queue.visibility_timeout", &cfg.Queue.VisibilityTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
