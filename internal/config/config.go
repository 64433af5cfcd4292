// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for minutas.
package config

// LogLevel controls log verbosity.
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool { return f == LogText || f == LogJSON }

// IntelBackend selects who produces analyses and chat answers.
type IntelBackend string

const (
	// IntelGemini calls Gemini through the genai SDK. It is the only backend
	// with schema-constrained output and web-search grounding.
	IntelGemini IntelBackend = "gemini"

	// IntelLLM uses providers.llm (and its fallbacks) through the generic
	// completion interface.
	IntelLLM IntelBackend = "llm"
)

// IsValid reports whether b is a recognised backend.
func (b IntelBackend) IsValid() bool { return b == IntelGemini || b == IntelLLM }

// Config is the root configuration. It is typically loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Analysis  IntelConfig     `yaml:"analysis"`
	Chat      ChatConfig      `yaml:"chat"`
	Live      LiveConfig      `yaml:"live"`
	Storage   StorageConfig   `yaml:"storage"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g. ":8080").
	ListenAddr string    `yaml:"listen_addr"`
	LogLevel   LogLevel  `yaml:"log_level"`
	LogFormat  LogFormat `yaml:"log_format"`
}

// ProvidersConfig selects the backend of each provider kind. Each entry
// names a factory registered in the [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`
	S2S        ProviderEntry `yaml:"s2s"`
	Embeddings ProviderEntry `yaml:"embeddings"`

	// STTFallbacks and LLMFallbacks are tried in order when the primary
	// fails or its circuit is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "openai").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// IntelConfig configures the analysis service.
type IntelConfig struct {
	Provider IntelBackend `yaml:"provider"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	// APIKey and BaseURL are used by the gemini backend. An empty APIKey
	// falls back to providers.stt or providers.s2s when those are gemini.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ChatConfig configures the per-meeting chat assistant.
type ChatConfig struct {
	IntelConfig `yaml:",inline"`

	// ContextBudget caps the meeting context sent with each turn, in
	// characters.
	ContextBudget int `yaml:"context_budget"`
}

// LiveConfig configures live voice sessions.
type LiveConfig struct {
	// Language is the default session language ("es" or "en").
	Language string `yaml:"language"`
	Voice    string `yaml:"voice"`

	// Model overrides the providers.s2s model for live sessions.
	Model string `yaml:"model"`

	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`

	// BufferSize is the capture buffer length in samples.
	BufferSize int `yaml:"buffer_size"`
}

// StorageConfig selects the meeting stores.
type StorageConfig struct {
	// LocalPath is the sqlite cache file. Empty keeps everything in memory.
	LocalPath string `yaml:"local_path"`

	// PostgresDSN enables the remote pgvector mirror.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector size of the embedding column. It
	// must match providers.embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// ObserveConfig toggles telemetry exporters.
type ObserveConfig struct {
	// Metrics serves Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics"`
}
