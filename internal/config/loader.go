package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/minutas/internal/meeting"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultContextBudget       = 20000
	DefaultInputSampleRate     = 16000
	DefaultOutputSampleRate    = 24000
	DefaultBufferSize          = 4096
	DefaultEmbeddingDimensions = 1536
)

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about names outside these lists.
var ValidProviderNames = map[string][]string{
	"stt":        {"gemini", "openai", "whisper", "whisper-native", "deepgram"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"s2s":        {"gemini-live", "openai-realtime"},
	"embeddings": {"openai", "ollama"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} references are expanded from the environment first, so
// secrets can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Analysis.Provider == "" {
		cfg.Analysis.Provider = IntelGemini
	}
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = cfg.Analysis.Provider
	}
	if cfg.Chat.ContextBudget <= 0 {
		cfg.Chat.ContextBudget = DefaultContextBudget
	}
	if cfg.Live.Language == "" {
		cfg.Live.Language = string(meeting.DefaultLanguage)
	}
	if cfg.Live.InputSampleRate == 0 {
		cfg.Live.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Live.OutputSampleRate == 0 {
		cfg.Live.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Live.BufferSize == 0 {
		cfg.Live.BufferSize = DefaultBufferSize
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions == 0 {
		cfg.Storage.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks cfg for coherence and returns every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	for _, sec := range []struct {
		name string
		ic   IntelConfig
	}{{"analysis", cfg.Analysis}, {"chat", cfg.Chat.IntelConfig}} {
		if !sec.ic.Provider.IsValid() {
			errs = append(errs, fmt.Errorf("%s.provider %q is invalid; valid values: gemini, llm", sec.name, sec.ic.Provider))
		}
		if sec.ic.Provider == IntelLLM && cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("%s.provider llm requires providers.llm", sec.name))
		}
	}

	if _, err := meeting.ParseLanguage(cfg.Live.Language); err != nil {
		errs = append(errs, fmt.Errorf("live.language: %w", err))
	}
	if cfg.Live.InputSampleRate < 0 || cfg.Live.OutputSampleRate < 0 {
		errs = append(errs, errors.New("live sample rates must be positive"))
	}
	if cfg.Live.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("live.buffer_size %d must be positive", cfg.Live.BufferSize))
	}
	if cfg.Providers.S2S.Name == "" {
		slog.Warn("providers.s2s is not configured; live sessions are disabled")
	}

	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must not be negative", cfg.Storage.EmbeddingDimensions))
	}
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.EmbeddingDimensions == 0 {
		slog.Warn("storage.postgres_dsn is set without embeddings; remote records will not be searchable")
	}
	if cfg.Storage.LocalPath == "" {
		slog.Info("storage.local_path is empty; meetings are cached in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a known provider of
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
