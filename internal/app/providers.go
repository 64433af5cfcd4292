package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/minutas/internal/config"
	"github.com/MrWong99/minutas/internal/resilience"
	"github.com/MrWong99/minutas/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/minutas/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/minutas/pkg/provider/embeddings/openai"
	"github.com/MrWong99/minutas/pkg/provider/llm"
	"github.com/MrWong99/minutas/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/minutas/pkg/provider/llm/openai"
	"github.com/MrWong99/minutas/pkg/provider/s2s"
	geminilive "github.com/MrWong99/minutas/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/minutas/pkg/provider/s2s/openai"
	"github.com/MrWong99/minutas/pkg/provider/stt"
	"github.com/MrWong99/minutas/pkg/provider/stt/deepgram"
	geministt "github.com/MrWong99/minutas/pkg/provider/stt/gemini"
	oastt "github.com/MrWong99/minutas/pkg/provider/stt/openai"
	"github.com/MrWong99/minutas/pkg/provider/stt/whisper"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. STT and LLM are wrapped in a fallback group
// when fallbacks are configured.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	S2S        s2s.Provider
	Embeddings embeddings.Provider
}

// RegisterBuiltins registers a factory for every built-in provider name.
// ctx is used by constructors that dial during setup.
func RegisterBuiltins(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Everything except openai and ollama goes through any-llm with an
	// optional APIKey + BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("gemini", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []geministt.Option
		if entry.Model != "" {
			opts = append(opts, geministt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geministt.WithBaseURL(entry.BaseURL))
		}
		return geministt.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	for _, kind := range []string{"stt", "llm", "s2s", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildProviders instantiates every provider named in cfg. Names without a
// registered factory are skipped with a debug log; factory errors abort.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	var err error

	ps.STT, err = build(reg.CreateSTT, "stt", cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	if ps.STT != nil && len(cfg.Providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(ps.STT, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := build(reg.CreateSTT, "stt", entry)
			if err != nil {
				return nil, err
			}
			if p != nil {
				fb.AddFallback(entry.Name, p)
			}
		}
		ps.STT = fb
	}

	ps.LLM, err = build(reg.CreateLLM, "llm", cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	if ps.LLM != nil && len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := build(reg.CreateLLM, "llm", entry)
			if err != nil {
				return nil, err
			}
			if p != nil {
				fb.AddFallback(entry.Name, p)
			}
		}
		ps.LLM = fb
	}

	s2sEntry := cfg.Providers.S2S
	if cfg.Live.Model != "" {
		s2sEntry.Model = cfg.Live.Model
	}
	if ps.S2S, err = build(reg.CreateS2S, "s2s", s2sEntry); err != nil {
		return nil, err
	}
	if ps.Embeddings, err = build(reg.CreateEmbeddings, "embeddings", cfg.Providers.Embeddings); err != nil {
		return nil, err
	}
	return ps, nil
}

// build creates one provider, returning the zero value when the entry is
// empty or names an unregistered provider.
func build[T any](create func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
