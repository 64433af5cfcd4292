package config

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked; everything else needs one
// and is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChatBudgetChanged is set when chat.context_budget changed.
	ChatBudgetChanged bool
	NewChatBudget     int

	// LiveChanged is set when the live language or voice changed. New
	// sessions pick the values up.
	LiveChanged bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ChatBudgetChanged && !d.LiveChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Chat.ContextBudget != new.Chat.ContextBudget {
		d.ChatBudgetChanged = true
		d.NewChatBudget = new.Chat.ContextBudget
	}
	if old.Live.Language != new.Live.Language || old.Live.Voice != new.Live.Voice {
		d.LiveChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Analysis != new.Analysis {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	if old.Chat.IntelConfig != new.Chat.IntelConfig {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	if old.Live.Model != new.Live.Model || old.Live.InputSampleRate != new.Live.InputSampleRate ||
		old.Live.OutputSampleRate != new.Live.OutputSampleRate || old.Live.BufferSize != new.Live.BufferSize {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.S2S, b.S2S) && entryEqual(a.Embeddings, b.Embeddings) &&
		entriesEqual(a.STTFallbacks, b.STTFallbacks) && entriesEqual(a.LLMFallbacks, b.LLMFallbacks)
}

// entryEqual compares the fields that identify a backend. Options are not
// compared.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
