// Package app wires all minutas subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the stores, the
// analysis and chat backends, the meeting services and the HTTP server, Run
// serves until the context is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithLocalStore,
// WithAnalyzer, WithChatter, WithMetrics). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minutas/internal/api"
	"github.com/MrWong99/minutas/internal/config"
	"github.com/MrWong99/minutas/internal/health"
	"github.com/MrWong99/minutas/internal/intel"
	intelgemini "github.com/MrWong99/minutas/internal/intel/gemini"
	"github.com/MrWong99/minutas/internal/intel/llmintel"
	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/resilience"
	"github.com/MrWong99/minutas/internal/store/localfirst"
	"github.com/MrWong99/minutas/internal/store/memory"
	"github.com/MrWong99/minutas/internal/store/postgres"
	"github.com/MrWong99/minutas/internal/store/sqlite"
	"github.com/MrWong99/minutas/pkg/audio"
)

// Version is reported in telemetry and the startup summary. Overridden at
// build time with -ldflags "-X github.com/MrWong99/minutas/internal/app.Version=...".
var Version = "dev"

// ErrLiveUnavailable reports that providers.s2s is not configured.
var ErrLiveUnavailable = errors.New("app: no live engine configured (providers.s2s)")

// intelBackend is what both the Gemini and the generic LLM intel clients
// provide.
type intelBackend interface {
	meeting.Analyzer
	meeting.Chatter
	SetContextBudget(n int)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	logLevel  *slog.LevelVar

	metrics     *observe.Metrics
	metricsPage http.Handler

	local    localfirst.Local
	store    *localfirst.Store
	analyzer meeting.Analyzer
	chatter  meeting.Chatter
	backends []intelBackend

	processor    *meeting.Processor
	conversation *meeting.Conversation
	searcher     *meeting.Searcher
	health       *health.Handler
	httpServer   *http.Server
	watcher      *config.Watcher

	liveMu sync.RWMutex
	live   config.LiveConfig

	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLocalStore injects the local cache instead of opening one from
// storage.local_path.
func WithLocalStore(s localfirst.Local) Option {
	return func(a *App) { a.local = s }
}

// WithAnalyzer injects the analysis backend.
func WithAnalyzer(an meeting.Analyzer) Option {
	return func(a *App) { a.analyzer = an }
}

// WithChatter injects the chat backend.
func WithChatter(c meeting.Chatter) Option {
	return func(a *App) { a.chatter = c }
}

// WithMetrics injects the metric instruments and skips telemetry setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger and the level variable that hot reload
// adjusts. level may be nil.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.logLevel = level
	}
}

// WithWatcher runs w next to the HTTP server in [App.Run].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		live:      cfg.Live,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	var telemetryShutdown func() error
	if a.metrics == nil {
		if cfg.Observe.Metrics {
			tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    "minutas",
				ServiceVersion: Version,
			})
			if err != nil {
				return nil, fmt.Errorf("app: init telemetry: %w", err)
			}
			a.metrics = tel.Metrics
			a.metricsPage = tel.Handler
			telemetryShutdown = func() error {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return tel.Shutdown(sctx)
			}
		} else {
			a.metrics = observe.DefaultMetrics()
		}
	}

	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.initIntel(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	procOpts := []meeting.ProcessorOption{
		meeting.WithMetrics(a.metrics),
		meeting.WithLogger(a.log),
	}
	if providers.Embeddings != nil {
		procOpts = append(procOpts, meeting.WithEmbedder(providers.Embeddings))
	}
	a.processor = meeting.NewProcessor(providers.STT, a.analyzer, a.store, procOpts...)
	a.conversation = meeting.NewConversation(a.chatter, a.store, a.store, time.Now)
	a.searcher = meeting.NewSearcher(providers.Embeddings, a.store)
	a.health = health.New(a.checkers...)

	deps := api.Deps{
		Processor:    a.processor,
		Conversation: a.conversation,
		Searcher:     a.searcher,
		Store:        a.store,
		LiveLanguage: a.liveLanguage,
		Health:       a.health,
		Metrics:      a.metrics,
		MetricsPage:  a.metricsPage,
		Logger:       a.log,
	}
	if providers.S2S != nil {
		deps.Live = a.NewBridge
	}
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if telemetryShutdown != nil {
		a.closers = append(a.closers, telemetryShutdown)
	}
	return a, nil
}

// initStores opens the local cache and, when configured, the remote mirror.
// An unreachable remote at startup leaves the store local-only.
func (a *App) initStores(ctx context.Context) error {
	if a.local == nil {
		if path := a.cfg.Storage.LocalPath; path != "" {
			db, err := sqlite.Open(ctx, path)
			if err != nil {
				return fmt.Errorf("app: open local store: %w", err)
			}
			a.local = db
			a.closers = append(a.closers, db.Close)
			a.checkers = append(a.checkers, health.Ping("sqlite", db))
		} else {
			a.local = memory.New()
		}
	}

	opts := []localfirst.Option{
		localfirst.WithMetrics(a.metrics),
		localfirst.WithLogger(a.log),
	}
	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		dims := a.cfg.Storage.EmbeddingDimensions
		if dims <= 0 {
			dims = config.DefaultEmbeddingDimensions
		}
		pg, err := postgres.Open(ctx, dsn, dims)
		if err != nil {
			a.log.Warn("remote store unavailable, continuing local-only", "err", err)
		} else {
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: pg.Ping, Optional: true})
			opts = append(opts, localfirst.WithRemote(pg))
		}
	}
	a.store = localfirst.New(a.local, opts...)
	return nil
}

// initIntel builds the analysis and chat backends. The backend named in
// the config is primary; the other one, when available, is its fallback.
func (a *App) initIntel(ctx context.Context) error {
	if a.analyzer != nil && a.chatter != nil {
		return nil
	}

	available := map[config.IntelBackend]intelBackend{}
	if key := geminiKey(a.cfg); key != "" {
		opts := []intelgemini.Option{intelgemini.WithContextBudget(a.cfg.Chat.ContextBudget)}
		if a.cfg.Analysis.Provider == config.IntelGemini && a.cfg.Analysis.Model != "" {
			opts = append(opts, intelgemini.WithAnalysisModel(a.cfg.Analysis.Model))
		}
		if a.cfg.Chat.Provider == config.IntelGemini && a.cfg.Chat.Model != "" {
			opts = append(opts, intelgemini.WithChatModel(a.cfg.Chat.Model))
		}
		if u := firstNonEmpty(a.cfg.Analysis.BaseURL, a.cfg.Chat.BaseURL); u != "" {
			opts = append(opts, intelgemini.WithBaseURL(u))
		}
		c, err := intelgemini.New(ctx, key, opts...)
		if err != nil {
			return fmt.Errorf("app: gemini intel: %w", err)
		}
		available[config.IntelGemini] = c
		a.backends = append(a.backends, c)
	}
	if a.providers.LLM != nil {
		c := llmintel.New(a.providers.LLM,
			llmintel.WithName(a.cfg.Providers.LLM.Name),
			llmintel.WithContextBudget(a.cfg.Chat.ContextBudget),
		)
		available[config.IntelLLM] = c
		a.backends = append(a.backends, c)
	}

	if a.analyzer == nil {
		primary, fallback, err := pickBackend(available, a.cfg.Analysis.Provider, "analysis")
		if err != nil {
			return err
		}
		a.analyzer = primary
		if fallback != nil {
			fa := intel.NewFallbackAnalyzer(primary, string(a.cfg.Analysis.Provider), resilience.FallbackConfig{})
			fa.AddFallback(otherBackend(a.cfg.Analysis.Provider), fallback)
			a.analyzer = fa
		}
	}
	if a.chatter == nil {
		primary, fallback, err := pickBackend(available, a.cfg.Chat.Provider, "chat")
		if err != nil {
			return err
		}
		a.chatter = primary
		if fallback != nil {
			fc := intel.NewFallbackChatter(primary, string(a.cfg.Chat.Provider), resilience.FallbackConfig{})
			fc.AddFallback(otherBackend(a.cfg.Chat.Provider), fallback)
			a.chatter = fc
		}
	}
	return nil
}

func pickBackend(available map[config.IntelBackend]intelBackend, want config.IntelBackend, section string) (primary, fallback intelBackend, err error) {
	primary = available[want]
	if primary == nil {
		if want == config.IntelGemini {
			return nil, nil, fmt.Errorf("app: %s.provider gemini needs an API key (%s.api_key, a gemini provider entry or GEMINI_API_KEY)", section, section)
		}
		return nil, nil, fmt.Errorf("app: %s.provider %s needs providers.llm", section, want)
	}
	return primary, available[config.IntelBackend(otherBackend(want))], nil
}

func otherBackend(b config.IntelBackend) string {
	if b == config.IntelGemini {
		return string(config.IntelLLM)
	}
	return string(config.IntelGemini)
}

// geminiKey resolves the Gemini API key: the intel sections first, then any
// gemini provider entry, then the environment.
func geminiKey(cfg *config.Config) string {
	candidates := []string{cfg.Analysis.APIKey, cfg.Chat.APIKey}
	if cfg.Providers.STT.Name == "gemini" {
		candidates = append(candidates, cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.S2S.Name == "gemini-live" {
		candidates = append(candidates, cfg.Providers.S2S.APIKey)
	}
	if cfg.Providers.LLM.Name == "gemini" {
		candidates = append(candidates, cfg.Providers.LLM.APIKey)
	}
	candidates = append(candidates, os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"))
	return firstNonEmpty(candidates...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// Processor returns the meeting pipeline.
func (a *App) Processor() *meeting.Processor { return a.processor }

// Conversation returns the per-meeting chat service.
func (a *App) Conversation() *meeting.Conversation { return a.conversation }

// Store returns the local-first meeting store.
func (a *App) Store() *localfirst.Store { return a.store }

// NewBridge builds a live bridge over mic and speaker using the current live
// settings. opts are applied after the defaults. It panics when no live
// engine is configured; check [App.LiveAvailable] first.
func (a *App) NewBridge(mic live.Microphone, speaker live.Speaker, opts ...live.Option) *live.Bridge {
	if a.providers.S2S == nil {
		panic(ErrLiveUnavailable)
	}
	lc := a.liveConfig()
	base := []live.Option{
		live.WithFormats(
			audio.Format{SampleRate: lc.InputSampleRate, Channels: 1},
			audio.Format{SampleRate: lc.OutputSampleRate, Channels: 1},
		),
		live.WithBufferSize(lc.BufferSize),
		live.WithVoice(lc.Voice),
		live.WithMetrics(a.metrics),
		live.WithLogger(a.log),
	}
	return live.New(a.providers.S2S, mic, speaker, append(base, opts...)...)
}

// LiveAvailable reports whether a live engine is configured.
func (a *App) LiveAvailable() bool { return a.providers.S2S != nil }

// LiveLanguage returns the configured default live language.
func (a *App) LiveLanguage() meeting.Language { return a.liveLanguage() }

func (a *App) liveLanguage() meeting.Language {
	return meeting.Language(a.liveConfig().Language)
}

func (a *App) liveConfig() config.LiveConfig {
	a.liveMu.RLock()
	defer a.liveMu.RUnlock()
	return a.live
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (and polls the config file when a watcher was given) until
// ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// the callback handed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChatBudgetChanged {
		for _, b := range a.backends {
			b.SetContextBudget(d.NewChatBudget)
		}
		a.log.Info("chat context budget changed", "budget", d.NewChatBudget)
	}
	if d.LiveChanged {
		a.liveMu.Lock()
		a.live.Language = new.Live.Language
		a.live.Voice = new.Live.Voice
		a.liveMu.Unlock()
		a.log.Info("live defaults changed, applied to new sessions", "language", new.Live.Language, "voice", new.Live.Voice)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
