// Command minutas is the entry point for the Minutas meeting assistant.
//
// Usage:
//
//	minutas [serve] -config minutas.yaml
//	minutas live -config minutas.yaml -language es
//	minutas process -config minutas.yaml -owner alice -title Kickoff -audio kickoff.wav
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/minutas/internal/app"
	"github.com/MrWong99/minutas/internal/config"
	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/pkg/audio/device"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A missing .env is fine; keys may already be in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "minutas: .env: %v\n", err)
	}

	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "live":
		return liveSession(args)
	case "process":
		return process(args)
	default:
		fmt.Fprintf(os.Stderr, "minutas: unknown command %q (want serve, live or process)\n", cmd)
		return 2
	}
}

// ── Shared setup ──────────────────────────────────────────────────────────────

// env is what every subcommand needs before it does its own work.
type env struct {
	cfg        *config.Config
	configPath string
	fromFile   bool
	log        *slog.Logger
	level      *slog.LevelVar
	providers  *app.Providers
}

// setup loads the config, installs the logger and builds the providers. A
// missing config file falls back to defaults so that a .env alone is enough.
func setup(ctx context.Context, configPath string) (*env, error) {
	e := &env{configPath: configPath, fromFile: true}
	cfg, err := config.Load(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		e.fromFile = false
	case err != nil:
		return nil, err
	}
	e.cfg = cfg

	e.log, e.level = app.NewLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(e.log)
	if !e.fromFile {
		slog.Warn("config file not found, using defaults", "config", configPath)
	}

	reg := config.NewRegistry()
	app.RegisterBuiltins(ctx, reg)
	e.providers, err = app.BuildProviders(cfg, reg)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "minutas.yaml", "path to the YAML configuration file")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}

	slog.Info("minutas starting",
		"version", app.Version,
		"config", *configPath,
		"listen_addr", e.cfg.Server.ListenAddr,
		"log_level", e.cfg.Server.LogLevel,
	)
	printStartupSummary(e.cfg)

	var application *app.App
	opts := []app.Option{app.WithLogger(e.log, e.level)}
	if e.fromFile {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if application != nil {
				application.ApplyConfig(old, new)
			}
		}, config.WithWatchLogger(e.log))
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err = app.New(ctx, e.cfg, e.providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── live ──────────────────────────────────────────────────────────────────────

func liveSession(args []string) int {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	configPath := fs.String("config", "minutas.yaml", "path to the YAML configuration file")
	language := fs.String("language", "", "session language (es or en); defaults to live.language")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}
	application, err := app.New(ctx, e.cfg, e.providers, app.WithLogger(e.log, e.level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown(context.Background()) //nolint:errcheck

	if !application.LiveAvailable() {
		fmt.Fprintln(os.Stderr, "minutas: live sessions need providers.s2s")
		return 1
	}

	raw := *language
	if raw == "" {
		raw = string(application.LiveLanguage())
	}
	lang, err := meeting.ParseLanguage(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 2
	}

	printer := &statusPrinter{}
	bridge := application.NewBridge(&device.Microphone{}, &device.Speaker{}, live.WithObserver(printer.observe))
	if _, err := bridge.Start(ctx, lang); err != nil {
		fmt.Fprintf(os.Stderr, "minutas: start live session: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "live session connected (%s), press Ctrl+C to stop\n", lang.Name())

	select {
	case <-ctx.Done():
		bridge.Stop()
	case <-bridge.Done():
	}
	st := bridge.Status()
	if st.LastResponse != "" {
		fmt.Printf("\nlast response: %s\n", st.LastResponse)
	}
	if st.LastError != nil {
		fmt.Fprintf(os.Stderr, "minutas: live session ended: %v\n", st.LastError)
		return 1
	}
	return 0
}

// statusPrinter prints transcript progress and completed turns. Volume-only
// updates are ignored.
type statusPrinter struct {
	transcript   string
	lastResponse string
	state        live.State
}

// observe is called from the bridge's goroutines one at a time.
func (p *statusPrinter) observe(st live.Status) {
	if st.State != p.state {
		p.state = st.State
		fmt.Fprintf(os.Stderr, "[%s]\n", st.State)
	}
	if st.LastResponse != p.lastResponse {
		p.lastResponse = st.LastResponse
		p.transcript = ""
		fmt.Printf("\rassistant: %s\n", st.LastResponse)
		return
	}
	if st.Transcript != p.transcript && st.Transcript != "" {
		p.transcript = st.Transcript
		fmt.Printf("\r… %s", st.Transcript)
	}
}

// ── process ───────────────────────────────────────────────────────────────────

func process(args []string) int {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", "minutas.yaml", "path to the YAML configuration file")
	owner := fs.String("owner", "", "owner ID the record is stored under")
	title := fs.String("title", "", "meeting title")
	audioPath := fs.String("audio", "", "audio recording to transcribe")
	imagePath := fs.String("image", "", "optional whiteboard or slide photo")
	text := fs.String("text", "", "transcript text, used when no audio is given")
	language := fs.String("language", "", "output language (es or en)")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}

	lang, err := meeting.ParseLanguage(*language)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 2
	}
	in := meeting.Input{
		Owner:    *owner,
		Title:    *title,
		Text:     *text,
		Language: lang,
		OnStatus: func(s meeting.ProcessingStatus) {
			fmt.Fprintf(os.Stderr, "status: %s\n", s)
		},
	}
	if in.Audio, err = readAttachment(*audioPath); err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}
	if in.Image, err = readAttachment(*imagePath); err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}

	application, err := app.New(ctx, e.cfg, e.providers, app.WithLogger(e.log, e.level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown(context.Background()) //nolint:errcheck

	rec, err := application.Processor().Process(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutas: process: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintf(os.Stderr, "minutas: %v\n", err)
		return 1
	}
	return 0
}

// readAttachment loads path into memory. An empty path yields nil.
func readAttachment(path string) (*meeting.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return &meeting.Attachment{Data: data, MIMEType: mimeType}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Minutas · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("S2S", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Analysis", string(cfg.Analysis.Provider), cfg.Analysis.Model)
	printProvider("Chat", string(cfg.Chat.Provider), cfg.Chat.Model)
	storage := "memory"
	if cfg.Storage.LocalPath != "" {
		storage = "sqlite"
	}
	if cfg.Storage.PostgresDSN != "" {
		storage += " + postgres"
	}
	fmt.Printf("║  Storage         : %-19s ║\n", storage)
	fmt.Printf("║  Live language   : %-19s ║\n", cfg.Live.Language)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
