// Command interviewd is the main entry point for the CommuniQate interview
// server. It wires the configured vendor providers into the session manager
// and serves the interview control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/health"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/listen"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/observe"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/profile"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/recording"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/report"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/server"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/session"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media/browser"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant/anyllm"
	oaassist "github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant/openai"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar/heygen"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture/deepgram"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/embeddings"
	oaembed "github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/embeddings/openai"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/transcribe"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/transcribe/whisper"
)

const defaultEmbeddingDimensions = 1536

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "interviewd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "interviewd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("interviewd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "interviewd",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.Avatar == nil || providers.Capture == nil || providers.Assistant == nil {
		slog.Error("avatar, capture, and assistant providers must all be configured")
		return 1
	}

	tokenSvc, err := token.NewClient(cfg.Providers.Token.Endpoint, cfg.Providers.Token.APIKey)
	if err != nil {
		slog.Error("failed to create credential client", "err", err)
		return 1
	}

	// ── Report store (optional) ───────────────────────────────────────────────
	var store *report.Store
	if cfg.Report.PostgresDSN != "" {
		dims := cfg.Report.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDimensions
		}
		var storeOpts []report.Option
		if providers.Embeddings != nil {
			storeOpts = append(storeOpts, report.WithEmbeddings(providers.Embeddings))
		}
		store, err = report.NewStore(ctx, cfg.Report.PostgresDSN, dims, storeOpts...)
		if err != nil {
			slog.Error("failed to open report store", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("report store ready", "embedding_dimensions", dims)
	}

	// ── Offline transcriber (optional) ────────────────────────────────────────
	var transcriber transcribe.Transcriber
	if path := cfg.Providers.Transcribe.ModelPath; path != "" {
		var opts []whisper.Option
		if lang := cfg.Providers.Transcribe.Language; lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		w, err := whisper.New(path, opts...)
		if err != nil {
			slog.Error("failed to load whisper model", "model_path", path, "err", err)
			return 1
		}
		defer w.Close()
		transcriber = w
		slog.Info("offline transcriber ready", "model_path", path)
	}

	// ── Session manager ───────────────────────────────────────────────────────
	bridge := browser.New()
	profiles := profile.FromConfig(cfg.Profiles)

	mgrCfg := session.ManagerConfig{
		Profiles:    profiles,
		Token:       tokenSvc,
		Devices:     bridge,
		Avatar:      providers.Avatar,
		Assistant:   providers.Assistant,
		Capture:     providers.Capture,
		Listening:   listenConfig(cfg.Listening),
		SettleDelay: millis(cfg.Listening.SettleDelayMs, 700),
		Transcriber: transcriber,
		Metrics:     metrics,
	}
	if store != nil {
		mgrCfg.Reports = store
	}
	if cfg.Recording.Enabled {
		mgrCfg.Recording = &recording.Config{
			Dir:         cfg.Recording.Dir,
			SampleRate:  cfg.Recording.SampleRate,
			Channels:    cfg.Recording.Channels,
			BitrateKbps: cfg.Recording.BitrateKbps,
		}
	}
	mgr := session.NewManager(mgrCfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ProfilesChanged {
			mgr.SetProfiles(profile.FromConfig(new.Profiles))
			slog.Info("profiles reloaded", "profiles", len(new.Profiles))
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	var checkers []health.Checker
	if store != nil {
		checkers = append(checkers, health.ReportStore(store))
	}

	srvOpts := []server.Option{
		server.WithHealth(health.New(checkers...)),
		server.WithMetricsHandler(promhttp.Handler()),
		server.WithMediaIngest(bridge),
		server.WithMiddleware(observe.Middleware(metrics)),
	}
	if store != nil {
		srvOpts = append(srvOpts, server.WithReports(store))
	}

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.New(mgr, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, addr)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if mgr.IsActive() {
			if err := mgr.Stop(shutdownCtx); err != nil && !errors.Is(err, session.ErrNoSession) {
				slog.Warn("stopping active session", "err", err)
			}
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the assistant backends served through any-llm-go. The
// "openai" name is deliberately absent: it is registered against the native
// openai-go client instead.
var anyllmBackends = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Avatar ────────────────────────────────────────────────────────────────

	reg.RegisterAvatar("heygen", func(entry config.ProviderEntry) (avatar.Service, error) {
		var opts []heygen.Option
		if entry.Endpoint != "" {
			opts = append(opts, heygen.WithEndpoint(entry.Endpoint))
		}
		if id := optString(entry.Options, "avatar_id"); id != "" {
			opts = append(opts, heygen.WithAvatarID(id))
		}
		return heygen.New(opts...), nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("deepgram", func(entry config.ProviderEntry) (capture.Service, error) {
		var opts []deepgram.Option
		if entry.Endpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.Endpoint))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Assistant ─────────────────────────────────────────────────────────────

	reg.RegisterAssistant("openai", func(entry config.ProviderEntry) (assistant.Service, error) {
		var opts []oaassist.Option
		if entry.Endpoint != "" {
			opts = append(opts, oaassist.WithBaseURL(entry.Endpoint))
		}
		return oaassist.New(entry.APIKey, opts...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterAssistant(backend, func(entry config.ProviderEntry) (assistant.Service, error) {
			return anyllm.New(backend, anyllmOptions(entry)...)
		})
	}
	// "anyllm" routes to the backend named in the provider options.
	reg.RegisterAssistant("anyllm", func(entry config.ProviderEntry) (assistant.Service, error) {
		backend := optString(entry.Options, "backend")
		if backend == "" {
			return nil, errors.New("assistant anyllm: options.backend is required")
		}
		return anyllm.New(backend, anyllmOptions(entry)...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.Endpoint != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.Endpoint))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.Endpoint != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.Endpoint))
	}
	return opts
}

// providerSet holds the instantiated session providers.
type providerSet struct {
	Avatar     avatar.Service
	Capture    capture.Service
	Assistant  assistant.Service
	Embeddings embeddings.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.Avatar.Name; name != "" {
		p, err := reg.CreateAvatar(cfg.Providers.Avatar)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "avatar", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create avatar provider %q: %w", name, err)
		} else {
			ps.Avatar = p
			slog.Info("provider created", "kind", "avatar", "name", name)
		}
	}

	if name := cfg.Providers.Capture.Name; name != "" {
		p, err := reg.CreateCapture(cfg.Providers.Capture)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "capture", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create capture provider %q: %w", name, err)
		} else {
			ps.Capture = p
			slog.Info("provider created", "kind", "capture", "name", name)
		}
	}

	if name := cfg.Providers.Assistant.Name; name != "" {
		p, err := reg.CreateAssistant(cfg.Providers.Assistant)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "assistant", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create assistant provider %q: %w", name, err)
		} else {
			ps.Assistant = p
			slog.Info("provider created", "kind", "assistant", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      CommuniQate — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Avatar", cfg.Providers.Avatar.Name, "")
	printProvider("Capture", cfg.Providers.Capture.Name, cfg.Providers.Capture.Model)
	printProvider("Assistant", cfg.Providers.Assistant.Name, cfg.Providers.Assistant.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Report.PostgresDSN != "" {
		fmt.Printf("║  Report store    : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Report store    : %-19s ║\n", "(disabled)")
	}
	if cfg.Recording.Enabled {
		fmt.Printf("║  Recording       : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Recording       : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Profiles        : %-19d ║\n", len(cfg.Profiles))
	fmt.Printf("║  Listen addr     : %-19s ║\n", addr)
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

// ── Config mapping ────────────────────────────────────────────────────────────

func listenConfig(lc config.ListeningConfig) listen.Config {
	return listen.Config{
		Language:     lc.Language,
		SampleRate:   lc.SampleRate,
		RestartDelay: millis(lc.RestartDelayMs, 500),
		MaxUtterance: millis(lc.MaxUtteranceMs, 0),
	}
}

// millis converts a configured millisecond count to a duration, substituting
// def when the value is unset.
func millis(ms, def int) time.Duration {
	if ms <= 0 {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
