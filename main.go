// Command chess-companion is the main entrypoint for the live analysis
// service. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the board watcher: polls the vision sidecar, detects position
//     changes, and pre-computes dual-perspective analysis bundles.
//   - Optionally joins Twitch chat to learn player names from moderators.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /query, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/chess-companion/analysis"
	"github.com/onnwee/chess-companion/broadcast"
	"github.com/onnwee/chess-companion/config"
	"github.com/onnwee/chess-companion/db"
	"github.com/onnwee/chess-companion/describe"
	"github.com/onnwee/chess-companion/engine"
	"github.com/onnwee/chess-companion/history"
	"github.com/onnwee/chess-companion/server"
	"github.com/onnwee/chess-companion/telemetry"
	"github.com/onnwee/chess-companion/vision"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateWatchReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chess-companion", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine session
	eng := engine.New(cfg.EnginePath)
	defer eng.Close()

	// Description synthesis: Gemini when a key is configured, otherwise the
	// deterministic template.
	var describer describe.Describer
	if cfg.GeminiAPIKey != "" {
		g, err := describe.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Warn("gemini init failed, using template descriptions", slog.Any("err", err))
		} else {
			describer = g
		}
	}

	// Broadcast context: static env names, refined by chat commands when a
	// channel is configured.
	var players broadcast.Source = broadcast.Static{White: cfg.WhitePlayer, Black: cfg.BlackPlayer}
	if cfg.TwitchChannel != "" {
		watcher := broadcast.NewChatWatcher(broadcast.Players{White: cfg.WhitePlayer, Black: cfg.BlackPlayer})
		go watcher.Run(ctx, cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
		players = watcher
	}

	store := analysis.NewStore()
	coord := &analysis.Coordinator{
		Detector: vision.NewClient(cfg.VisionURL),
		Store:    store,
		Analyzer: &analysis.Analyzer{
			Engine:      eng,
			History:     history.NewArchive(database),
			Describer:   describer,
			Limit:       engine.Limit{Depth: cfg.EngineDepth, MoveTime: cfg.EngineMoveTime},
			CallTimeout: cfg.AnalysisCallTimeout,
			HistoryTopK: cfg.HistoryTopK,
		},
		Interval: cfg.DetectInterval,
		DB:       database,
	}
	go coord.Run(ctx)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/readiness/status/query/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	opts := server.Options{
		DB:          database,
		Store:       store,
		Coordinator: coord,
		Engine:      eng,
		Players:     players,
	}
	go func() {
		if err := server.Start(ctx, opts, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
