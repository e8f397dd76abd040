// Command glimpse captures the screen, recognises the text on it and stores
// what changed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/glimpse/internal/app"
	"github.com/MrWong99/glimpse/internal/config"
	"github.com/MrWong99/glimpse/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listMonitors := flag.Bool("list-monitors", false, "print the available monitors and exit")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "glimpse: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glimpse: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listMonitors {
		return printMonitors(ctx, cfg, reg)
	}

	slog.Info("glimpse starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "glimpse", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithTelemetry(tel), app.WithLogger(logger))
	if err != nil {
		closeProviders(providers)
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("capturing, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

// printMonitors lists the displays of the configured capture provider.
func printMonitors(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	p, err := reg.CreateCapture(cfg.Capture.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		return 1
	}
	if c, ok := p.(io.Closer); ok {
		defer c.Close()
	}
	monitors, err := p.Monitors(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: list monitors: %v\n", err)
		return 1
	}
	for _, m := range monitors {
		primary := ""
		if m.Primary {
			primary = " (primary)"
		}
		fmt.Printf("%d: %dx%d at %d,%d%s\n", m.Index, m.Bounds.Dx(), m.Bounds.Dy(), m.Bounds.Min.X, m.Bounds.Min.Y, primary)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         glimpse · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", providerValue(cfg.Capture.Provider.Name, ""))
	printRow("Monitor", fmt.Sprintf("%d every %s", cfg.Capture.MonitorIndex, cfg.Capture.Interval()))
	printRow("Diff thresh.", fmt.Sprintf("%.4f", *cfg.Change.DiffThreshold))
	printRow("Recognizer", providerValue(cfg.Recognition.Provider.Name, cfg.Recognition.Provider.Model))
	printRow("Workers", fmt.Sprintf("%d", cfg.Recognition.Workers))
	printRow("Min conf.", fmt.Sprintf("%.2f", *cfg.Recognition.MinConfidence))
	printRow("Storage", providerValue(cfg.Storage.Provider.Name, ""))
	printRow("Embeddings", providerValue(cfg.Embeddings.Name, cfg.Embeddings.Model))
	if cfg.Server.ListenAddr != "" {
		printRow("Ops server", cfg.Server.ListenAddr)
	} else {
		printRow("Ops server", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerValue(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
