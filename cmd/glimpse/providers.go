package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/otiai10/gosseract/v2"

	"github.com/MrWong99/glimpse/internal/app"
	"github.com/MrWong99/glimpse/internal/config"
	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/provider/capture/screenshot"
	"github.com/MrWong99/glimpse/pkg/provider/capture/stream"
	"github.com/MrWong99/glimpse/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/glimpse/pkg/provider/embeddings/openai"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/provider/ocr/tesseract"
	"github.com/MrWong99/glimpse/pkg/sink"
	"github.com/MrWong99/glimpse/pkg/sink/postgres"
	"github.com/MrWong99/glimpse/pkg/sink/redis"
)

// Ollama defaults. Ollama serves the OpenAI embeddings API under /v1.
const (
	defaultOllamaURL   = "http://localhost:11434/v1"
	defaultOllamaModel = "nomic-embed-text"
)

// builtinProviders maps provider kinds to the implementations that ship with
// glimpse. Used for startup logging.
var builtinProviders = map[string][]string{
	"capture":     {"screenshot", "stream"},
	"recognition": {"tesseract"},
	"storage":     {"log", "postgres", "redis"},
	"embeddings":  {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("screenshot", func(config.ProviderEntry) (capture.Provider, error) {
		return screenshot.New(), nil
	})

	reg.RegisterCapture("stream", func(entry config.ProviderEntry) (capture.Provider, error) {
		var opts []stream.Option
		if name := optString(entry.Options, "name"); name != "" {
			opts = append(opts, stream.WithName(name))
		}
		p, err := stream.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Recognition ───────────────────────────────────────────────────────────

	reg.RegisterRecognition("tesseract", func(entry config.ProviderEntry) (ocr.Factory, error) {
		cfg := tesseract.Config{
			Language:       entry.Model,
			TessdataPrefix: optString(entry.Options, "tessdata_prefix"),
			Whitelist:      optString(entry.Options, "whitelist"),
		}
		if psm, ok := optInt(entry.Options, "page_seg_mode"); ok {
			cfg.PageSegMode = gosseract.PageSegMode(psm)
		}
		return tesseract.NewFactory(cfg), nil
	})

	// ── Storage ───────────────────────────────────────────────────────────────

	reg.RegisterStorage("log", func(_ context.Context, entry config.ProviderEntry, deps config.SinkDeps) (sink.Sink, error) {
		maxChars, _ := optInt(entry.Options, "max_chars")
		return sink.NewLog(deps.Logger, maxChars), nil
	})

	reg.RegisterStorage("postgres", func(ctx context.Context, entry config.ProviderEntry, deps config.SinkDeps) (sink.Sink, error) {
		opts := []postgres.Option{postgres.WithLogger(deps.Logger)}
		if deps.Embedder != nil {
			opts = append(opts, postgres.WithEmbedder(deps.Embedder))
		}
		s, err := postgres.NewSink(ctx, entry.BaseURL, deps.EmbeddingDimensions, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterStorage("redis", func(ctx context.Context, entry config.ProviderEntry, _ config.SinkDeps) (sink.Sink, error) {
		var opts []redis.Option
		if name := optString(entry.Options, "stream"); name != "" {
			opts = append(opts, redis.WithStream(name))
		}
		if n, ok := optInt(entry.Options, "max_len"); ok {
			opts = append(opts, redis.WithMaxLen(int64(n)))
		}
		s, err := redis.New(ctx, entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return newEmbedder(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		url, model := entry.BaseURL, entry.Model
		if url == "" {
			url = defaultOllamaURL
		}
		if model == "" {
			model = defaultOllamaModel
		}
		opts := []oaembed.Option{oaembed.WithBaseURL(url)}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return newEmbedder(entry.APIKey, model, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// The embeddings provider is optional; the others are required.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*app.Providers, error) {
	ps := &app.Providers{}

	var err error
	if ps.Capture, err = reg.CreateCapture(cfg.Capture.Provider); err != nil {
		return nil, fmt.Errorf("create capture provider %q: %w", cfg.Capture.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "capture", "name", cfg.Capture.Provider.Name)

	if ps.Recognizer, err = reg.CreateRecognition(cfg.Recognition.Provider); err != nil {
		closeProviders(ps)
		return nil, fmt.Errorf("create recognition provider %q: %w", cfg.Recognition.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "recognition", "name", cfg.Recognition.Provider.Name)

	var embedder embeddings.Provider
	if name := cfg.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not available, skipping", "name", name)
		} else if err != nil {
			closeProviders(ps)
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			embedder = p
			slog.Info("provider created", "kind", "embeddings", "name", name, "model", p.ModelID(), "dimensions", p.Dimensions())
		}
	}

	fallback := 0
	if embedder != nil {
		fallback = embedder.Dimensions()
	}
	ps.Sink, err = reg.CreateStorage(ctx, cfg.Storage.Provider, config.SinkDeps{
		EmbeddingDimensions: cfg.Storage.Dimensions(fallback),
		Embedder:            embedder,
		Logger:              logger,
	})
	if err != nil {
		closeProviders(ps)
		return nil, fmt.Errorf("create storage provider %q: %w", cfg.Storage.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "storage", "name", cfg.Storage.Provider.Name)

	return ps, nil
}

// newEmbedder avoids handing a typed nil to the registry on error.
func newEmbedder(apiKey, model string, opts ...oaembed.Option) (embeddings.Provider, error) {
	p, err := oaembed.New(apiKey, model, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// closeProviders releases whatever buildProviders managed to create.
func closeProviders(ps *app.Providers) {
	if c, ok := ps.Capture.(io.Closer); ok {
		_ = c.Close()
	}
	if ps.Sink != nil {
		_ = ps.Sink.Close()
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes whole
// numbers as int; floats with no fractional part are accepted too.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
