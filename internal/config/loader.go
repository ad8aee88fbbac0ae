package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"avatar":     {"heygen"},
	"capture":    {"deepgram"},
	"assistant":  {"openai", "anyllm", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("avatar", cfg.Providers.Avatar.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("assistant", cfg.Providers.Assistant.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Token service is mandatory for any avatar session.
	if cfg.Providers.Avatar.Name != "" && cfg.Providers.Token.Endpoint == "" {
		errs = append(errs, errors.New("providers.token.endpoint is required when an avatar provider is configured"))
	}

	// Embeddings ↔ report dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Report.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but report.embedding_dimensions is not set; defaulting to 1536")
	}

	// Report availability
	if cfg.Report.PostgresDSN == "" && len(cfg.Profiles) > 0 {
		slog.Warn("report.postgres_dsn is empty; interview reports will not be persisted")
	}

	// Profile duplicate key detection
	keysSeen := make(map[string]int, len(cfg.Profiles))

	for i, p := range cfg.Profiles {
		prefix := fmt.Sprintf("profiles[%d]", i)
		if p.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		} else {
			if prev, ok := keysSeen[p.Key]; ok {
				errs = append(errs, fmt.Errorf("%s.key %q is a duplicate of profiles[%d]", prefix, p.Key, prev))
			}
			keysSeen[p.Key] = i
		}
		if p.AssistantID == "" {
			errs = append(errs, fmt.Errorf("%s.assistant_id is required", prefix))
		}
		if p.Mode != "" && !p.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("%s.mode %q is invalid; valid values: manual, auto", prefix, p.Mode))
		}
		if p.Quality != "" && !p.Quality.IsValid() {
			errs = append(errs, fmt.Errorf("%s.quality %q is invalid; valid values: low, medium, high", prefix, p.Quality))
		}
	}

	// Listening bounds
	if cfg.Listening.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("listening.sample_rate %d must not be negative", cfg.Listening.SampleRate))
	}
	if cfg.Listening.MaxUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("listening.max_utterance_ms %d must not be negative", cfg.Listening.MaxUtteranceMs))
	}

	// Recording
	if cfg.Recording.Enabled {
		if cfg.Recording.Dir == "" {
			errs = append(errs, errors.New("recording.dir is required when recording is enabled"))
		}
		if cfg.Recording.Channels != 0 && cfg.Recording.Channels != 1 && cfg.Recording.Channels != 2 {
			errs = append(errs, fmt.Errorf("recording.channels %d is invalid; valid values: 1, 2", cfg.Recording.Channels))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
