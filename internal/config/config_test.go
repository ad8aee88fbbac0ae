package config_test

import (
	"strings"
	"testing"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("expected %q to be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("expected 'verbose' to be invalid")
	}
	if config.LogLevel("").IsValid() {
		t.Error("expected empty log level to be invalid")
	}
}

func TestListenMode_IsValid(t *testing.T) {
	t.Parallel()
	if !config.ListenManual.IsValid() || !config.ListenAuto.IsValid() {
		t.Error("expected manual and auto to be valid")
	}
	if config.ListenMode("continuous").IsValid() {
		t.Error("expected 'continuous' to be invalid")
	}
}

func TestAvatarQuality_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.AvatarQuality{config.QualityLow, config.QualityMedium, config.QualityHigh}
	for _, q := range valid {
		if !q.IsValid() {
			t.Errorf("expected %q to be valid", q)
		}
	}
	if config.AvatarQuality("ultra").IsValid() {
		t.Error("expected 'ultra' to be invalid")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  unknown_knob: 42
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
providers:
  token:
    endpoint: "https://tokens.example.com/v1/session"
    api_key: tok-key
  avatar:
    name: heygen
  capture:
    name: deepgram
    api_key: dg-key
    model: nova-3
  assistant:
    name: openai
    api_key: sk-key
    model: gpt-4o-mini
  embeddings:
    name: openai
    api_key: sk-key
  transcribe:
    model_path: /models/ggml-base.en.bin
profiles:
  - key: software-engineer-screen
    assistant_id: gpt-4o-mini
    instructions: "You are a friendly technical interviewer."
    mode: auto
    quality: high
listening:
  language: en
  sample_rate: 16000
  restart_delay_ms: 350
  max_utterance_ms: 60000
  settle_delay_ms: 700
recording:
  enabled: true
  dir: /var/lib/interviews
  sample_rate: 48000
  channels: 1
  bitrate_kbps: 64
report:
  postgres_dsn: "postgres://localhost/interviews"
  embedding_dimensions: 1536
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if len(cfg.Profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(cfg.Profiles))
	}
	p := cfg.Profiles[0]
	if p.Mode != config.ListenAuto {
		t.Errorf("profile mode: got %q, want auto", p.Mode)
	}
	if p.Quality != config.QualityHigh {
		t.Errorf("profile quality: got %q, want high", p.Quality)
	}
	if cfg.Listening.SettleDelayMs != 700 {
		t.Errorf("settle_delay_ms: got %d, want 700", cfg.Listening.SettleDelayMs)
	}
	if !cfg.Recording.Enabled {
		t.Error("expected recording to be enabled")
	}
}
