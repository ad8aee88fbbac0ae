package config_test

import (
	"strings"
	"testing"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
)

func TestValidate_DuplicateProfileKeys(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1"},
			{Key: "screen", AssistantID: "a-2"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for duplicate profile keys, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate key error, got: %v", err)
	}
}

func TestValidate_MissingAssistantID(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing assistant_id, got nil")
	}
	if !strings.Contains(err.Error(), "assistant_id is required") {
		t.Errorf("expected assistant_id error, got: %v", err)
	}
}

func TestValidate_TokenEndpointRequiredWithAvatar(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Avatar: config.ProviderEntry{Name: "heygen"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing token endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "providers.token.endpoint is required") {
		t.Errorf("expected token endpoint error, got: %v", err)
	}
}

func TestValidate_TokenEndpointNotRequiredWithoutAvatar(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidEnums(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1", Mode: "sometimes", Quality: "ultra"},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid enum values, got nil")
	}
	for _, want := range []string{
		`server.log_level "loud" is invalid`,
		`profiles[0].mode "sometimes" is invalid`,
		`profiles[0].quality "ultra" is invalid`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to contain %q, got: %v", want, err)
		}
	}
}

func TestValidate_NegativeListeningBounds(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Listening: config.ListeningConfig{SampleRate: -1, MaxUtteranceMs: -100},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative listening bounds, got nil")
	}
	if !strings.Contains(err.Error(), "listening.sample_rate") {
		t.Errorf("expected sample_rate error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "listening.max_utterance_ms") {
		t.Errorf("expected max_utterance_ms error, got: %v", err)
	}
}

func TestValidate_RecordingRequiresDir(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Recording: config.RecordingConfig{Enabled: true, Channels: 3},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for recording config, got nil")
	}
	if !strings.Contains(err.Error(), "recording.dir is required") {
		t.Errorf("expected recording.dir error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "recording.channels 3 is invalid") {
		t.Errorf("expected recording.channels error, got: %v", err)
	}
}

func TestValidate_RecordingDisabledSkipsChecks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Recording: config.RecordingConfig{Enabled: false, Channels: 3},
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFromReader_InvalidConfigRejected(t *testing.T) {
	t.Parallel()
	yaml := `
profiles:
  - key: screen
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind string
		name string
	}{
		{"avatar", "heygen"},
		{"capture", "deepgram"},
		{"assistant", "openai"},
		{"assistant", "anyllm"},
		{"embeddings", "openai"},
	}
	for _, tc := range cases {
		names, ok := config.ValidProviderNames[tc.kind]
		if !ok {
			t.Errorf("missing provider kind %q", tc.kind)
			continue
		}
		found := false
		for _, n := range names {
			if n == tc.name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q to be a valid %s provider", tc.name, tc.kind)
		}
	}
}
