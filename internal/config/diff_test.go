package config_test

import (
	"testing"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1", Mode: config.ListenAuto},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.ProfilesChanged {
		t.Error("expected no profile changes")
	}
	if d.LogLevelChanged {
		t.Error("expected no log level change")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}
	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected log level change")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("new log level: got %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_ProfileAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1"},
		},
	}
	new := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "panel", AssistantID: "a-2"},
		},
	}
	d := config.Diff(old, new)
	if !d.ProfilesChanged {
		t.Fatal("expected profile changes")
	}
	if len(d.ProfileChanges) != 2 {
		t.Fatalf("expected 2 profile diffs, got %d", len(d.ProfileChanges))
	}
	byKey := map[string]config.ProfileDiff{}
	for _, pd := range d.ProfileChanges {
		byKey[pd.Key] = pd
	}
	if !byKey["screen"].Removed {
		t.Error("expected 'screen' to be removed")
	}
	if !byKey["panel"].Added {
		t.Error("expected 'panel' to be added")
	}
}

func TestDiff_ProfileModified(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1", Instructions: "be strict", Mode: config.ListenManual, Quality: config.QualityLow},
		},
	}
	new := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-2", Instructions: "be friendly", Mode: config.ListenAuto, Quality: config.QualityHigh},
		},
	}
	d := config.Diff(old, new)
	if !d.ProfilesChanged {
		t.Fatal("expected profile changes")
	}
	if len(d.ProfileChanges) != 1 {
		t.Fatalf("expected 1 profile diff, got %d", len(d.ProfileChanges))
	}
	pd := d.ProfileChanges[0]
	if !pd.InstructionsChanged || !pd.AssistantChanged || !pd.ModeChanged || !pd.QualityChanged {
		t.Errorf("expected all fields changed, got %+v", pd)
	}
	if pd.Added || pd.Removed {
		t.Errorf("expected modification, not add/remove: %+v", pd)
	}
}

func TestDiff_UnchangedProfileNotReported(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1"},
			{Key: "panel", AssistantID: "a-2"},
		},
	}
	new := &config.Config{
		Profiles: []config.ProfileConfig{
			{Key: "screen", AssistantID: "a-1"},
			{Key: "panel", AssistantID: "a-9"},
		},
	}
	d := config.Diff(old, new)
	if len(d.ProfileChanges) != 1 {
		t.Fatalf("expected 1 profile diff, got %d", len(d.ProfileChanges))
	}
	if d.ProfileChanges[0].Key != "panel" {
		t.Errorf("expected diff for 'panel', got %q", d.ProfileChanges[0].Key)
	}
}
