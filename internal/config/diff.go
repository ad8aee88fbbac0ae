package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: interview
// profiles and the log level. Provider and server changes require a restart.
type ConfigDiff struct {
	ProfilesChanged bool          // true if any profile was added, removed, or modified
	ProfileChanges  []ProfileDiff // per-profile diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// ProfileDiff describes what changed for a single profile between two configs.
type ProfileDiff struct {
	Key                 string
	InstructionsChanged bool
	AssistantChanged    bool
	ModeChanged         bool
	QualityChanged      bool
	Added               bool
	Removed             bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build profile lookup maps keyed by profile key.
	oldProfiles := make(map[string]*ProfileConfig, len(old.Profiles))
	for i := range old.Profiles {
		oldProfiles[old.Profiles[i].Key] = &old.Profiles[i]
	}
	newProfiles := make(map[string]*ProfileConfig, len(new.Profiles))
	for i := range new.Profiles {
		newProfiles[new.Profiles[i].Key] = &new.Profiles[i]
	}

	// Detect modified and removed profiles.
	for key, oldP := range oldProfiles {
		newP, exists := newProfiles[key]
		if !exists {
			d.ProfileChanges = append(d.ProfileChanges, ProfileDiff{
				Key:     key,
				Removed: true,
			})
			d.ProfilesChanged = true
			continue
		}
		pd := diffProfile(key, oldP, newP)
		if pd.InstructionsChanged || pd.AssistantChanged || pd.ModeChanged || pd.QualityChanged {
			d.ProfileChanges = append(d.ProfileChanges, pd)
			d.ProfilesChanged = true
		}
	}

	// Detect added profiles.
	for key := range newProfiles {
		if _, exists := oldProfiles[key]; !exists {
			d.ProfileChanges = append(d.ProfileChanges, ProfileDiff{
				Key:   key,
				Added: true,
			})
			d.ProfilesChanged = true
		}
	}

	return d
}

// diffProfile compares two profile configs with the same key.
func diffProfile(key string, old, new *ProfileConfig) ProfileDiff {
	pd := ProfileDiff{Key: key}

	if old.Instructions != new.Instructions {
		pd.InstructionsChanged = true
	}
	if old.AssistantID != new.AssistantID {
		pd.AssistantChanged = true
	}
	if old.Mode != new.Mode {
		pd.ModeChanged = true
	}
	if old.Quality != new.Quality {
		pd.QualityChanged = true
	}

	return pd
}
