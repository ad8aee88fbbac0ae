// Package profile resolves interview profile keys to their session settings.
//
// Profiles are loaded once from configuration and are immutable afterwards; a
// hot reload swaps the whole table rather than mutating entries in place.
package profile

import (
	"errors"
	"fmt"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
)

// ErrNotFound is returned by [Table.Resolve] for an unknown profile key.
var ErrNotFound = errors.New("profile: not found")

// Profile is the fully resolved set of session settings for one interview
// profile.
type Profile struct {
	// Key uniquely identifies the profile.
	Key string

	// AssistantID selects the vendor-side assistant or model identity.
	AssistantID string

	// Instructions is the interviewer persona for the assistant conversation.
	Instructions string

	// AutoListen is true when sessions under this profile restart listening
	// automatically after each interviewer reply.
	AutoListen bool

	// Quality is the avatar stream quality requested at connect time.
	Quality avatar.Quality
}

// Table is an immutable profile lookup table.
type Table struct {
	profiles map[string]Profile
}

// FromConfig builds a Table from the configured profiles. Defaults are
// applied here: listen mode defaults to manual, quality to medium.
// Duplicate keys are rejected by config validation before this point.
func FromConfig(cfgs []config.ProfileConfig) *Table {
	m := make(map[string]Profile, len(cfgs))
	for _, c := range cfgs {
		quality := avatar.Quality(c.Quality)
		if !quality.IsValid() {
			quality = avatar.QualityMedium
		}
		m[c.Key] = Profile{
			Key:          c.Key,
			AssistantID:  c.AssistantID,
			Instructions: c.Instructions,
			AutoListen:   c.Mode == config.ListenAuto,
			Quality:      quality,
		}
	}
	return &Table{profiles: m}
}

// Resolve returns the profile registered under key, or [ErrNotFound].
func (t *Table) Resolve(key string) (Profile, error) {
	p, ok := t.profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return p, nil
}

// Keys returns the registered profile keys in unspecified order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.profiles))
	for k := range t.profiles {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of registered profiles.
func (t *Table) Len() int { return len(t.profiles) }
