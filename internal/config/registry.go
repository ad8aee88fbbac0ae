package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/embeddings"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	avatar     map[string]func(ProviderEntry) (avatar.Service, error)
	capture    map[string]func(ProviderEntry) (capture.Service, error)
	assistant  map[string]func(ProviderEntry) (assistant.Service, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		avatar:     make(map[string]func(ProviderEntry) (avatar.Service, error)),
		capture:    make(map[string]func(ProviderEntry) (capture.Service, error)),
		assistant:  make(map[string]func(ProviderEntry) (assistant.Service, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterAvatar registers an avatar provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAvatar(name string, factory func(ProviderEntry) (avatar.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avatar[name] = factory
}

// RegisterCapture registers a capture provider factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (capture.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterAssistant registers an assistant provider factory under name.
func (r *Registry) RegisterAssistant(name string, factory func(ProviderEntry) (assistant.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistant[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateAvatar instantiates an avatar provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateAvatar(entry ProviderEntry) (avatar.Service, error) {
	r.mu.RLock()
	factory, ok := r.avatar[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: avatar/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a capture provider using the factory registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Service, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAssistant instantiates an assistant provider using the factory registered under entry.Name.
func (r *Registry) CreateAssistant(entry ProviderEntry) (assistant.Service, error) {
	r.mu.RLock()
	factory, ok := r.assistant[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: assistant/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
