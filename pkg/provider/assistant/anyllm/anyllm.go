// Package anyllm provides an assistant backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	s, err := anyllm.New("openai", anyllmlib.WithAPIKey("sk-..."))
//	s, err := anyllm.NewAnthropic(anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
)

// Service implements assistant.Service by wrapping
// github.com/mozilla-ai/any-llm-go.
type Service struct {
	backend anyllmlib.Provider
}

// New creates a new Service backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (e.g., OPENAI_API_KEY).
func New(providerName string, opts ...anyllmlib.Option) (*Service, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Service{backend: backend}, nil
}

// NewOpenAI creates a Service backed by OpenAI.
// Without options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(opts ...anyllmlib.Option) (*Service, error) {
	return New("openai", opts...)
}

// NewAnthropic creates a Service backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(opts ...anyllmlib.Option) (*Service, error) {
	return New("anthropic", opts...)
}

// NewGemini creates a Service backed by Google Gemini.
// Without options, it reads the GEMINI_API_KEY or GOOGLE_API_KEY environment variable.
func NewGemini(opts ...anyllmlib.Option) (*Service, error) {
	return New("gemini", opts...)
}

// NewOllama creates a Service backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(opts ...anyllmlib.Option) (*Service, error) {
	return New("ollama", opts...)
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// NewConversation implements assistant.Service. The AssistantID selects the
// backend model and must be non-empty.
func (s *Service) NewConversation(_ context.Context, cfg assistant.ConversationConfig) (assistant.Conversation, error) {
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("anyllm: AssistantID must not be empty")
	}
	return &conversation{
		backend: s.backend,
		cfg:     cfg,
	}, nil
}

// conversation is a stateful any-llm-go chat. It implements
// assistant.Conversation.
type conversation struct {
	backend anyllmlib.Provider
	cfg     assistant.ConversationConfig

	mu      sync.Mutex
	history []assistant.Message
}

// Send implements assistant.Conversation.
func (c *conversation) Send(ctx context.Context, text string) (<-chan assistant.Delta, error) {
	params := c.buildParams(text)

	backendChunks, backendErrs := c.backend.CompletionStream(ctx, params)

	ch := make(chan assistant.Delta, 32)
	go func() {
		defer close(ch)

		var full string
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			full += content
			select {
			case ch <- assistant.Delta{Text: content}:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- assistant.Delta{Done: true, Err: fmt.Errorf("anyllm: stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		c.mu.Lock()
		c.history = append(c.history,
			assistant.Message{Role: assistant.RoleUser, Content: text},
			assistant.Message{Role: assistant.RoleAssistant, Content: full},
		)
		c.mu.Unlock()

		select {
		case ch <- assistant.Delta{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// History implements assistant.Conversation.
func (c *conversation) History() []assistant.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assistant.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Close implements assistant.Conversation.
func (c *conversation) Close() error { return nil }

// buildParams assembles the completion request: instructions, prior history,
// then the new utterance.
func (c *conversation) buildParams(text string) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if c.cfg.Instructions != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: c.cfg.Instructions,
		})
	}

	c.mu.Lock()
	for _, m := range c.history {
		messages = append(messages, anyllmlib.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	c.mu.Unlock()

	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: text,
	})

	params := anyllmlib.CompletionParams{
		Model:    c.cfg.AssistantID,
		Messages: messages,
	}
	if c.cfg.Temperature != 0 {
		t := c.cfg.Temperature
		params.Temperature = &t
	}
	if c.cfg.MaxTokens > 0 {
		mt := c.cfg.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// Compile-time interface checks.
var (
	_ assistant.Service      = (*Service)(nil)
	_ assistant.Conversation = (*conversation)(nil)
)
