// Package openai provides an assistant backed by the OpenAI chat completions
// API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
)

const defaultModel = "gpt-4o-mini"

// config holds optional configuration for the service.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Service implements assistant.Service using the OpenAI API.
type Service struct {
	client oai.Client
}

// New constructs a new OpenAI assistant Service.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Service{client: oai.NewClient(reqOpts...)}, nil
}

// NewConversation implements assistant.Service. The AssistantID selects the
// chat model; defaultModel is used when it is empty.
func (s *Service) NewConversation(_ context.Context, cfg assistant.ConversationConfig) (assistant.Conversation, error) {
	model := cfg.AssistantID
	if model == "" {
		model = defaultModel
	}
	return &conversation{
		client: s.client,
		cfg:    cfg,
		model:  model,
	}, nil
}

// conversation is a stateful OpenAI chat. It implements
// assistant.Conversation.
type conversation struct {
	client oai.Client
	cfg    assistant.ConversationConfig
	model  string

	mu      sync.Mutex
	history []assistant.Message
}

// Send implements assistant.Conversation.
func (c *conversation) Send(ctx context.Context, text string) (<-chan assistant.Delta, error) {
	params := c.buildParams(text)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan assistant.Delta, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var full string
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" {
				continue
			}
			full += delta.Content
			select {
			case ch <- assistant.Delta{Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- assistant.Delta{Done: true, Err: fmt.Errorf("openai: stream: %w", err)}:
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

// buildParams assembles the chat request: instructions, prior history, then
// the new utterance.
func (c *conversation) buildParams(text string) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if c.cfg.Instructions != "" {
		messages = append(messages, oai.SystemMessage(c.cfg.Instructions))
	}

	c.mu.Lock()
	for _, m := range c.history {
		switch m.Role {
		case assistant.RoleUser:
			messages = append(messages, oai.UserMessage(m.Content))
		case assistant.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		}
	}
	c.mu.Unlock()

	messages = append(messages, oai.UserMessage(text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if c.cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.cfg.MaxTokens))
	}
	return params
}

// Compile-time interface checks.
var (
	_ assistant.Service      = (*Service)(nil)
	_ assistant.Conversation = (*conversation)(nil)
)
