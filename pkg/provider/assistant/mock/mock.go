// Package mock provides configurable in-memory implementations of the
// assistant interfaces for testing.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
)

// Service is a mock assistant.Service.
type Service struct {
	mu sync.Mutex

	// NewConversationErr, when set, is returned by NewConversation.
	NewConversationErr error

	// ReplyFunc, when set, is copied onto every created Conversation.
	ReplyFunc func(text string) []assistant.Delta

	// Configs records every NewConversation config in order.
	Configs []assistant.ConversationConfig

	// Conversations records every created conversation in order.
	Conversations []*Conversation
}

// NewConversation implements assistant.Service.
func (s *Service) NewConversation(_ context.Context, cfg assistant.ConversationConfig) (assistant.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NewConversationErr != nil {
		return nil, s.NewConversationErr
	}
	conv := &Conversation{ReplyFunc: s.ReplyFunc}
	s.Configs = append(s.Configs, cfg)
	s.Conversations = append(s.Conversations, conv)
	return conv, nil
}

// LastConversation returns the most recently created conversation, or nil.
func (s *Service) LastConversation() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Conversations) == 0 {
		return nil
	}
	return s.Conversations[len(s.Conversations)-1]
}

// Conversation is a mock assistant.Conversation. By default each Send
// streams back "reply to: <text>" followed by a terminal delta; ReplyFunc or
// SendErr override that.
type Conversation struct {
	mu sync.Mutex

	// SendErr, when set, is returned by Send immediately.
	SendErr error

	// ReplyFunc, when set, produces the deltas streamed for each Send.
	ReplyFunc func(text string) []assistant.Delta

	// Block, when non-nil, delays each reply stream until the channel is
	// closed. Lets tests hold a turn open.
	Block chan struct{}

	// SentTexts records every utterance passed to Send.
	SentTexts []string

	// CloseCount counts Close invocations.
	CloseCount int

	history []assistant.Message
	closed  bool
}

// Send implements assistant.Conversation.
func (c *Conversation) Send(ctx context.Context, text string) (<-chan Delta, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("mock: conversation is closed")
	}
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return nil, err
	}
	c.SentTexts = append(c.SentTexts, text)
	replyFn := c.ReplyFunc
	block := c.Block
	c.mu.Unlock()

	deltas := defaultReply(text)
	if replyFn != nil {
		deltas = replyFn(text)
	}

	ch := make(chan assistant.Delta, len(deltas)+1)
	go func() {
		defer close(ch)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				ch <- assistant.Delta{Done: true, Err: ctx.Err()}
				return
			}
		}
		var full string
		for _, d := range deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				ch <- assistant.Delta{Done: true, Err: ctx.Err()}
				return
			}
			full += d.Text
			if d.Done {
				if d.Err == nil {
					c.mu.Lock()
					c.history = append(c.history,
						assistant.Message{Role: assistant.RoleUser, Content: text},
						assistant.Message{Role: assistant.RoleAssistant, Content: full},
					)
					c.mu.Unlock()
				}
				return
			}
		}
		// No terminal delta supplied; synthesize one.
		ch <- assistant.Delta{Done: true}
		c.mu.Lock()
		c.history = append(c.history,
			assistant.Message{Role: assistant.RoleUser, Content: text},
			assistant.Message{Role: assistant.RoleAssistant, Content: full},
		)
		c.mu.Unlock()
	}()
	return ch, nil
}

// Sent returns a copy of the utterances passed to Send so far.
func (c *Conversation) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SentTexts))
	copy(out, c.SentTexts)
	return out
}

// History implements assistant.Conversation.
func (c *Conversation) History() []assistant.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assistant.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Close implements assistant.Conversation.
func (c *Conversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.CloseCount++
	return nil
}

// Delta aliases assistant.Delta so call sites read naturally.
type Delta = assistant.Delta

func defaultReply(text string) []assistant.Delta {
	return []assistant.Delta{
		{Text: "reply to: "},
		{Text: text},
		{Done: true},
	}
}

// Compile-time interface checks.
var (
	_ assistant.Service      = (*Service)(nil)
	_ assistant.Conversation = (*Conversation)(nil)
)
