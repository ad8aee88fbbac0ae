package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
)

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_WithAPIKey checks that the OpenAI backend constructs successfully.
func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	s, err := New("openai", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil service")
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	s, err := NewOllama()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil service")
	}
}

// ── NewConversation ───────────────────────────────────────────────────────────

// TestNewConversation_EmptyAssistantID checks that a missing model is rejected.
func TestNewConversation_EmptyAssistantID(t *testing.T) {
	s, err := NewOllama()
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	_, err = s.NewConversation(context.Background(), assistant.ConversationConfig{})
	if err == nil {
		t.Fatal("expected error for empty AssistantID")
	}
}

// TestNewConversation_EmptyHistory checks that a fresh conversation starts empty.
func TestNewConversation_EmptyHistory(t *testing.T) {
	s, err := NewOllama()
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	conv, err := s.NewConversation(context.Background(), assistant.ConversationConfig{AssistantID: "llama3"})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if got := conv.History(); len(got) != 0 {
		t.Errorf("expected empty history, got %d messages", len(got))
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_InstructionsFirst checks that system instructions lead the
// message list and the new utterance ends it.
func TestBuildParams_InstructionsFirst(t *testing.T) {
	c := &conversation{
		cfg: assistant.ConversationConfig{
			AssistantID:  "llama3",
			Instructions: "You are an interviewer.",
		},
		history: []assistant.Message{
			{Role: assistant.RoleUser, Content: "Hi"},
			{Role: assistant.RoleAssistant, Content: "Welcome. Tell me about yourself."},
		},
	}

	params := c.buildParams("I am a software engineer.")

	if params.Model != "llama3" {
		t.Errorf("expected model llama3, got %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected first message role system, got %q", params.Messages[0].Role)
	}
	last := params.Messages[len(params.Messages)-1]
	if last.Role != anyllmlib.RoleUser {
		t.Errorf("expected last message role user, got %q", last.Role)
	}
	if last.ContentString() != "I am a software engineer." {
		t.Errorf("unexpected last message content: %q", last.ContentString())
	}
}

// TestBuildParams_Overrides checks temperature and max token plumbing.
func TestBuildParams_Overrides(t *testing.T) {
	c := &conversation{
		cfg: assistant.ConversationConfig{
			AssistantID: "llama3",
			Temperature: 0.4,
			MaxTokens:   256,
		},
	}

	params := c.buildParams("Hello")

	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("expected temperature 0.4, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("expected max tokens 256, got %v", params.MaxTokens)
	}
}

// TestBuildParams_NoOverrides checks that zero values leave vendor defaults.
func TestBuildParams_NoOverrides(t *testing.T) {
	c := &conversation{cfg: assistant.ConversationConfig{AssistantID: "llama3"}}

	params := c.buildParams("Hello")

	if params.Temperature != nil {
		t.Errorf("expected nil temperature, got %v", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("expected nil max tokens, got %v", *params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message without instructions or history, got %d", len(params.Messages))
	}
}
