// Package assistant defines the conversational AI abstraction: a stateful
// interview conversation that turns candidate utterances into streamed
// interviewer replies.
package assistant

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Delta is one fragment of a streamed assistant reply. The final delta of a
// reply has Done set; a failed stream carries Err on its last delta.
type Delta struct {
	// Text is the reply fragment. May be empty on the terminal delta.
	Text string
	// Done marks the end of the reply stream.
	Done bool
	// Err, when non-nil, reports why the stream ended early. Done is also
	// set on error deltas.
	Err error
}

// ConversationConfig controls a new conversation.
type ConversationConfig struct {
	// AssistantID selects the vendor-side assistant or model identity.
	AssistantID string
	// Instructions is the system prompt framing the interview.
	Instructions string
	// Temperature, when non-zero, overrides the vendor default.
	Temperature float64
	// MaxTokens, when non-zero, caps the length of each reply.
	MaxTokens int
}

// Conversation is a stateful exchange with the assistant. Implementations
// keep the message history so each Send sees the full dialogue so far.
// Conversations are not safe for concurrent Sends.
type Conversation interface {
	// Send submits one user utterance and returns the streamed reply. The
	// returned channel is closed after the delta with Done set. The reply
	// is appended to the history only once the stream completes cleanly.
	Send(ctx context.Context, text string) (<-chan Delta, error)
	// History returns a copy of the conversation so far, excluding the
	// system instructions.
	History() []Message
	// Close releases the conversation.
	Close() error
}

// Service creates conversations.
type Service interface {
	NewConversation(ctx context.Context, cfg ConversationConfig) (Conversation, error)
}
