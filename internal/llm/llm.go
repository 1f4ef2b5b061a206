// Package llm provides single-shot structured-reply completion clients for
// the agent runner, trimmed from the teacher's streaming
// internal/agent/providers package down to the one call shape this spec
// needs: one system prompt, a message history, and a JSON-structured
// reply (chat text, nested tool requests, state updates) with no
// token-by-token streaming.
package llm

import (
	"context"
)

// Message is one turn of conversation history passed to a model.
type Message struct {
	Role    string // "user" | "assistant" | "tool"
	Content string
}

// Request is a single completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Response is the raw text reply; agentrunner is responsible for parsing
// it as the structured JSON envelope the spec's reply format defines.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is satisfied by every provider this package ships, and by the
// agentrunner tests' stub.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
