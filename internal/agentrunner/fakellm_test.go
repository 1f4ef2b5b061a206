package agentrunner

import (
	"context"

	"github.com/rcrt-dev/rcrt/internal/llm"
)

// scriptedLLM returns canned responses in order, one per Complete call,
// so orchestration tests can drive a multi-round conversation.
type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	if s.calls >= len(s.replies) {
		return llm.Response{Text: s.replies[len(s.replies)-1]}, nil
	}
	text := s.replies[s.calls]
	s.calls++
	return llm.Response{Text: text}, nil
}
