package llm

import (
	"context"
	"errors"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
)

// classifyLLMErr classifies an error from a provider SDK call, falling back
// to KindLLMTimeout only when ctx itself actually deadlined — a provider
// can fail for auth, rate-limit, or transport reasons that have nothing to
// do with a timeout, and rerrors.Classify already knows how to tell those
// apart from its error text.
func classifyLLMErr(ctx context.Context, err error) rerrors.Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rerrors.KindLLMTimeout
	}
	if kind := rerrors.Classify(err); kind != "" {
		return kind
	}
	return rerrors.KindLLMTimeout
}
