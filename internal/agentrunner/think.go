package agentrunner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcrt-dev/rcrt/internal/llm"
	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/usage"
)

// providerName labels metrics by the concrete llm.Client implementation in
// use, since llm.Client itself is provider-agnostic.
func providerName(c llm.Client) string {
	switch c.(type) {
	case *llm.AnthropicClient:
		return "anthropic"
	case *llm.OpenAIClient:
		return "openai"
	default:
		return "unknown"
	}
}

// recordUsage logs one completion's token spend against def.Name, if a
// tracker is configured.
func (r *Runner) recordUsage(def Definition, resp llm.Response) {
	if r.cfg.Usage == nil {
		return
	}
	r.cfg.Usage.Record(usage.Record{
		Model:  def.Model,
		UserID: def.Name,
		Usage: usage.Usage{
			InputTokens:  int64(resp.InputTokens),
			OutputTokens: int64(resp.OutputTokens),
		},
	})
}

// waitForRateLimit blocks until def.Name has a free token on r.cfg.RateLimit,
// or ctx is done. A nil limiter means rate limiting is disabled.
func (r *Runner) waitForRateLimit(ctx context.Context, def Definition) error {
	limiter := r.cfg.RateLimit
	if limiter == nil {
		return nil
	}
	for !limiter.Allow(def.Name) {
		wait := limiter.WaitTime(def.Name)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// completeWithTimeout bounds a single model call at r.cfg.LLMTimeout, so a
// model that never replies cannot wedge the agent's orchestration loop, and
// records its outcome as an observability.Tracer span and
// observability.Metrics sample.
func (r *Runner) completeWithTimeout(ctx context.Context, def Definition, messages []llm.Message) (llm.Response, error) {
	provider := providerName(r.llm)
	spanCtx, span := r.cfg.Tracer.Start(ctx, "agentrunner.complete",
		attribute.String("provider", provider), attribute.String("model", def.Model))
	defer span.End()

	callCtx, cancel := context.WithTimeout(spanCtx, r.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.llm.Complete(callCtx, llm.Request{
		Model:     def.Model,
		System:    def.SystemPrompt,
		Messages:  messages,
		MaxTokens: def.MaxTokens,
	})
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		r.cfg.Metrics.RecordError("agentrunner", string(rerrors.KindOf(err)))
	}
	r.cfg.Metrics.RecordLLMRequest(provider, def.Model, status, elapsed.Seconds(), resp.InputTokens, resp.OutputTokens)
	return resp, err
}

// think calls the model and parses its reply, retrying once with a repair
// prompt if the first reply fails to parse as valid JSON, per §4.4's
// failure handling. It returns the raw text alongside any error so the
// caller can attach it to an agent:error breadcrumb on permanent failure.
func (r *Runner) think(ctx context.Context, def Definition, messages []llm.Message) (Reply, string, error) {
	if err := r.waitForRateLimit(ctx, def); err != nil {
		return Reply{}, "", fmt.Errorf("agentrunner: rate limit wait: %w", err)
	}

	resp, err := r.completeWithTimeout(ctx, def, messages)
	if err != nil {
		return Reply{}, "", fmt.Errorf("agentrunner: llm completion: %w", err)
	}
	r.recordUsage(def, resp)

	reply, parseErr := parseReply(resp.Text)
	if parseErr == nil {
		return reply, resp.Text, nil
	}

	repairMessages := append(append([]llm.Message{}, messages...), llm.Message{
		Role:    "assistant",
		Content: resp.Text,
	}, llm.Message{
		Role:    "user",
		Content: repairPrompt(resp.Text, parseErr),
	})

	if err := r.waitForRateLimit(ctx, def); err != nil {
		return Reply{}, resp.Text, fmt.Errorf("agentrunner: rate limit wait: %w", err)
	}

	repaired, err := r.completeWithTimeout(ctx, def, repairMessages)
	if err != nil {
		return Reply{}, resp.Text, fmt.Errorf("agentrunner: llm repair completion: %w", err)
	}
	r.recordUsage(def, repaired)

	reply, parseErr = parseReply(repaired.Text)
	if parseErr != nil {
		return Reply{}, repaired.Text, fmt.Errorf("agentrunner: reply unparseable after repair retry: %w", parseErr)
	}
	return reply, repaired.Text, nil
}
