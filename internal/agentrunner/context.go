package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcrt-dev/rcrt/internal/compaction"
	rcrtcontext "github.com/rcrt-dev/rcrt/internal/context"
	"github.com/rcrt-dev/rcrt/internal/llm"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

// historyPruneShare is the fraction of the context window the session
// history is allowed to occupy, leaving the rest for recent matches and
// the trigger breadcrumb itself.
const historyPruneShare = 0.6

// llmSummarizer adapts an llm.Client into a compaction.Summarizer, used
// to condense session history that would otherwise overflow the window
// instead of silently dropping it.
type llmSummarizer struct {
	client llm.Client
	model  string
}

func (s *llmSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	prompt := "Summarize the following conversation history concisely, preserving key facts, decisions, and open threads:\n\n" +
		compaction.FormatMessagesForSummary(messages)
	if config.CustomInstructions != "" {
		prompt = config.CustomInstructions + "\n\n" + prompt
	}
	resp, err := s.client.Complete(ctx, llm.Request{
		Model:     s.model,
		System:    "You compress agent conversation history into a short factual summary.",
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: config.ReserveTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func toCompactionMessages(messages []llm.Message) []*compaction.Message {
	out := make([]*compaction.Message, len(messages))
	for i, m := range messages {
		out[i] = &compaction.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// buildWindow assembles the prompt fed to the LLM: the active session's
// accumulated history, the breadcrumb that triggered this round, and a
// bounded set of recently matched breadcrumbs. History and recent matches
// are trimmed to fit def.ContextMaxTokens (the model's known window when
// that is unset); the trigger is always appended, without a fit check.
// Adapted from the teacher's internal/agent
// compaction pass, generalized from a fixed transcript to this spec's
// session/trigger/recent-matches shape.
func (r *Runner) buildWindow(ctx context.Context, def Definition, activeCtx *breadcrumb.Breadcrumb, trigger *breadcrumb.Breadcrumb) ([]llm.Message, error) {
	window := rcrtcontext.NewWindowForModel(def.Model)
	if def.ContextMaxTokens > 0 {
		window = rcrtcontext.NewWindow(def.ContextMaxTokens, "agent.def")
	}

	var messages []llm.Message

	if activeCtx != nil {
		history, err := decodeHistory(activeCtx)
		if err != nil {
			return nil, fmt.Errorf("decode session history: %w", err)
		}

		budget := window.Info().TotalTokens
		pruned := compaction.PruneHistoryForContextShare(toCompactionMessages(history), budget, historyPruneShare, compaction.DefaultParts)
		if pruned.DroppedMessages > 0 {
			dropped := toCompactionMessages(history)[:pruned.DroppedMessages]
			cfg := compaction.DefaultSummarizationConfig()
			cfg.ContextWindow = budget
			summary, summErr := compaction.SummarizeWithFallback(ctx, dropped, &llmSummarizer{client: r.llm, model: def.Model}, cfg)
			if summErr == nil && summary != "" && window.CanFitText(summary) {
				window.AddText(summary)
				messages = append(messages, llm.Message{Role: "system", Content: "Earlier history summary: " + summary})
			}
		}

		for _, m := range pruned.Messages {
			if !window.CanFitText(m.Content) {
				break
			}
			window.AddText(m.Content)
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	recent, err := r.recentMatches(ctx, def, trigger.ID)
	if err != nil {
		return nil, fmt.Errorf("list recent matches: %w", err)
	}
	for _, b := range recent {
		content := summarizeBreadcrumb(b)
		if !window.CanFitText(content) {
			break
		}
		window.AddText(content)
		messages = append(messages, llm.Message{Role: "user", Content: content})
		if len(messages) >= def.ContextMaxCount {
			break
		}
	}

	triggerContent := summarizeBreadcrumb(trigger)
	window.AddText(triggerContent)
	messages = append(messages, llm.Message{Role: "user", Content: triggerContent})

	return messages, nil
}

// decodeHistory reads the {"messages":[{"role":...,"content":...}]} array
// stored in an agent.context.v1 breadcrumb's context.
func decodeHistory(b *breadcrumb.Breadcrumb) ([]llm.Message, error) {
	raw, ok := b.Context.ToAny().(map[string]any)
	if !ok {
		return nil, nil
	}
	list, ok := raw["messages"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]llm.Message, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, llm.Message{Role: str(m, "role"), Content: str(m, "content")})
	}
	return out, nil
}

// recentMatches fetches up to def.ContextMaxCount breadcrumbs (20 when
// that is unset or larger) matching the schema and first tag of def's
// first subscription, besides the trigger itself, in the order returned
// by the bus.
func (r *Runner) recentMatches(ctx context.Context, def Definition, excludeID string) ([]*breadcrumb.Breadcrumb, error) {
	if len(def.Subscriptions) == 0 {
		return nil, nil
	}
	sel := def.Subscriptions[0]
	summaries, err := r.bus.List(ctx, listQueryFor(sel.SchemaName, firstTag(sel)))
	if err != nil {
		return nil, err
	}

	limit := def.ContextMaxCount
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	out := make([]*breadcrumb.Breadcrumb, 0, limit)
	for _, s := range summaries {
		if s.ID == excludeID {
			continue
		}
		full, err := r.bus.Get(ctx, s.ID)
		if err != nil {
			continue
		}
		out = append(out, full)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func firstTag(sel selector.Selector) string {
	if len(sel.AllTags) > 0 {
		return sel.AllTags[0]
	}
	if len(sel.AnyTags) > 0 {
		return sel.AnyTags[0]
	}
	return ""
}

func summarizeBreadcrumb(b *breadcrumb.Breadcrumb) string {
	payload, err := json.Marshal(b.Context)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("[%s] %s: %s", b.SchemaName, b.Title, string(payload))
}
