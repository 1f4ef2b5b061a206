package agentrunner

import (
	"fmt"

	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

const (
	schemaAgentDef     = "agent.def.v1"
	schemaAgentContext = "agent.context.v1"
	schemaAgentError   = "agent.error.v1"
	schemaToolRequest  = "tool.request.v1"
)

// Definition is the decoded context of an agent.def.v1 breadcrumb: name,
// model, sampling parameters, system prompt, capability flags, and the
// subscriptions block.
type Definition struct {
	ID               string
	Name             string
	Model            string
	SystemPrompt     string
	MaxTokens        int
	Subscriptions    []selector.Selector
	AllowDelete      bool
	MaxIterations    int // default 8, §4.4
	ContextMaxCount  int
	ContextMaxTokens int
}

// DecodeDefinition turns the raw agent.def.v1 breadcrumb into a Definition.
func DecodeDefinition(b *breadcrumb.Breadcrumb) (Definition, error) {
	raw, ok := b.Context.ToAny().(map[string]any)
	if !ok {
		return Definition{}, fmt.Errorf("agentrunner: agent.def.v1 context is not an object")
	}

	def := Definition{
		ID:               b.ID,
		Name:             str(raw, "name"),
		Model:            str(raw, "model"),
		SystemPrompt:     str(raw, "system_prompt"),
		MaxTokens:        intOr(raw, "max_tokens", 4096),
		AllowDelete:      boolOr(raw, "allow_delete", false),
		MaxIterations:    intOr(raw, "max_iterations", 8),
		ContextMaxCount:  intOr(raw, "context_max_count", 50),
		ContextMaxTokens: intOr(raw, "context_max_tokens", 32000),
	}
	if def.Name == "" {
		return Definition{}, fmt.Errorf("agentrunner: agent.def.v1 missing name")
	}

	subs, _ := raw["subscriptions"].([]any)
	for _, s := range subs {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		def.Subscriptions = append(def.Subscriptions, selector.Selector{
			AnyTags:    strSlice(m["any_tags"]),
			AllTags:    strSlice(m["all_tags"]),
			SchemaName: str(m, "schema_name"),
		})
	}
	return def, nil
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intOr(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolOr(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func strSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
