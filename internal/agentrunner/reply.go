package agentrunner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the structured JSON envelope a model's completion is parsed
// into, per §4.4's reply schema: one breadcrumb action plus any nested
// tool requests to fan out before the round is considered complete.
type Reply struct {
	Action          string        `json:"action"` // "create" | "update" | "delete"
	Breadcrumb      *ReplyObject  `json:"breadcrumb,omitempty"`
	BreadcrumbID    string        `json:"breadcrumb_id,omitempty"`
	ExpectedVersion *int64        `json:"expected_version,omitempty"`
	ToolRequests    []ToolRequest `json:"tool_requests,omitempty"`
}

// ReplyObject is the nested breadcrumb payload of a create/update reply.
type ReplyObject struct {
	SchemaName string         `json:"schema_name,omitempty"`
	Title      string         `json:"title,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// ToolRequest is one nested tool invocation a reply asks the runner to
// fan out before considering the orchestration round complete.
type ToolRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// parseReply decodes raw model text into a Reply, tolerant of a model
// wrapping its JSON in a ```json fence or surrounding prose, the way the
// teacher's agent loop tolerates fenced tool-call output before falling
// back to a repair pass.
func parseReply(raw string) (Reply, error) {
	candidate := extractJSON(raw)
	var reply Reply
	if err := json.Unmarshal([]byte(candidate), &reply); err != nil {
		return Reply{}, fmt.Errorf("agentrunner: malformed reply JSON: %w", err)
	}
	if reply.Action == "" {
		return Reply{}, fmt.Errorf("agentrunner: reply missing action")
	}
	return reply, nil
}

// extractJSON strips a leading/trailing ```json ... ``` fence if present,
// and otherwise narrows to the first {...} block in the text so stray
// prose around a correctly-formed reply does not fail parsing.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// repairPrompt builds the one-shot re-prompt sent back to the model after
// a malformed first reply, per §4.4's failure handling: one repair retry
// quoting the parse error, then give up.
func repairPrompt(original string, parseErr error) string {
	return fmt.Sprintf(
		"Your previous reply could not be parsed as the required JSON object: %s\n\n"+
			"Previous reply:\n%s\n\n"+
			"Reply again with ONLY a single valid JSON object matching the required schema.",
		parseErr, original,
	)
}
