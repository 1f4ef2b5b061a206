package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/rcrt-dev/rcrt/internal/llm"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

// act applies reply's breadcrumb action and, if it carries tool_requests,
// orchestrates them: publish each as tool.request.v1, wait for matching
// tool.response.v1 breadcrumbs, feed the results back to the model, and
// repeat until a reply carries no further tool_requests or
// def.MaxIterations rounds have run, per §4.4's multi-tool orchestration.
func (r *Runner) act(ctx context.Context, def Definition, window []llm.Message, reply Reply) error {
	messages := append([]llm.Message{}, window...)

	for iteration := 0; ; iteration++ {
		if err := r.applyAction(ctx, def, reply); err != nil {
			return fmt.Errorf("apply action: %w", err)
		}

		if len(reply.ToolRequests) == 0 {
			return nil
		}
		if iteration >= def.MaxIterations {
			r.cfg.Logger.Warn("agentrunner: max tool orchestration iterations reached",
				"agent", def.Name, "limit", def.MaxIterations)
			return nil
		}

		results, err := r.dispatchToolRequests(ctx, def, reply.ToolRequests)
		if err != nil {
			return fmt.Errorf("dispatch tool requests: %w", err)
		}
		for _, res := range results {
			messages = append(messages, llm.Message{Role: "tool", Content: res})
		}

		reply, _, err = r.think(ctx, def, messages)
		if err != nil {
			return fmt.Errorf("continue after tool results: %w", err)
		}
	}
}

// applyAction creates, updates, or deletes a breadcrumb per reply.Action.
// "delete" is rejected unless def.AllowDelete, per the agent definition's
// capability flag.
func (r *Runner) applyAction(ctx context.Context, def Definition, reply Reply) error {
	switch reply.Action {
	case "create":
		if reply.Breadcrumb == nil {
			return fmt.Errorf("create reply missing breadcrumb")
		}
		tags := append([]string{"workspace:" + r.cfg.Workspace, "agent:response", "agent:" + def.Name}, reply.Breadcrumb.Tags...)
		_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
			Title:      reply.Breadcrumb.Title,
			SchemaName: reply.Breadcrumb.SchemaName,
			Tags:       tags,
			Context:    breadcrumb.FromAny(reply.Breadcrumb.Context),
		})
		return err

	case "update":
		if reply.BreadcrumbID == "" || reply.Breadcrumb == nil {
			return fmt.Errorf("update reply missing breadcrumb_id or breadcrumb")
		}
		expected := int64(0)
		if reply.ExpectedVersion != nil {
			expected = *reply.ExpectedVersion
		}
		patch := breadcrumb.Patch{}
		if reply.Breadcrumb.Title != "" {
			patch.Title = &reply.Breadcrumb.Title
		}
		if len(reply.Breadcrumb.Tags) > 0 {
			patch.Tags = reply.Breadcrumb.Tags
		}
		if reply.Breadcrumb.Context != nil {
			v := breadcrumb.FromAny(reply.Breadcrumb.Context)
			patch.Context = &v
		}
		_, err := r.bus.Update(ctx, reply.BreadcrumbID, expected, patch)
		return err

	case "delete":
		if !def.AllowDelete {
			return fmt.Errorf("delete action not permitted for agent %s", def.Name)
		}
		// Deletion is modeled as an update tagging the breadcrumb deleted,
		// since the bus has no hard-delete endpoint exposed to agents.
		tombstone := "system:deleted"
		_, err := r.bus.Update(ctx, reply.BreadcrumbID, 0, breadcrumb.Patch{Tags: []string{tombstone}})
		return err

	case "none", "":
		return nil

	default:
		return fmt.Errorf("unknown reply action %q", reply.Action)
	}
}

// dispatchToolRequests publishes each request as a tool.request.v1
// breadcrumb and waits (bounded by cfg.ToolResponseTimeout) for the
// matching tool.response.v1, returning each response's raw context as text
// for the next completion round.
func (r *Runner) dispatchToolRequests(ctx context.Context, def Definition, requests []ToolRequest) ([]string, error) {
	results := make([]string, 0, len(requests))
	for _, tr := range requests {
		requestID := newRequestID()
		input := breadcrumb.FromAny(map[string]any{
			"tool":      tr.Tool,
			"input":     tr.Input,
			"requestId": requestID,
		})
		_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
			Title:      fmt.Sprintf("%s request from %s", tr.Tool, def.Name),
			SchemaName: schemaToolRequest,
			Tags:       []string{"workspace:" + r.cfg.Workspace, "tool:request", "tool:" + tr.Tool, "agent:" + def.Name},
			Context:    input,
		})
		if err != nil {
			return nil, fmt.Errorf("publish tool request %s: %w", tr.Tool, err)
		}

		text, err := r.awaitToolResponse(ctx, requestID)
		if err != nil {
			return nil, err
		}
		results = append(results, text)
	}
	return results, nil
}

// awaitToolResponse polls for the tool.response.v1 breadcrumb carrying
// requestId, up to cfg.ToolResponseTimeout.
func (r *Runner) awaitToolResponse(ctx context.Context, requestID string) (string, error) {
	deadline := time.Now().Add(r.cfg.ToolResponseTimeout)
	const pollInterval = 200 * time.Millisecond

	for {
		summaries, err := r.bus.List(ctx, listQueryFor("tool.response.v1", ""))
		if err != nil {
			return "", err
		}
		for _, s := range summaries {
			full, err := r.bus.Get(ctx, s.ID)
			if err != nil {
				continue
			}
			raw, ok := full.Context.ToAny().(map[string]any)
			if !ok {
				continue
			}
			if str(raw, "requestId") == requestID {
				return summarizeBreadcrumb(full), nil
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for tool response %s", requestID)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
