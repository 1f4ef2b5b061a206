package toolrunner

import (
	"context"
	"fmt"

	"github.com/rcrt-dev/rcrt/internal/backoff"
	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

const (
	schemaCatalog       = "tool.catalog.v1"
	schemaConfigRequest = "tool.config.request.v1"
)

// CatalogTool is one entry in a workspace's tool.catalog.v1 context.tools[].
type CatalogTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

var catalogRetryPolicy = backoff.BackoffPolicy{
	InitialMs: 50,
	MaxMs:     2000,
	Factor:    2,
	Jitter:    0.2,
}

// maxCatalogRetries bounds the conflict-retry loop per §4.3: "any tool
// state change republishes the catalog via optimistic update with up to 5
// conflict retries; persistent conflict yields a fatal log".
const maxCatalogRetries = 5

// publishCatalog finds or creates the single tool.catalog.v1 breadcrumb
// for workspace, merges in ours, and writes it back with optimistic
// conflict retry. Two runners cooperating on the same workspace serialize
// through this read-modify-write loop.
func (r *Runner) publishCatalog(ctx context.Context) error {
	mine := r.registry.CatalogEntries()

	_, err := backoff.RetryWithBackoff(ctx, catalogRetryPolicy, maxCatalogRetries, func(attempt int) (struct{}, error) {
		existingID, existingVersion, existingTools, found, err := r.findCatalog(ctx)
		if err != nil {
			return struct{}{}, err
		}

		merged := mergeCatalogTools(existingTools, mine)
		ctxValue := breadcrumb.FromAny(map[string]any{"tools": catalogToolsAsAny(merged)})

		if !found {
			_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
				Title:      "tool catalog: " + r.workspace,
				Tags:       []string{"workspace:" + r.workspace, "tool:catalog"},
				SchemaName: schemaCatalog,
				Context:    ctxValue,
			})
			if err != nil {
				if rerrors.KindOf(err) == rerrors.KindConflict {
					return struct{}{}, err // someone else created it first; retry will find it
				}
				return struct{}{}, err
			}
			return struct{}{}, nil
		}

		patch := breadcrumb.Patch{Context: &ctxValue}
		if _, err := r.bus.Update(ctx, existingID, existingVersion, patch); err != nil {
			return struct{}{}, err // conflict bubbles up for RetryWithBackoff to retry
		}
		return struct{}{}, nil
	})
	if err != nil {
		r.metrics.RecordCatalogPublish(r.workspace, "error")
		return fmt.Errorf("toolrunner: publish catalog for %s after retries: %w", r.workspace, err)
	}
	r.metrics.RecordCatalogPublish(r.workspace, "success")
	return nil
}

// findCatalog enforces the single-per-workspace invariant at read time. The
// store should only ever hold one tool.catalog.v1 per workspace tag, but a
// race between two runners' Create calls (see publishCatalog) can leave more
// than one behind. When that happens findCatalog merges every surviving
// breadcrumb's tools into the first (by list order), writes the merge back,
// and deletes the rest, so the workspace converges back to exactly one
// catalog breadcrumb per §9/spec.md §8 instead of leaving duplicates for an
// operator to clean up by hand.
func (r *Runner) findCatalog(ctx context.Context) (id string, version int64, tools []CatalogTool, found bool, err error) {
	summaries, err := r.bus.List(ctx, busclient.ListQuery{
		SchemaName: schemaCatalog,
		Tag:        "workspace:" + r.workspace,
	})
	if err != nil {
		return "", 0, nil, false, err
	}
	if len(summaries) == 0 {
		return "", 0, nil, false, nil
	}

	full, err := r.bus.Get(ctx, summaries[0].ID)
	if err != nil {
		return "", 0, nil, false, err
	}
	tools = decodeCatalogContext(full)

	if len(summaries) == 1 {
		return full.ID, full.Version, tools, true, nil
	}

	for _, s := range summaries[1:] {
		extra, err := r.bus.Get(ctx, s.ID)
		if err != nil {
			return "", 0, nil, false, err
		}
		tools = mergeCatalogTools(tools, decodeCatalogContext(extra))
	}

	ctxValue := breadcrumb.FromAny(map[string]any{"tools": catalogToolsAsAny(tools)})
	patch := breadcrumb.Patch{Context: &ctxValue}
	newVersion, err := r.bus.Update(ctx, full.ID, full.Version, patch)
	if err != nil {
		return "", 0, nil, false, err
	}

	for _, s := range summaries[1:] {
		if err := r.bus.Delete(ctx, s.ID); err != nil {
			return "", 0, nil, false, err
		}
	}

	return full.ID, newVersion, tools, true, nil
}

func decodeCatalogContext(b *breadcrumb.Breadcrumb) []CatalogTool {
	raw, ok := b.Context.ToAny().(map[string]any)
	if !ok {
		return nil
	}
	return decodeCatalogTools(raw["tools"])
}

func mergeCatalogTools(existing, mine []CatalogTool) []CatalogTool {
	byName := make(map[string]CatalogTool, len(existing)+len(mine))
	order := make([]string, 0, len(existing)+len(mine))
	for _, t := range existing {
		if _, ok := byName[t.Name]; !ok {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}
	for _, t := range mine {
		if _, ok := byName[t.Name]; !ok {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}
	merged := make([]CatalogTool, 0, len(order))
	for _, name := range order {
		merged = append(merged, byName[name])
	}
	return merged
}

func catalogToolsAsAny(tools []CatalogTool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"active":      t.Active,
		})
	}
	return out
}

func decodeCatalogTools(raw any) []CatalogTool {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]CatalogTool, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := CatalogTool{}
		if v, ok := m["name"].(string); ok {
			t.Name = v
		}
		if v, ok := m["description"].(string); ok {
			t.Description = v
		}
		if v, ok := m["active"].(bool); ok {
			t.Active = v
		}
		out = append(out, t)
	}
	return out
}

// publishConfigRequest emits a tool.config.request.v1 breadcrumb listing
// the secrets a now-inactive tool still needs.
func (r *Runner) publishConfigRequest(ctx context.Context, toolName string, missing []missingSecretEntry) error {
	ctxValue := breadcrumb.FromAny(map[string]any{
		"tool":    toolName,
		"missing": missingSecretsAsAny(missing),
	})
	_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
		Title:      "missing secrets for " + toolName,
		Tags:       []string{"workspace:" + r.workspace, "tool:config", "tool:" + toolName},
		SchemaName: schemaConfigRequest,
		Context:    ctxValue,
	})
	return err
}

type missingSecretEntry struct {
	Name      string
	ScopeType string
	ScopeID   string
}

func missingSecretsAsAny(missing []missingSecretEntry) []any {
	out := make([]any, 0, len(missing))
	for _, m := range missing {
		out = append(out, map[string]any{
			"name":       m.Name,
			"scope_type": m.ScopeType,
			"scope_id":   m.ScopeID,
		})
	}
	return out
}
