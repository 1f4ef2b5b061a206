package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/dedup"
	"github.com/rcrt-dev/rcrt/internal/infra"
	"github.com/rcrt-dev/rcrt/internal/observability"
	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/secrets"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

const (
	schemaToolRequest  = "tool.request.v1"
	schemaToolResponse = "tool.response.v1"
)

// busClient is the subset of *busclient.Client the runner depends on,
// narrowed to an interface so tests can substitute a fake.
type busClient interface {
	Create(ctx context.Context, b breadcrumb.Breadcrumb) (string, int64, error)
	Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error)
	List(ctx context.Context, q busclient.ListQuery) ([]breadcrumb.Summary, error)
	Update(ctx context.Context, id string, expectedVersion int64, patch breadcrumb.Patch) (int64, error)
	Delete(ctx context.Context, id string) error
	Stream(ctx context.Context, sel selector.Selector) <-chan busclient.Event
}

// Config configures a Runner.
type Config struct {
	Workspace      string
	AgentID        string
	ToolTimeout    time.Duration // default 30s
	MaxConcurrency int64         // per-tool concurrency cap, default 4
	Logger         *slog.Logger

	// Metrics and Tracer are both nil-safe; leaving either unset disables
	// that signal without touching call sites.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Runner hosts the registry and drives the request/response loop described
// in §4.3: publish/maintain the catalog, subscribe to tool.request.v1,
// execute, and publish tool.response.v1 with at-most-once semantics.
type Runner struct {
	bus       busClient
	registry  *Registry
	secretMgr *secrets.Manager
	journal   *dedup.Journal
	sems      *infra.SemaphorePool
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	workspace   string
	agentID     string
	toolTimeout time.Duration
}

// New constructs a Runner. journal and secretMgr may be nil (secretMgr nil
// reports itself disabled, so tools that declare required secrets are
// marked inactive at startup; journal nil disables dedup and every request
// is treated as unseen).
func New(bus busClient, registry *Registry, secretMgr *secrets.Manager, journal *dedup.Journal, cfg Config) *Runner {
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		bus:         bus,
		registry:    registry,
		secretMgr:   secretMgr,
		journal:     journal,
		sems:        infra.NewSemaphorePool(maxConcurrency),
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		workspace:   cfg.Workspace,
		agentID:     cfg.AgentID,
		toolTimeout: timeout,
	}
}

// Start runs the startup sequence from §4.3 (resolve secrets, publish
// catalog, subscribe) and then blocks processing requests until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.resolveToolSecrets(ctx)

	if err := r.publishCatalog(ctx); err != nil {
		r.logger.Error("toolrunner: catalog publish failed after retries", "error", err, "workspace", r.workspace)
		return fmt.Errorf("toolrunner: startup: %w", err)
	}

	sel := selector.Selector{
		AllTags:    []string{"workspace:" + r.workspace, "tool:request"},
		SchemaName: schemaToolRequest,
	}

	for evt := range r.bus.Stream(ctx, sel) {
		if evt.Type != busclient.EventCreated {
			continue
		}
		go r.handleRequest(ctx, evt.BreadcrumbID)
	}
	return ctx.Err()
}

// resolveToolSecrets walks the registry, resolving each tool's required
// secrets via the secret manager; tools with unresolved secrets are
// marked inactive and a tool.config.request.v1 breadcrumb is emitted.
func (r *Runner) resolveToolSecrets(ctx context.Context) {
	for _, name := range r.registry.Names() {
		tool, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		desc := tool.Descriptor()
		if len(desc.RequiredSecrets) == 0 {
			r.registry.MarkActive(name, true)
			continue
		}
		if !r.secretMgr.Enabled() {
			r.markInactiveMissing(ctx, name, desc.RequiredSecrets)
			continue
		}

		var missing []missingSecretEntry
		for _, secretName := range desc.RequiredSecrets {
			_, found, err := r.secretMgr.Lookup(ctx, secretName, r.agentID, r.workspace)
			if err != nil {
				r.logger.Warn("toolrunner: secret lookup failed", "tool", name, "secret", secretName, "error", err)
				missing = append(missing, missingSecretEntry{Name: secretName, ScopeType: string(secrets.ScopeWorkspace), ScopeID: r.workspace})
				continue
			}
			if !found {
				missing = append(missing, missingSecretEntry{Name: secretName, ScopeType: string(secrets.ScopeWorkspace), ScopeID: r.workspace})
			}
		}

		if len(missing) > 0 {
			r.registry.MarkActive(name, false)
			if err := r.publishConfigRequest(ctx, name, missing); err != nil {
				r.logger.Error("toolrunner: publish config request failed", "tool", name, "error", err)
			}
			continue
		}
		r.registry.MarkActive(name, true)
	}
}

func (r *Runner) markInactiveMissing(ctx context.Context, name string, secretNames []string) {
	r.registry.MarkActive(name, false)
	missing := make([]missingSecretEntry, 0, len(secretNames))
	for _, s := range secretNames {
		missing = append(missing, missingSecretEntry{Name: s, ScopeType: string(secrets.ScopeWorkspace), ScopeID: r.workspace})
	}
	if err := r.publishConfigRequest(ctx, name, missing); err != nil {
		r.logger.Error("toolrunner: publish config request failed", "tool", name, "error", err)
	}
}

// requestPayload is the decoded context of an inbound tool.request.v1.
type requestPayload struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	RequestID string          `json:"requestId"`
}

// handleRequest fetches the full request breadcrumb, dispatches to the
// registered tool with per-tool concurrency limiting and panic recovery,
// and publishes exactly one tool.response.v1 per fresh requestId.
func (r *Runner) handleRequest(ctx context.Context, breadcrumbID string) {
	full, err := r.bus.Get(ctx, breadcrumbID)
	if err != nil {
		r.logger.Warn("toolrunner: fetch request breadcrumb failed", "breadcrumb_id", breadcrumbID, "error", err)
		return
	}

	payload, ok := decodeRequest(full)
	requestedBy := agentFromTags(full.Tags)

	if !ok || strings.TrimSpace(payload.RequestID) == "" {
		r.publishResponse(ctx, toolResponseInput{
			Tool:        payload.Tool,
			RequestID:   payload.RequestID,
			RequestedBy: requestedBy,
			Status:      "error",
			ErrKind:     string(rerrors.KindValidation),
			ErrMessage:  "requestId is required",
		})
		return
	}

	if r.journal != nil {
		seen, err := r.journal.CheckAndRecord(ctx, dedup.KindToolResponse, payload.RequestID)
		if err != nil {
			r.logger.Warn("toolrunner: dedup check failed", "request_id", payload.RequestID, "error", err)
		} else if seen {
			return
		}
	}

	tool, found := r.registry.Get(payload.Tool)
	if !found || !r.registry.Active(payload.Tool) {
		r.publishResponse(ctx, toolResponseInput{
			Tool:        payload.Tool,
			RequestID:   payload.RequestID,
			RequestedBy: requestedBy,
			Status:      "error",
			ErrKind:     string(rerrors.KindNotFound),
			ErrMessage:  fmt.Sprintf("tool %q is not registered or inactive", payload.Tool),
		})
		return
	}

	if err := validateToolInput(payload.Tool, tool.Descriptor().Schema, payload.Input); err != nil {
		r.publishResponse(ctx, toolResponseInput{
			Tool:        payload.Tool,
			RequestID:   payload.RequestID,
			RequestedBy: requestedBy,
			Status:      "error",
			ErrKind:     string(rerrors.KindValidation),
			ErrMessage:  err.Error(),
		})
		return
	}

	sem := r.sems.Get(payload.Tool)
	if err := sem.Acquire(ctx, 1); err != nil {
		return // shutting down
	}
	defer sem.Release(1)

	spanCtx, span := r.tracer.Start(ctx, "toolrunner.execute", attribute.String("tool_name", payload.Tool))

	start := time.Now()
	output, execErr := r.executeWithRecovery(spanCtx, tool, payload.Input)
	elapsed := time.Since(start)

	resp := toolResponseInput{
		Tool:            payload.Tool,
		RequestID:       payload.RequestID,
		RequestedBy:     requestedBy,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	status := "success"
	if execErr != nil {
		status = "error"
		resp.Status = "error"
		resp.ErrKind = string(rerrors.KindOf(execErr))
		resp.ErrMessage = execErr.Error()
		span.RecordError(execErr)
		r.metrics.RecordError("toolrunner", resp.ErrKind)
	} else {
		resp.Status = "success"
		resp.Output = output
	}
	span.End()
	r.metrics.RecordToolExecution(payload.Tool, status, elapsed.Seconds())
	r.publishResponse(ctx, resp)
}

// executeWithRecovery runs tool.Execute under the configured timeout and
// converts a panicking executor into an executor_fault error, mirroring
// the teacher's recover()+ToolError pattern.
func (r *Runner) executeWithRecovery(ctx context.Context, tool Tool, input json.RawMessage) (output json.RawMessage, err error) {
	callCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = rerrors.New(rerrors.KindExecutorFault, "toolrunner.Execute", fmt.Errorf("panic: %v", rec))
		}
	}()

	output, err = tool.Execute(callCtx, input)
	if err != nil {
		if re, ok := rerrors.As(err); ok {
			return nil, re
		}
		return nil, rerrors.New(rerrors.Classify(err), "toolrunner.Execute", err)
	}
	return output, nil
}

func decodeRequest(b *breadcrumb.Breadcrumb) (requestPayload, bool) {
	raw, ok := b.Context.ToAny().(map[string]any)
	if !ok {
		return requestPayload{}, false
	}
	var payload requestPayload
	if v, ok := raw["tool"].(string); ok {
		payload.Tool = v
	}
	if v, ok := raw["requestId"].(string); ok {
		payload.RequestID = v
	}
	if v, ok := raw["input"]; ok {
		encoded, err := json.Marshal(v)
		if err == nil {
			payload.Input = encoded
		}
	}
	return payload, true
}

func agentFromTags(tags []string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, "agent:") {
			return strings.TrimPrefix(tag, "agent:")
		}
	}
	return ""
}

type toolResponseInput struct {
	Tool            string
	RequestID       string
	RequestedBy     string
	Status          string
	Output          json.RawMessage
	ErrKind         string
	ErrMessage      string
	ExecutionTimeMs int64
}

func (r *Runner) publishResponse(ctx context.Context, in toolResponseInput) {
	fields := map[string]any{
		"tool":              in.Tool,
		"status":            in.Status,
		"execution_time_ms": in.ExecutionTimeMs,
		"requestId":         in.RequestID,
		"requestedBy":       in.RequestedBy,
	}
	if in.Output != nil {
		var decoded any
		if err := json.Unmarshal(in.Output, &decoded); err == nil {
			fields["output"] = decoded
		}
	}
	if in.Status == "error" {
		fields["error"] = map[string]any{
			"kind":    in.ErrKind,
			"message": in.ErrMessage,
		}
	}

	tags := []string{"workspace:" + r.workspace, "tool:response"}
	if in.Tool != "" {
		tags = append(tags, "tool:"+in.Tool)
	}

	_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
		Title:      "tool response: " + in.Tool,
		Tags:       tags,
		SchemaName: schemaToolResponse,
		Context:    breadcrumb.FromAny(fields),
	})
	if err != nil {
		r.logger.Error("toolrunner: publish response failed", "tool", in.Tool, "request_id", in.RequestID, "error", err)
	}
}
