package agentrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/dedup"
	"github.com/rcrt-dev/rcrt/internal/llm"
	"github.com/rcrt-dev/rcrt/internal/observability"
	"github.com/rcrt-dev/rcrt/internal/ratelimit"
	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/usage"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

// bus is the subset of busclient.Client the agent runner needs, narrowed
// for testability the way toolrunner.busClient narrows the tool runner's
// dependency.
type bus interface {
	Create(ctx context.Context, b breadcrumb.Breadcrumb) (string, int64, error)
	Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error)
	List(ctx context.Context, q busclient.ListQuery) ([]breadcrumb.Summary, error)
	Update(ctx context.Context, id string, expectedVersion int64, patch breadcrumb.Patch) (int64, error)
	Stream(ctx context.Context, sel selector.Selector) <-chan busclient.Event
}

// Config holds the agent runner's tunables. Workspace and Definition vary
// per agent instance; ToolResponseTimeout bounds how long one orchestration
// round waits for a tool.response.v1 before giving up on that tool call.
type Config struct {
	Workspace           string
	ToolResponseTimeout time.Duration
	Logger              *slog.Logger

	// LLMTimeout bounds a single llm.Client.Complete call (the model's own
	// "think" step, not the broader tool-response wait above). A reply that
	// never returns would otherwise wedge the agent's whole orchestration
	// loop for the lifetime of the process.
	LLMTimeout time.Duration

	// RateLimit bounds how often each agent definition may call the LLM,
	// keyed by agent name. Nil disables rate limiting entirely.
	RateLimit *ratelimit.Limiter

	// Usage, if set, receives one record per completion call, keyed by
	// agent name, so operators can inspect per-agent token spend.
	Usage *usage.Tracker

	// Metrics and Tracer are both nil-safe; leaving either unset disables
	// that signal without touching call sites.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

func (c *Config) setDefaults() {
	if c.ToolResponseTimeout <= 0 {
		c.ToolResponseTimeout = 30 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner drives one agent's lifecycle: subscribe, build context on trigger,
// call the LLM, apply its structured reply, and orchestrate any nested tool
// requests, per the state machine in state.go.
type Runner struct {
	bus     bus
	llm     llm.Client
	journal *dedup.Journal
	cfg     Config
}

// New constructs a Runner. journal may be nil, in which case agent-reply
// idempotency is not enforced (acceptable for tests; cmd/agentrunner always
// supplies one).
func New(b bus, client llm.Client, journal *dedup.Journal, cfg Config) *Runner {
	cfg.setDefaults()
	return &Runner{bus: b, llm: client, journal: journal, cfg: cfg}
}

func listQueryFor(schemaName, tag string) busclient.ListQuery {
	return busclient.ListQuery{SchemaName: schemaName, Tag: tag}
}

// Run subscribes def's selectors and drives the state machine until ctx is
// cancelled: Loading (already done by the caller decoding def) →
// Subscribing → Idle, then on each triggering event, BuildingContext →
// Thinking → Acting → back to Idle.
func (r *Runner) Run(ctx context.Context, def Definition) error {
	sel := mergedSelector(def)

	events := r.bus.Stream(ctx, sel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Type == busclient.EventSystem || evt.Type == busclient.EventPing {
				continue
			}
			if evt.Type != busclient.EventCreated && evt.Type != busclient.EventUpdated {
				continue
			}
			if err := r.handleTrigger(ctx, def, evt); err != nil {
				r.cfg.Logger.Error("agentrunner: trigger handling failed",
					"agent", def.Name, "breadcrumb_id", evt.BreadcrumbID, "error", err)
			}
		}
	}
}

// mergedSelector combines def's declared subscriptions into one selector.
// A single subscription is passed straight through unchanged. With several
// entries, every entry's any_tags and all_tags are flattened into one
// any_tags list; the entries' all_tags and schema_name narrowing is not
// kept, so the merged selector matches any breadcrumb carrying any of
// those tags.
func mergedSelector(def Definition) selector.Selector {
	if len(def.Subscriptions) == 1 {
		return def.Subscriptions[0]
	}
	var merged selector.Selector
	for _, s := range def.Subscriptions {
		merged.AnyTags = append(merged.AnyTags, s.AnyTags...)
		merged.AnyTags = append(merged.AnyTags, s.AllTags...)
	}
	return merged
}

// handleTrigger runs one full BuildingContext → Thinking → Acting round,
// including idempotency de-duplication on the triggering event and bounded
// multi-tool orchestration.
func (r *Runner) handleTrigger(ctx context.Context, def Definition, evt busclient.Event) error {
	if r.journal != nil {
		key := def.Name + ":" + evt.BreadcrumbID
		seen, err := r.journal.CheckAndRecord(ctx, dedup.KindAgentReply, key)
		if err != nil {
			return fmt.Errorf("agentrunner: dedup check: %w", err)
		}
		if seen {
			return nil
		}
	}

	trigger, err := r.bus.Get(ctx, evt.BreadcrumbID)
	if err != nil {
		return fmt.Errorf("agentrunner: fetch trigger: %w", err)
	}

	activeCtx, err := r.findActiveContext(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("agentrunner: find active context: %w", err)
	}

	window, err := r.buildWindow(ctx, def, activeCtx, trigger)
	if err != nil {
		return fmt.Errorf("agentrunner: build context window: %w", err)
	}

	reply, rawText, err := r.think(ctx, def, window)
	if err != nil {
		r.publishError(ctx, def, trigger.ID, rawText, err)
		return err
	}

	if err := r.act(ctx, def, window, reply); err != nil {
		return fmt.Errorf("agentrunner: act on reply: %w", err)
	}
	return nil
}

func (r *Runner) publishError(ctx context.Context, def Definition, triggerID, rawText string, cause error) {
	kind := rerrors.KindOf(cause)
	errCtx := breadcrumb.FromAny(map[string]any{
		"agent":      def.Name,
		"trigger_id": triggerID,
		"kind":       string(kind),
		"message":    cause.Error(),
		"raw":        rawText,
	})
	_, _, err := r.bus.Create(ctx, breadcrumb.Breadcrumb{
		Title:      fmt.Sprintf("%s: %s", def.Name, cause.Error()),
		SchemaName: schemaAgentError,
		Tags:       []string{"workspace:" + r.cfg.Workspace, "agent:error", "agent:" + def.Name},
		Context:    errCtx,
	})
	if err != nil {
		r.cfg.Logger.Error("agentrunner: failed to publish agent:error breadcrumb", "error", err)
	}
}

func newRequestID() string {
	return uuid.NewString()
}
