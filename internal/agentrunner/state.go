// Package agentrunner hosts long-lived agent definitions: for each agent
// it maintains subscription selectors, a bounded context window, and on
// triggering events invokes an LLM whose structured reply produces new
// breadcrumbs.
package agentrunner

// State is the explicit lifecycle enum from §4.4, generalized from the
// teacher's internal/agent.LoopPhase (init/stream/execute_tools/continue/
// complete) to the breadcrumb-driven agent lifecycle.
type State string

const (
	StateLoading         State = "loading"
	StateSubscribing     State = "subscribing"
	StateIdle            State = "idle"
	StateBuildingContext State = "building_context"
	StateThinking        State = "thinking"
	StateActing          State = "acting"
)
