package agentrunner

import (
	"context"
	"fmt"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

// activeConsumerTag and pausedConsumerTag give the tag pair that marks
// exactly one agent.context.v1 breadcrumb per consumer as live, per §4.4's
// session semantics, generalized from the teacher's read-then-two-patch
// session activation in internal/sessions/manager.go.
func activeConsumerTag(consumerID string) string { return "consumer:" + consumerID }
func pausedConsumerTag(consumerID string) string  { return "consumer:" + consumerID + "-paused" }

// SwitchSession moves the active consumer tag from the current context
// breadcrumb to target. It reads both breadcrumbs, patches current to
// paused, then patches target to active. An optimistic conflict on either
// patch aborts the switch: if the first patch lands but the second
// conflicts, current is restored to active before returning the error, so
// no consumer is ever left without a live session.
func (r *Runner) SwitchSession(ctx context.Context, consumerID, currentID, targetID string) error {
	current, err := r.bus.Get(ctx, currentID)
	if err != nil {
		return fmt.Errorf("agentrunner: read current session: %w", err)
	}
	target, err := r.bus.Get(ctx, targetID)
	if err != nil {
		return fmt.Errorf("agentrunner: read target session: %w", err)
	}

	pausedTags := replaceTag(current.Tags, activeConsumerTag(consumerID), pausedConsumerTag(consumerID))
	currentVersion, err := r.bus.Update(ctx, currentID, current.Version, breadcrumb.Patch{Tags: pausedTags})
	if err != nil {
		return fmt.Errorf("agentrunner: pause current session: %w", err)
	}

	activeTags := replaceTag(target.Tags, pausedConsumerTag(consumerID), activeConsumerTag(consumerID))
	if _, err := r.bus.Update(ctx, targetID, target.Version, breadcrumb.Patch{Tags: activeTags}); err != nil {
		// Revert step 2's pause so the consumer is never left without an
		// active session. The revert uses the version step 2 returned, so
		// it is itself optimistic; a concurrent writer on current between
		// the two patches would surface as a second conflict here, which
		// is reported alongside the original.
		if _, revertErr := r.bus.Update(ctx, currentID, currentVersion, breadcrumb.Patch{Tags: current.Tags}); revertErr != nil {
			return fmt.Errorf("agentrunner: activate target session: %w (revert also failed: %v)", err, revertErr)
		}
		return fmt.Errorf("agentrunner: activate target session: %w", err)
	}
	return nil
}

func replaceTag(tags []string, oldTag, newTag string) []string {
	out := make([]string, 0, len(tags)+1)
	found := false
	for _, t := range tags {
		if t == oldTag {
			out = append(out, newTag)
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		out = append(out, newTag)
	}
	return out
}

// findActiveContext returns the agent.context.v1 breadcrumb carrying the
// active consumer tag for consumerID, or nil if none exists.
func (r *Runner) findActiveContext(ctx context.Context, consumerID string) (*breadcrumb.Breadcrumb, error) {
	summaries, err := r.bus.List(ctx, listQueryFor(schemaAgentContext, activeConsumerTag(consumerID)))
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	full, err := r.bus.Get(ctx, summaries[0].ID)
	if err != nil {
		if rerrors.KindOf(err) == rerrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return full, nil
}
