package agentrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

// TestSwitchSessionMovesActiveTag covers the happy path: A active, B
// paused, switch to B leaves A paused-only and B active-only.
func TestSwitchSessionMovesActiveTag(t *testing.T) {
	bus := newFakeBus()
	aID := bus.create(breadcrumb.Breadcrumb{
		SchemaName: schemaAgentContext,
		Tags:       []string{"consumer:agent1"},
	})
	bID := bus.create(breadcrumb.Breadcrumb{
		SchemaName: schemaAgentContext,
		Tags:       []string{"consumer:agent1-paused"},
	})

	r := New(bus, nil, nil, Config{Workspace: "ws"})
	require.NoError(t, r.SwitchSession(context.Background(), "agent1", aID, bID))

	a, err := bus.Get(context.Background(), aID)
	require.NoError(t, err)
	require.Contains(t, a.Tags, "consumer:agent1-paused")
	require.NotContains(t, a.Tags, "consumer:agent1")

	b, err := bus.Get(context.Background(), bID)
	require.NoError(t, err)
	require.Contains(t, b.Tags, "consumer:agent1")
	require.NotContains(t, b.Tags, "consumer:agent1-paused")
}

// raceBus wraps fakeBus and bumps raceID's version on its first Get,
// simulating a concurrent writer landing between SwitchSession's read and
// its first patch.
type raceBus struct {
	*fakeBus
	raceID string
	raced  bool
}

func (r *raceBus) Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error) {
	b, err := r.fakeBus.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == r.raceID && !r.raced {
		r.raced = true
		title := "bumped"
		if _, updErr := r.fakeBus.Update(ctx, id, b.Version, breadcrumb.Patch{Title: &title}); updErr != nil {
			return nil, updErr
		}
	}
	return b, nil
}

// TestSwitchSessionAbortsOnFirstStepConflict covers spec §8 scenario 5: a
// conflicting write to the current session's version between read and
// patch aborts the switch, leaving both tags exactly as they started.
func TestSwitchSessionAbortsOnFirstStepConflict(t *testing.T) {
	fb := newFakeBus()
	aID := fb.create(breadcrumb.Breadcrumb{
		SchemaName: schemaAgentContext,
		Tags:       []string{"consumer:agent1"},
	})
	bID := fb.create(breadcrumb.Breadcrumb{
		SchemaName: schemaAgentContext,
		Tags:       []string{"consumer:agent1-paused"},
	})

	bus := &raceBus{fakeBus: fb, raceID: aID}

	r := New(bus, nil, nil, Config{Workspace: "ws"})
	err := r.SwitchSession(context.Background(), "agent1", aID, bID)
	require.Error(t, err)

	a, getErr := bus.Get(context.Background(), aID)
	require.NoError(t, getErr)
	require.Contains(t, a.Tags, "consumer:agent1")
	require.NotContains(t, a.Tags, "consumer:agent1-paused")

	b, getErr := bus.Get(context.Background(), bID)
	require.NoError(t, getErr)
	require.Contains(t, b.Tags, "consumer:agent1-paused")
	require.NotContains(t, b.Tags, "consumer:agent1")
}
