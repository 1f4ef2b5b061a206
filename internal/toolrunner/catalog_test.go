package toolrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

func newTestRunner(bus *fakeBus, registry *Registry) *Runner {
	return New(bus, registry, nil, nil, Config{Workspace: "tools", AgentID: "agent-1"})
}

func TestPublishCatalogCreatesWhenAbsent(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(stubTool{name: "echo"})
	r := newTestRunner(bus, registry)

	require.NoError(t, r.publishCatalog(context.Background()))

	_, _, tools, found, err := r.findCatalog(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tools, 1)
	require.Equal(t, "echo", tools[0].Name)
}

func TestPublishCatalogMergesUnderContention(t *testing.T) {
	// Simulates "catalog merge under contention" (§8 scenario 3): two
	// runners in the same workspace each registering one distinct tool.
	bus := newFakeBus()

	registryA := NewRegistry()
	registryA.Register(stubTool{name: "echo"})
	runnerA := newTestRunner(bus, registryA)
	require.NoError(t, runnerA.publishCatalog(context.Background()))

	registryB := NewRegistry()
	registryB.Register(stubTool{name: "shell.exec"})
	runnerB := newTestRunner(bus, registryB)
	require.NoError(t, runnerB.publishCatalog(context.Background()))

	_, _, tools, found, err := runnerA.findCatalog(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tools, 2)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	require.True(t, names["echo"])
	require.True(t, names["shell.exec"])

	summaries, err := bus.List(context.Background(), busclient.ListQuery{SchemaName: schemaCatalog, Tag: "workspace:tools"})
	require.NoError(t, err)
	require.Len(t, summaries, 1, "exactly one tool.catalog.v1 breadcrumb must exist per workspace")
}

func TestFindCatalogMergesAndDeletesDuplicates(t *testing.T) {
	// §9: if more than one tool.catalog.v1 breadcrumb exists for a
	// workspace, findCatalog must merge them into one and delete the
	// extras, rather than silently picking the first and leaving the
	// duplicates behind.
	bus := newFakeBus()
	ctx := context.Background()

	firstCtx := breadcrumb.FromAny(map[string]any{"tools": catalogToolsAsAny([]CatalogTool{{Name: "echo", Active: true}})})
	firstID, _, err := bus.Create(ctx, breadcrumb.Breadcrumb{
		Title:      "tool catalog: tools",
		Tags:       []string{"workspace:tools", "tool:catalog"},
		SchemaName: schemaCatalog,
		Context:    firstCtx,
	})
	require.NoError(t, err)

	secondCtx := breadcrumb.FromAny(map[string]any{"tools": catalogToolsAsAny([]CatalogTool{{Name: "shell.exec", Active: true}})})
	secondID, _, err := bus.Create(ctx, breadcrumb.Breadcrumb{
		Title:      "tool catalog: tools",
		Tags:       []string{"workspace:tools", "tool:catalog"},
		SchemaName: schemaCatalog,
		Context:    secondCtx,
	})
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	registry := NewRegistry()
	r := newTestRunner(bus, registry)

	_, _, tools, found, err := r.findCatalog(ctx)
	require.NoError(t, err)
	require.True(t, found)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	require.True(t, names["echo"])
	require.True(t, names["shell.exec"])

	summaries, err := bus.List(ctx, busclient.ListQuery{SchemaName: schemaCatalog, Tag: "workspace:tools"})
	require.NoError(t, err)
	require.Len(t, summaries, 1, "exactly one tool.catalog.v1 breadcrumb must survive the merge")
}

func TestMergeCatalogToolsPrefersNewerEntryForSameName(t *testing.T) {
	existing := []CatalogTool{{Name: "echo", Active: false}}
	mine := []CatalogTool{{Name: "echo", Active: true}}

	merged := mergeCatalogTools(existing, mine)
	require.Len(t, merged, 1)
	require.True(t, merged[0].Active)
}
