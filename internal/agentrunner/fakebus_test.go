package agentrunner

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

// fakeBus is an in-memory stand-in for busclient.Client, mirroring the one
// used by the tool runner's own tests.
type fakeBus struct {
	mu      sync.Mutex
	nextID  int
	records map[string]*breadcrumb.Breadcrumb
	events  chan busclient.Event
	created []breadcrumb.Breadcrumb
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		records: make(map[string]*breadcrumb.Breadcrumb),
		events:  make(chan busclient.Event, 64),
	}
}

func (f *fakeBus) Create(_ context.Context, b breadcrumb.Breadcrumb) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "b" + strconv.Itoa(f.nextID)
	b.ID = id
	b.Version = 1
	f.records[id] = &b
	f.created = append(f.created, b)
	select {
	case f.events <- busclient.Event{Type: busclient.EventCreated, BreadcrumbID: id, Tags: b.Tags, SchemaName: b.SchemaName}:
	default:
	}
	return id, 1, nil
}

func (f *fakeBus) Get(_ context.Context, id string) (*breadcrumb.Breadcrumb, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBus) List(_ context.Context, q busclient.ListQuery) ([]breadcrumb.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []breadcrumb.Summary
	for _, b := range f.records {
		if q.SchemaName != "" && b.SchemaName != q.SchemaName {
			continue
		}
		if q.Tag != "" && !b.HasTag(q.Tag) {
			continue
		}
		out = append(out, breadcrumb.Summary{ID: b.ID, Tags: b.Tags, SchemaName: b.SchemaName})
	}
	return out, nil
}

func (f *fakeBus) Update(_ context.Context, id string, expectedVersion int64, patch breadcrumb.Patch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.records[id]
	if !ok {
		return 0, fmt.Errorf("not found: %s", id)
	}
	if b.Version != expectedVersion {
		return 0, fmt.Errorf("conflict: version mismatch")
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Tags != nil {
		b.Tags = patch.Tags
	}
	if patch.Context != nil {
		b.Context = *patch.Context
	}
	b.Version++
	return b.Version, nil
}

func (f *fakeBus) Stream(ctx context.Context, sel selector.Selector) <-chan busclient.Event {
	out := make(chan busclient.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-f.events:
				if sel.IsEmpty() || selector.MatchesEnvelope(evt.Tags, evt.SchemaName, sel) {
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func (f *fakeBus) create(b breadcrumb.Breadcrumb) string {
	id, _, _ := f.Create(context.Background(), b)
	return id
}
