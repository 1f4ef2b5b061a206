package busclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rcrt-dev/rcrt/internal/backoff"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

// EventType enumerates the wire event kinds per spec §4.1/§6.
type EventType string

const (
	EventCreated EventType = "breadcrumb.created"
	EventUpdated EventType = "breadcrumb.updated"
	EventDeleted EventType = "breadcrumb.deleted"
	EventPing    EventType = "ping"
	EventSystem  EventType = "system"
)

// Event is the decoded SSE line, plus the system-event message when Type
// is EventSystem ("Reconnecting" / "Connected").
type Event struct {
	Type         EventType `json:"type"`
	BreadcrumbID string    `json:"breadcrumb_id"`
	Tags         []string  `json:"tags"`
	SchemaName   string    `json:"schema_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message,omitempty"`
}

// streamBackoffPolicy matches spec §4.1: exponential backoff starting at
// 5s, capped at 5 attempts per burst, then continuing at the cap.
var streamBackoffPolicy = backoff.BackoffPolicy{
	InitialMs: 5000,
	MaxMs:     5000 * 16, // factor^4 from 5s lands here; cap holds beyond it
	Factor:    2,
	Jitter:    0.1,
}

const maxBurstAttempts = 5

// Stream opens a selector-filtered, cancellable, infinite sequence of
// events. The returned channel is closed when ctx is cancelled; events
// from the server are always re-filtered client-side against sel,
// regardless of what the server claims to have already filtered.
func (c *Client) Stream(ctx context.Context, sel selector.Selector) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		c.streamLoop(ctx, sel, out)
	}()

	return out
}

func (c *Client) streamLoop(ctx context.Context, sel selector.Selector, out chan<- Event) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx, sel, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Server closed cleanly; treat as a disconnect and reconnect.
		}

		attempt++
		burstAttempt := attempt
		if burstAttempt > maxBurstAttempts {
			burstAttempt = maxBurstAttempts
		}

		select {
		case out <- Event{Type: EventSystem, Message: "Reconnecting"}:
		case <-ctx.Done():
			return
		}

		if sleepErr := backoff.SleepWithBackoff(ctx, streamBackoffPolicy, burstAttempt); sleepErr != nil {
			return
		}
	}
}

// connectAndRead opens one SSE connection and reads events until the
// connection drops or ctx is cancelled. Returns nil on a clean EOF.
func (c *Client) connectAndRead(ctx context.Context, sel selector.Selector, out chan<- Event) error {
	streamURL := c.baseURL + "/events/stream"
	if q := selectorQuery(sel); q != "" {
		streamURL += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if authErr := c.Authenticate(ctx); authErr != nil {
			return authErr
		}
		return nil // caller reconnects with the fresh token
	}
	if resp.StatusCode != http.StatusOK {
		return errStatusf(resp.StatusCode)
	}

	select {
	case out <- Event{Type: EventSystem, Message: "Connected"}:
	case <-ctx.Done():
		return ctx.Err()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[FINAL]" {
			continue
		}

		var evt Event
		if jsonErr := json.Unmarshal([]byte(data), &evt); jsonErr != nil {
			c.logger.Warn("busclient: malformed SSE event", "error", jsonErr)
			continue
		}

		if !c.sideFilters(evt, sel) {
			continue
		}

		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}

// sideFilters re-applies the schema/tag parts of the selector predicate to
// the event's envelope, since the server may only have applied any_tags.
// context_match conditions are evaluated by the consumer after it fetches
// the full breadcrumb, since the wire envelope does not carry context.
func (c *Client) sideFilters(evt Event, sel selector.Selector) bool {
	if evt.Type == EventSystem || evt.Type == EventPing {
		return true
	}
	if sel.IsEmpty() {
		return true
	}
	return selector.MatchesEnvelope(evt.Tags, evt.SchemaName, sel)
}

func selectorQuery(sel selector.Selector) string {
	values := url.Values{}
	if sel.SchemaName != "" {
		values.Set("schema_name", sel.SchemaName)
	}
	for _, tag := range sel.AnyTags {
		values.Add("tag", tag)
	}
	return values.Encode()
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

func errStatusf(code int) error {
	return &statusError{code: code}
}
