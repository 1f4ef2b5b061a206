package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// WebFetchTool fetches a URL and returns a stripped-down text extraction,
// adapted from the teacher's internal/tools/websearch.WebFetchTool without
// the full readability pipeline.
type WebFetchTool struct {
	httpClient *http.Client
	maxChars   int
}

// NewWebFetchTool constructs a WebFetchTool with a default 10s client
// timeout and a 10000-char extraction limit.
func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 10_000
	}
	return &WebFetchTool{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxChars:   maxChars,
	}
}

func (t *WebFetchTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "web.fetch",
		Description: "Fetch a URL over http/https and return extracted text content.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"max_chars": {"type": "integer", "minimum": 0}
			},
			"required": ["url"]
		}`),
	}
}

var htmlTagPattern = regexp.MustCompile(`(?is)<script.*?</script>|<style.*?</style>|<[^>]+>`)

// isPrivateOrReservedIP reports whether ip is loopback, link-local, private,
// unspecified, multicast, or the cloud metadata address — any address an
// agent-supplied URL should never be allowed to resolve to.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	metadataIP := net.ParseIP("169.254.169.254")
	return ip.Equal(metadataIP)
}

// validateURLForSSRF rejects URLs that would let a tool call reach internal
// or cloud-metadata services through the runner's own network position.
func validateURLForSSRF(parsed *url.URL) error {
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("url must have a hostname")
	}

	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost urls are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Can't resolve: let the HTTP client's own DNS lookup fail it later
		// rather than guessing at DNS outages here.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("url resolves to a private or reserved IP address")
		}
	}
	return nil
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "web.fetch", err)
	}

	parsed, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, rerrors.New(rerrors.KindValidation, "web.fetch", fmt.Errorf("url must be http(s)"))
	}

	if err := validateURLForSSRF(parsed); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "web.fetch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "web.fetch", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "web.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rerrors.New(rerrors.KindTransport, "web.fetch", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "web.fetch", err)
	}

	content := htmlTagPattern.ReplaceAllString(string(body), " ")
	content = strings.Join(strings.Fields(content), " ")

	limit := t.maxChars
	if in.MaxChars > 0 && in.MaxChars < limit {
		limit = in.MaxChars
	}
	truncated := false
	if len(content) > limit {
		content = content[:limit]
		truncated = true
	}

	return json.Marshal(map[string]any{
		"url":       parsed.String(),
		"content":   content,
		"truncated": truncated,
	})
}
