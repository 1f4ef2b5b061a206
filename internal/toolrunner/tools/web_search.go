package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// searchResult mirrors the teacher's websearch.SearchResult shape, trimmed
// to the fields a single DuckDuckGo HTML backend can actually populate.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool performs a web search, adapted from the teacher's
// internal/tools/websearch.WebSearchTool with the multi-backend/cache
// machinery dropped in favor of a single DuckDuckGo HTML backend, since the
// spec only requires one working search path and DuckDuckGo's HTML endpoint
// needs no API key.
type WebSearchTool struct {
	httpClient  *http.Client
	resultCount int
}

// NewWebSearchTool constructs a WebSearchTool with a default result count.
func NewWebSearchTool(defaultResultCount int) *WebSearchTool {
	if defaultResultCount <= 0 {
		defaultResultCount = 5
	}
	return &WebSearchTool{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		resultCount: defaultResultCount,
	}
}

func (t *WebSearchTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "web.search",
		Description: "Search the web for information and return titled result snippets.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"result_count": {"type": "integer", "minimum": 1, "maximum": 20}
			},
			"required": ["query"]
		}`),
	}
}

var resultBlockPattern = regexp.MustCompile(`(?is)<a[^>]+class="result__a"[^>]*href="([^"]+)"[^>]*>(.*?)</a>.*?<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
var tagStripPattern = regexp.MustCompile(`(?is)<[^>]+>`)

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Query       string `json:"query"`
		ResultCount int    `json:"result_count"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "web.search", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, rerrors.New(rerrors.KindValidation, "web.search", fmt.Errorf("query is required"))
	}

	count := t.resultCount
	if in.ResultCount > 0 {
		count = in.ResultCount
	}
	if count > 20 {
		count = 20
	}

	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "web.search", err)
	}
	req.Header.Set("User-Agent", "rcrt-toolrunner/1.0")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "web.search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rerrors.New(rerrors.KindTransport, "web.search", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "web.search", err)
	}

	var results []searchResult
	for _, m := range resultBlockPattern.FindAllStringSubmatch(string(body), -1) {
		if len(results) >= count {
			break
		}
		results = append(results, searchResult{
			URL:     strings.TrimSpace(m[1]),
			Title:   strings.TrimSpace(tagStripPattern.ReplaceAllString(m[2], "")),
			Snippet: strings.TrimSpace(tagStripPattern.ReplaceAllString(m[3], "")),
		})
	}

	return json.Marshal(map[string]any{
		"query":   query,
		"results": results,
	})
}
