// Package secrets resolves tool secret requirements against the
// breadcrumb store's /secrets surface, adapting the teacher's
// sync.RWMutex-guarded, nil-safe-pointer-receiver auth.Service shape to
// secret references instead of user identities.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
)

// ScopeType is the scope a secret is bound to. Lookup resolves
// agent-scoped over workspace-scoped over global, first hit wins.
type ScopeType string

const (
	ScopeGlobal    ScopeType = "global"
	ScopeAgent     ScopeType = "agent"
	ScopeWorkspace ScopeType = "workspace"
)

// Ref is a secret reference returned by Lookup: enough to identify and
// later decrypt a secret, but never the plaintext itself.
type Ref struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   string    `json:"scope_id,omitempty"`
}

// httpDoer is the subset of *http.Client the manager needs; satisfied by
// busclient's underlying transport in production and a fake in tests.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager resolves tool secret requirements. A nil *Manager behaves as
// fully disabled (Enabled reports false, Lookup always misses) so callers
// can embed an optional manager without nil checks scattered everywhere.
type Manager struct {
	mu sync.RWMutex

	baseURL            string
	bootstrapFromEnv   bool
	tokenSource        func() string
	httpClient         httpDoer
	cachedByScopeGroup map[string][]Ref
}

// Config configures a Manager.
type Config struct {
	BaseURL          string
	BootstrapFromEnv bool
	TokenSource      func() string
	HTTPClient       httpDoer
}

// New constructs a Manager. BootstrapFromEnv defaults to false per spec
// §4.5 ("controlled by a configuration flag, default off").
func New(cfg Config) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		baseURL:            strings.TrimSuffix(cfg.BaseURL, "/"),
		bootstrapFromEnv:   cfg.BootstrapFromEnv,
		tokenSource:        cfg.TokenSource,
		httpClient:         client,
		cachedByScopeGroup: map[string][]Ref{},
	}
}

// Enabled reports whether the manager can resolve secrets at all.
func (m *Manager) Enabled() bool {
	return m != nil
}

// MissingSecret describes one secret a tool needs but the manager could
// not resolve, destined for a tool.config.request.v1 breadcrumb.
type MissingSecret struct {
	Name      string
	ScopeType ScopeType
	ScopeID   string
}

// Lookup resolves (name, scopeType, scopeID) to a reference usable by a
// tool executor. Scope resolution order: agent > workspace > global;
// first hit wins. Returns ok=false (not an error) when nothing resolves
// and bootstrap-from-environment did not apply.
func (m *Manager) Lookup(ctx context.Context, name string, agentID, workspace string) (Ref, bool, error) {
	if m == nil {
		return Ref{}, false, nil
	}

	order := []struct {
		scope ScopeType
		id    string
	}{
		{ScopeAgent, agentID},
		{ScopeWorkspace, workspace},
		{ScopeGlobal, ""},
	}

	for _, candidate := range order {
		if candidate.scope != ScopeGlobal && candidate.id == "" {
			continue
		}
		ref, found, err := m.findOne(ctx, name, candidate.scope, candidate.id)
		if err != nil {
			return Ref{}, false, err
		}
		if found {
			return ref, true, nil
		}
	}

	if m.bootstrapFromEnv {
		if ref, ok, err := m.bootstrap(ctx, name, agentID); ok || err != nil {
			return ref, ok, err
		}
	}

	return Ref{}, false, nil
}

func (m *Manager) findOne(ctx context.Context, name string, scope ScopeType, scopeID string) (Ref, bool, error) {
	values := url.Values{}
	values.Set("name", name)
	values.Set("scope_type", string(scope))
	if scopeID != "" {
		values.Set("scope_id", scopeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/secrets?"+values.Encode(), nil)
	if err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.Lookup", err)
	}
	m.authorize(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.Lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Ref{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.Lookup", fmt.Errorf("status %d", resp.StatusCode))
	}

	var refs []Ref
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.Lookup", err)
	}
	if len(refs) == 0 {
		return Ref{}, false, nil
	}
	return refs[0], true, nil
}

// bootstrap performs a one-time create from a same-named environment
// variable when enabled, scoping the new secret to the agent.
func (m *Manager) bootstrap(ctx context.Context, name, agentID string) (Ref, bool, error) {
	envName := envVarForSecret(name)
	value, ok := os.LookupEnv(envName)
	if !ok || strings.TrimSpace(value) == "" {
		return Ref{}, false, nil
	}

	body, err := json.Marshal(map[string]any{
		"name":       name,
		"scope_type": ScopeAgent,
		"scope_id":   agentID,
		"value":      value,
	})
	if err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindValidation, "secrets.bootstrap", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/secrets", strings.NewReader(string(body)))
	if err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.bootstrap", err)
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.bootstrap", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.bootstrap", fmt.Errorf("status %d", resp.StatusCode))
	}

	var ref Ref
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return Ref{}, false, rerrors.New(rerrors.KindTransport, "secrets.bootstrap", err)
	}
	return ref, true, nil
}

// envVarForSecret maps a secret name to the environment variable checked
// during bootstrap, e.g. "openai-api-key" -> "OPENAI_API_KEY".
func envVarForSecret(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Decrypt fetches the plaintext value for ref, with a caller-supplied
// reason that the server audits. The returned value must be scrubbed by
// the caller at the end of a single tool invocation; the manager holds no
// process-wide cache of it.
func (m *Manager) Decrypt(ctx context.Context, ref Ref, reason string) (string, error) {
	if m == nil {
		return "", rerrors.New(rerrors.KindConfigMissing, "secrets.Decrypt", fmt.Errorf("secret manager disabled"))
	}
	if strings.TrimSpace(reason) == "" {
		return "", rerrors.New(rerrors.KindValidation, "secrets.Decrypt", fmt.Errorf("reason is required"))
	}

	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return "", rerrors.New(rerrors.KindValidation, "secrets.Decrypt", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/secrets/"+url.PathEscape(ref.ID)+"/decrypt", strings.NewReader(string(body)))
	if err != nil {
		return "", rerrors.New(rerrors.KindTransport, "secrets.Decrypt", err)
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", rerrors.New(rerrors.KindTransport, "secrets.Decrypt", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", rerrors.New(rerrors.KindNotFound, "secrets.Decrypt", fmt.Errorf("secret %s not found", ref.ID))
	}
	if resp.StatusCode != http.StatusOK {
		return "", rerrors.New(rerrors.KindTransport, "secrets.Decrypt", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", rerrors.New(rerrors.KindTransport, "secrets.Decrypt", err)
	}
	return out.Value, nil
}

func (m *Manager) authorize(req *http.Request) {
	if m.tokenSource == nil {
		return
	}
	if tok := m.tokenSource(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// MissingFromTool turns unresolved secret requirements into the
// MissingSecret list a tool runner uses to build a tool.config.request.v1
// breadcrumb.
func MissingFromTool(names []string, scope ScopeType, scopeID string) []MissingSecret {
	missing := make([]MissingSecret, 0, len(names))
	for _, name := range names {
		missing = append(missing, MissingSecret{Name: name, ScopeType: scope, ScopeID: scopeID})
	}
	return missing
}
