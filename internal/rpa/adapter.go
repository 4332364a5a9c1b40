// Package rpa drives browser sessions against listing platforms using
// per-platform adapter configuration. The adapters are opaque config: the
// runner never hinges logic on a specific platform's page structure.
package rpa

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Adapter describes navigation targets and element locators for one platform.
type Adapter struct {
	Platform           string   `json:"platform"`
	BaseURL            string   `json:"baseUrl"`
	InboxPath          string   `json:"inboxPath"`
	ThreadPathTemplate string   `json:"threadPathTemplate"` // contains {threadId}
	ChallengeMarkers   []string `json:"challengeMarkers"`
	CaptchaMarkers     []string `json:"captchaMarkers"`
	LoginMarkers       []string `json:"loginMarkers"`
	MessageRowSelector string   `json:"messageRowSelector"`
	MessageIDAttr      string   `json:"messageIdAttr"`
	ThreadIDAttr       string   `json:"threadIdAttr"`
	BodySelector       string   `json:"bodySelector"`
	LeadNameSelector   string   `json:"leadNameSelector"`
	SentAtSelector     string   `json:"sentAtSelector"`
	ComposerSelector   string   `json:"composerSelector"`
	SubmitSelector     string   `json:"submitSelector"`
	// SessionBased platforms accept a stored browser session instead of an
	// interactive login pair.
	SessionBased bool `json:"sessionBased"`
}

// InboxURL returns the absolute inbox URL.
func (a Adapter) InboxURL() string {
	return strings.TrimRight(a.BaseURL, "/") + a.InboxPath
}

// ThreadURL returns the absolute URL for one conversation thread.
func (a Adapter) ThreadURL(threadID string) string {
	path := strings.ReplaceAll(a.ThreadPathTemplate, "{threadId}", threadID)
	return strings.TrimRight(a.BaseURL, "/") + path
}

// Validate checks the fields the runner depends on.
func (a Adapter) Validate() error {
	switch {
	case strings.TrimSpace(a.Platform) == "":
		return fmt.Errorf("rpa: adapter platform is required")
	case strings.TrimSpace(a.BaseURL) == "":
		return fmt.Errorf("rpa: adapter %q: baseUrl is required", a.Platform)
	case strings.TrimSpace(a.InboxPath) == "":
		return fmt.Errorf("rpa: adapter %q: inboxPath is required", a.Platform)
	case !strings.Contains(a.ThreadPathTemplate, "{threadId}"):
		return fmt.Errorf("rpa: adapter %q: threadPathTemplate must contain {threadId}", a.Platform)
	case strings.TrimSpace(a.MessageRowSelector) == "":
		return fmt.Errorf("rpa: adapter %q: messageRowSelector is required", a.Platform)
	case strings.TrimSpace(a.ComposerSelector) == "" || strings.TrimSpace(a.SubmitSelector) == "":
		return fmt.Errorf("rpa: adapter %q: composer and submit selectors are required", a.Platform)
	}
	return nil
}

// AdapterTable is an immutable lookup of adapters keyed by platform id.
type AdapterTable struct {
	adapters map[string]Adapter
}

// NewAdapterTable builds a table after validating every adapter.
func NewAdapterTable(adapters []Adapter) (*AdapterTable, error) {
	table := &AdapterTable{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := table.adapters[a.Platform]; dup {
			return nil, fmt.Errorf("rpa: duplicate adapter for platform %q", a.Platform)
		}
		table.adapters[a.Platform] = a
	}
	return table, nil
}

// LoadAdapterTable reads adapter configuration from a JSON file so selector
// sets can change without recompilation.
func LoadAdapterTable(path string) (*AdapterTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rpa: read adapter config: %w", err)
	}
	var adapters []Adapter
	if err := json.Unmarshal(data, &adapters); err != nil {
		return nil, fmt.Errorf("rpa: parse adapter config: %w", err)
	}
	return NewAdapterTable(adapters)
}

// Lookup returns the adapter for a platform.
func (t *AdapterTable) Lookup(platform string) (Adapter, bool) {
	a, ok := t.adapters[platform]
	return a, ok
}

// Platforms lists the configured platform ids.
func (t *AdapterTable) Platforms() []string {
	out := make([]string, 0, len(t.adapters))
	for p := range t.adapters {
		out = append(out, p)
	}
	return out
}
