package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the inner tool's configuration file, relative to $HOME
const ConfigFileName = ".claude.json"

// requiredKeys must be present in a written ToolConfig
var requiredKeys = []string{
	"hasCompletedOnboarding",
	"projects",
	"customApiKeyResponses",
	"mcpServers",
}

// ToolConfig is the inner tool configuration that skips interactive onboarding
type ToolConfig struct {
	HasCompletedOnboarding bool                       `json:"hasCompletedOnboarding"`
	Projects               map[string]json.RawMessage `json:"projects"`
	CustomAPIKeyResponses  APIKeyResponses            `json:"customApiKeyResponses"`
	MCPServers             map[string]json.RawMessage `json:"mcpServers"`
}

// APIKeyResponses records which API keys the operator approved or rejected
type APIKeyResponses struct {
	Approved []string `json:"approved"`
	Rejected []string `json:"rejected"`
}

// NewToolConfig returns the canonical configuration. Collections are
// non-nil so they encode as {} and [] rather than null.
func NewToolConfig() ToolConfig {
	return ToolConfig{
		HasCompletedOnboarding: true,
		Projects:               map[string]json.RawMessage{},
		CustomAPIKeyResponses: APIKeyResponses{
			Approved: []string{},
			Rejected: []string{},
		},
		MCPServers: map[string]json.RawMessage{},
	}
}

// WriteToolConfig overwrites path with the canonical configuration
func WriteToolConfig(path string) error {
	data, err := json.MarshalIndent(NewToolConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tool config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// VerifyToolConfig parses path back and checks the required keys
func VerifyToolConfig(path string) (*ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			return nil, fmt.Errorf("%s: missing key %q", path, k)
		}
	}

	var tc ToolConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if !tc.HasCompletedOnboarding {
		return nil, fmt.Errorf("%s: onboarding flag not set", path)
	}
	return &tc, nil
}
