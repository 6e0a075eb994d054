package bootstrap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteToolConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", ConfigFileName)
	if err := WriteToolConfig(path); err != nil {
		t.Fatalf("WriteToolConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("written config is not JSON: %v", err)
	}
	want := map[string]any{
		"hasCompletedOnboarding": true,
		"projects":               map[string]any{},
		"customApiKeyResponses": map[string]any{
			"approved": []any{},
			"rejected": []any{},
		},
		"mcpServers": map[string]any{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	if _, err := VerifyToolConfig(path); err != nil {
		t.Errorf("VerifyToolConfig() error = %v", err)
	}
}

func TestVerifyToolConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "canonical",
			content: `{"hasCompletedOnboarding":true,"projects":{},"customApiKeyResponses":{"approved":[],"rejected":[]},"mcpServers":{}}`,
		},
		{
			name:    "truncated",
			content: `{"hasCompletedOnboarding":true,"projects":{`,
			wantErr: true,
		},
		{
			name:    "missing key",
			content: `{"hasCompletedOnboarding":true,"projects":{},"customApiKeyResponses":{"approved":[],"rejected":[]}}`,
			wantErr: true,
		},
		{
			name:    "onboarding false",
			content: `{"hasCompletedOnboarding":false,"projects":{},"customApiKeyResponses":{"approved":[],"rejected":[]},"mcpServers":{}}`,
			wantErr: true,
		},
		{
			name:    "wrong type",
			content: `{"hasCompletedOnboarding":"yes","projects":{},"customApiKeyResponses":{},"mcpServers":{}}`,
			wantErr: true,
		},
		{
			name:    "empty",
			content: ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := VerifyToolConfig(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyToolConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyToolConfigMissingFile(t *testing.T) {
	if _, err := VerifyToolConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("VerifyToolConfig() succeeded on a missing file")
	}
}
