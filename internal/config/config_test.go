package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadHostEnv(t *testing.T) {
	t.Setenv(CredentialEnv, "sk-test-1234")

	h := &Host{Target: "/proj"}
	if err := LoadHostEnv(h); err != nil {
		t.Fatalf("LoadHostEnv() error = %v", err)
	}
	if h.Token != "sk-test-1234" {
		t.Errorf("Token = %q", h.Token)
	}
	if h.Target != "/proj" {
		t.Errorf("Target changed to %q", h.Target)
	}
}

func TestLoadHostEnvUnset(t *testing.T) {
	t.Setenv(CredentialEnv, "")

	h := &Host{}
	if err := LoadHostEnv(h); err != nil {
		t.Fatalf("LoadHostEnv() error = %v", err)
	}
	if h.Token != "" {
		t.Errorf("Token = %q, want empty", h.Token)
	}
}

func TestLoadContainer(t *testing.T) {
	t.Setenv(CredentialEnv, "sk-abc")
	t.Setenv("TARGET_DIR", "")
	t.Setenv("AMPLIFIER_DATA_DIR", "/data")
	t.Setenv("HOME", "/home/amp")
	t.Setenv("AMPLIFIER_TOOL", "")

	got, err := LoadContainer()
	if err != nil {
		t.Fatalf("LoadContainer() error = %v", err)
	}

	want := &Container{
		Token:     "sk-abc",
		TargetDir: WorkspaceDir,
		DataDir:   "/data",
		Home:      "/home/amp",
		Tool:      DefaultTool,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadContainer() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadContainerEmptyHome(t *testing.T) {
	t.Setenv(CredentialEnv, "sk-abc")
	t.Setenv("HOME", "")

	got, err := LoadContainer()
	if err != nil {
		t.Fatalf("LoadContainer() error = %v", err)
	}
	if got.Home != DefaultHome {
		t.Errorf("Home = %q, want %q", got.Home, DefaultHome)
	}
}
