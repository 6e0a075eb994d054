package launch

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mthalman/amplifier/internal/preflight"
	"github.com/mthalman/amplifier/internal/runtime"
)

func TestComposeUnix(t *testing.T) {
	v := &preflight.Validated{
		Target:      "/home/user/proj",
		DataDir:     "/home/user/amplifier-data",
		TargetMount: "/home/user/proj",
		DataMount:   "/home/user/amplifier-data",
		Token:       "sk-ant-secret-value",
	}

	got := Compose(v, Options{PID: 4242, Interactive: true})

	want := &runtime.Spec{
		Image: "amplifier-claude:latest",
		Name:  "amplifier-proj-4242",
		Env: map[string]string{
			"TARGET_DIR":         "/workspace",
			"AMPLIFIER_DATA_DIR": "/app/amplifier-data",
			"ANTHROPIC_API_KEY":  "sk-ant-secret-value",
		},
		Volumes: []runtime.Volume{
			{Source: "/home/user/proj", Target: "/workspace"},
			{Source: "/home/user/amplifier-data", Target: "/app/amplifier-data"},
		},
		WorkDir:     "/workspace",
		Interactive: true,
		Remove:      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeShapeIsFixed(t *testing.T) {
	inputs := []*preflight.Validated{
		{Target: "/a", TargetMount: "/a", DataMount: "/d", Token: "t"},
		{Target: "/mnt/c/Users/dev/app", TargetMount: "/mnt/c/Users/dev/app", DataMount: "/mnt/c/data", Token: "t"},
		{Target: `C:\Users\dev\app`, TargetMount: `C:\Users\dev\app`, DataMount: `C:\data`, Token: "t"},
		{Target: "/path with spaces/x", TargetMount: "/path with spaces/x", DataMount: "/d", Token: "t"},
	}

	for _, v := range inputs {
		spec := Compose(v, Options{PID: 1})
		if len(spec.Volumes) != 2 {
			t.Errorf("%s: got %d volumes, want 2", v.Target, len(spec.Volumes))
			continue
		}
		if spec.Volumes[0].Target != "/workspace" || spec.Volumes[1].Target != "/app/amplifier-data" {
			t.Errorf("%s: volume targets = %v", v.Target, spec.Volumes)
		}
		if spec.Env[EnvTargetDir] != "/workspace" || spec.Env[EnvDataDir] != "/app/amplifier-data" {
			t.Errorf("%s: env = %v", v.Target, spec.Env)
		}
		if len(spec.Env) != 3 {
			t.Errorf("%s: got %d env vars, want 3", v.Target, len(spec.Env))
		}
	}
}

func TestComposeWindowsTarget(t *testing.T) {
	v := &preflight.Validated{
		Target:      `C:\Users\dev\app`,
		TargetMount: `C:\Users\dev\app`,
		DataMount:   `C:\Users\dev\amplifier-data`,
		Token:       "t",
	}
	spec := Compose(v, Options{PID: 7, Image: "custom:1", User: "1000:1000"})
	if spec.Volumes[0].Source != `C:\Users\dev\app` {
		t.Errorf("windows path rewritten: %q", spec.Volumes[0].Source)
	}
	if spec.Name != "amplifier-app-7" {
		t.Errorf("Name = %q", spec.Name)
	}
	if spec.Image != "custom:1" || spec.User != "1000:1000" {
		t.Errorf("Image = %q, User = %q", spec.Image, spec.User)
	}
}

func TestComposeUsesTranslatedMounts(t *testing.T) {
	v := &preflight.Validated{
		Target:      `D:\Work\app`,
		DataDir:     `D:\Work\amplifier-data`,
		TargetMount: "/mnt/d/Work/app",
		DataMount:   "/mnt/d/Work/amplifier-data",
		Token:       "t",
	}
	spec := Compose(v, Options{PID: 3})

	want := []runtime.Volume{
		{Source: "/mnt/d/Work/app", Target: "/workspace"},
		{Source: "/mnt/d/Work/amplifier-data", Target: "/app/amplifier-data"},
	}
	if diff := cmp.Diff(want, spec.Volumes); diff != "" {
		t.Errorf("Volumes mismatch (-want +got):\n%s", diff)
	}
	if spec.Name != "amplifier-app-3" {
		t.Errorf("Name = %q", spec.Name)
	}
}

func TestComposeDefaultsPID(t *testing.T) {
	spec := Compose(&preflight.Validated{Target: "/x/proj", Token: "t"}, Options{})
	if !strings.HasPrefix(spec.Name, "amplifier-proj-") || strings.HasSuffix(spec.Name, "-0") {
		t.Errorf("Name = %q", spec.Name)
	}
}

func TestContainerName(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/home/user/proj", "amplifier-proj-99"},
		{"/home/user/proj/", "amplifier-proj-99"},
		{"/home/user/My Project", "amplifier-My-Project-99"},
		{`C:\Users\dev\app`, "amplifier-app-99"},
		{"/", "amplifier-workspace-99"},
		{"/srv/été", "amplifier-t-99"},
	}
	for _, tt := range tests {
		if got := ContainerName(tt.target, 99); got != tt.want {
			t.Errorf("ContainerName(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                    "<unset>",
		"abc":                 "***",
		"abcd":                "****",
		"sk-ant-api03-XYZ987": "****Z987",
	}
	for in, want := range tests {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribeMasksToken(t *testing.T) {
	spec := Compose(&preflight.Validated{
		Target:      "/home/user/proj",
		TargetMount: "/home/user/proj",
		DataMount:   "/data",
		Token:       "sk-ant-very-secret-1234",
	}, Options{PID: 1})

	out := Describe(spec)
	if strings.Contains(out, "very-secret") {
		t.Errorf("Describe() leaked token: %s", out)
	}
	if !strings.Contains(out, "ANTHROPIC_API_KEY=****1234") {
		t.Errorf("Describe() = %s", out)
	}
	if !strings.Contains(out, "-v /home/user/proj:/workspace") {
		t.Errorf("Describe() = %s", out)
	}
	// The spec itself keeps the raw value for the real invocation
	if spec.Env["ANTHROPIC_API_KEY"] != "sk-ant-very-secret-1234" {
		t.Errorf("spec token was masked")
	}
}
