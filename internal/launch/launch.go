// Package launch composes the container invocation for a validated request.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mthalman/amplifier/internal/config"
	"github.com/mthalman/amplifier/internal/preflight"
	"github.com/mthalman/amplifier/internal/runtime"
)

// Environment variables every session container receives
const (
	EnvTargetDir = "TARGET_DIR"
	EnvDataDir   = "AMPLIFIER_DATA_DIR"
)

// Options tune composition
type Options struct {
	// Image to run (default config.DefaultImage)
	Image string

	// User override, uid:gid
	User string

	// Allocate a TTY
	Interactive bool

	// PID used in the container name (default os.Getpid())
	PID int
}

// Compose builds the container launch spec from the mount sources preflight
// already translated for the host. It never executes anything.
func Compose(v *preflight.Validated, opts Options) *runtime.Spec {
	image := opts.Image
	if image == "" {
		image = config.DefaultImage
	}
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	return &runtime.Spec{
		Image: image,
		Name:  ContainerName(v.Target, pid),
		Env: map[string]string{
			EnvTargetDir:         config.WorkspaceDir,
			EnvDataDir:           config.ContainerDataDir,
			config.CredentialEnv: v.Token,
		},
		Volumes: []runtime.Volume{
			{Source: v.TargetMount, Target: config.WorkspaceDir},
			{Source: v.DataMount, Target: config.ContainerDataDir},
		},
		WorkDir:     config.WorkspaceDir,
		User:        opts.User,
		Interactive: opts.Interactive,
		Remove:      true,
	}
}

// ContainerName returns amplifier-<basename>-<pid>. Concurrent launches of
// the same target can collide only if they share a pid.
func ContainerName(target string, pid int) string {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(target, `\`, "/")))
	return fmt.Sprintf("amplifier-%s-%d", sanitizeName(base), pid)
}

// sanitizeName keeps characters docker allows in container names
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-.")
	if name == "" {
		return "workspace"
	}
	return name
}

// MaskSecret hides all but the last four characters of s
func MaskSecret(s string) string {
	if s == "" {
		return "<unset>"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return "****" + s[len(s)-4:]
}

// Describe renders the spec for display with the credential masked
func Describe(spec *runtime.Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "image=%s name=%s", spec.Image, spec.Name)
	for _, v := range spec.Volumes {
		fmt.Fprintf(&b, " -v %s", v)
	}
	for _, k := range spec.EnvKeys() {
		val := spec.Env[k]
		if k == config.CredentialEnv {
			val = MaskSecret(val)
		}
		fmt.Fprintf(&b, " -e %s=%s", k, val)
	}
	return b.String()
}
