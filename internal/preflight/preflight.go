// Package preflight validates a launch request before any container exists.
package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/mthalman/amplifier/internal/config"
	"github.com/mthalman/amplifier/internal/failure"
	"github.com/mthalman/amplifier/internal/hostenv"
)

// Prober is the part of the container runtime preflight needs
type Prober interface {
	Version(ctx context.Context) error
	Info(ctx context.Context) error
	CanMount(ctx context.Context, hostPath, image string) error
}

// Request is what the operator asked to launch
type Request struct {
	Target  string
	DataDir string
	Token   string
}

// Validated is a request that passed every fatal check
type Validated struct {
	// Absolute host paths
	Target  string
	DataDir string

	// Paths as the runtime must receive them for bind mounts
	TargetMount string
	DataMount   string

	Token string

	// Non-fatal problems found along the way
	Warnings []*failure.Error
}

type options struct {
	class      hostenv.Class
	mountCheck bool
	probeImage string
	runtime    string
}

// Option configures Validate
type Option func(*options)

// WithClass sets the detected host environment class
func WithClass(c hostenv.Class) Option {
	return func(o *options) { o.class = c }
}

// WithoutMountCheck skips the throwaway container mount probe
func WithoutMountCheck() Option {
	return func(o *options) { o.mountCheck = false }
}

// WithProbeImage sets the image used for the mount probe
func WithProbeImage(image string) Option {
	return func(o *options) {
		if image != "" {
			o.probeImage = image
		}
	}
}

// WithRuntimeName names the runtime in remediation hints
func WithRuntimeName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.runtime = name
		}
	}
}

// Validate runs the preflight checks in order, stopping at the first fatal
// failure. Only the mount probe degrades to a warning.
func Validate(ctx context.Context, rt Prober, req Request, opts ...Option) (*Validated, error) {
	log := clog.FromContext(ctx)

	o := &options{
		class:      hostenv.Unix,
		mountCheck: true,
		probeImage: config.DefaultProbeImage,
		runtime:    config.DefaultRuntime,
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := rt.Version(ctx); err != nil {
		return nil, failure.Wrap(failure.RuntimeNotInstalled, err, o.runtime+" is not installed").
			WithHint("install %s and make sure it is on your PATH", o.runtime)
	}
	log.Debug("runtime installed", "runtime", o.runtime)

	if err := rt.Info(ctx); err != nil {
		return nil, failure.Wrap(failure.RuntimeNotRunning, err, o.runtime+" is not running").
			WithHint("start the %s daemon (e.g. open Docker Desktop, or run 'sudo systemctl start %s')", o.runtime, o.runtime)
	}
	log.Debug("runtime running", "runtime", o.runtime)

	target, err := hostenv.Resolve(req.Target, o.class)
	if err != nil {
		return nil, failure.Wrap(failure.TargetNotFound, err, "invalid target directory").
			WithHint("pass the project directory to work on as the first argument")
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, failure.Wrap(failure.TargetNotFound, err, "target directory not found").
			WithHint("check that %s exists", target)
	}
	if !info.IsDir() {
		return nil, failure.New(failure.TargetNotFound, fmt.Sprintf("target %s is not a directory", target)).
			WithHint("pass a directory, not a file")
	}
	log.Debug("target found", "target", target)

	if strings.TrimSpace(req.Token) == "" {
		return nil, failure.New(failure.MissingCredential, config.CredentialEnv+" is not set").
			WithHint("export %s=<your API key> and run again", config.CredentialEnv)
	}

	dataDir, err := ensureDataDir(req.DataDir, o.class)
	if err != nil {
		return nil, failure.Wrap(failure.DataDirUnwritable, err, "data directory is not writable").
			WithHint("pass a writable data directory as the second argument")
	}
	log.Debug("data directory ready", "dir", dataDir)

	v := &Validated{
		Target:      target,
		DataDir:     dataDir,
		TargetMount: hostenv.Translate(target, o.class),
		DataMount:   hostenv.Translate(dataDir, o.class),
		Token:       req.Token,
	}

	if o.mountCheck {
		if err := rt.CanMount(ctx, v.TargetMount, o.probeImage); err != nil {
			w := failure.Wrap(failure.MountUnverified, err, "could not verify that "+o.runtime+" can mount the target").
				WithHint("%s", mountHint(o.class))
			v.Warnings = append(v.Warnings, w)
			log.Warn(w.Error(), "mount", v.TargetMount)
			log.Warn(w.Hint)
		}
	}

	return v, nil
}

func ensureDataDir(raw string, class hostenv.Class) (string, error) {
	if raw == "" {
		raw = config.DefaultDataDir
	}
	dir, err := hostenv.Resolve(raw, class)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	// MkdirAll succeeds on existing read-only dirs; prove we can write
	f, err := os.CreateTemp(dir, ".amplifier-write-*")
	if err != nil {
		return "", fmt.Errorf("writing to %s: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return dir, nil
}

func mountHint(class hostenv.Class) string {
	switch class {
	case hostenv.WSL:
		return "enable WSL integration for this distro in Docker Desktop (Settings > Resources > WSL integration)"
	case hostenv.NativeWindows:
		return "share the drive with Docker Desktop (Settings > Resources > File sharing)"
	default:
		return "make sure the path is shared with the runtime (Docker Desktop: Settings > Resources > File sharing)"
	}
}
