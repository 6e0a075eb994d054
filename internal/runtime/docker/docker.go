package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/mthalman/amplifier/internal/runtime"
)

// probeMount is where CanMount mounts the path under test
const probeMount = "/amplifier-probe"

// Docker runtime implementation. Podman works too, it accepts the same CLI.
type Docker struct {
	// Path to docker binary (default: "docker")
	dockerPath string
}

// Option configures a Docker runtime
type Option func(*Docker)

// WithBinary sets the runtime binary, e.g. "podman"
func WithBinary(path string) Option {
	return func(d *Docker) {
		if path != "" {
			d.dockerPath = path
		}
	}
}

// New creates a new Docker runtime
func New(opts ...Option) *Docker {
	d := &Docker{
		dockerPath: "docker",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ runtime.Runtime = (*Docker)(nil)

// Version implements runtime.Runtime
func (d *Docker) Version(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, d.dockerPath, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s --version: %w, output: %s", d, err, strings.TrimSpace(string(out)))
	}
	clog.FromContext(ctx).Debug("runtime version", "version", strings.TrimSpace(string(out)))
	return nil
}

// Info implements runtime.Runtime
func (d *Docker) Info(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, d.dockerPath, "info").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s info: %w, output: %s", d, err, lastLine(out))
	}
	return nil
}

// CanMount implements runtime.Runtime
func (d *Docker) CanMount(ctx context.Context, hostPath, image string) error {
	args := []string{
		"run", "--rm",
		"-v", fmt.Sprintf("%s:%s:ro", hostPath, probeMount),
		image,
		"ls", probeMount,
	}
	clog.FromContext(ctx).Debug("probing mount", "args", args)
	out, err := exec.CommandContext(ctx, d.dockerPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount probe failed: %w, output: %s", err, lastLine(out))
	}
	return nil
}

// ImageExists implements runtime.Runtime
func (d *Docker) ImageExists(ctx context.Context, ref string) bool {
	cmd := exec.CommandContext(ctx, d.dockerPath, "image", "inspect", "--format", "{{.Id}}", ref)
	return cmd.Run() == nil
}

// Run implements runtime.Runtime
func (d *Docker) Run(ctx context.Context, spec *runtime.Spec, stdio runtime.IO) error {
	log := clog.FromContext(ctx)

	// Build docker run command
	args := RunArgs(spec)

	// Create the command
	cmd := exec.CommandContext(ctx, d.dockerPath, args...)

	// docker proxies the interrupt to the container, and --rm reclaims it
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}

	// Set up IO
	if stdio.Stdin != nil {
		cmd.Stdin = stdio.Stdin
	} else {
		cmd.Stdin = os.Stdin
	}

	if stdio.Stdout != nil {
		cmd.Stdout = stdio.Stdout
	} else {
		cmd.Stdout = os.Stdout
	}

	if stdio.Stderr != nil {
		cmd.Stderr = stdio.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	// Run the container
	log.Debug("running container", "name", spec.Name, "image", spec.Image)
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &runtime.ExitError{Code: exitStatus(exitErr.ProcessState)}
	}
	return err
}

// exitStatus follows the shell convention of 128+signal for a runtime
// killed by a signal.
func exitStatus(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}

// Load implements runtime.Runtime
func (d *Docker) Load(ctx context.Context, tarPath string) (string, error) {
	log := clog.FromContext(ctx)

	// docker load -i <tarball>
	cmd := exec.CommandContext(ctx, d.dockerPath, "load", "-i", tarPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker load failed: %w, output: %s", err, string(output))
	}

	outputStr := string(output)
	log.Debug("docker load output", "output", outputStr)
	return parseLoadOutput(outputStr)
}

// parseLoadOutput finds the image reference in docker load output:
// "Loaded image: <name:tag>" or "Loaded image ID: sha256:..."
func parseLoadOutput(out string) (string, error) {
	for _, prefix := range []string{"Loaded image: ", "Loaded image ID: "} {
		idx := strings.Index(out, prefix)
		if idx < 0 {
			continue
		}
		ref := strings.TrimSpace(out[idx+len(prefix):])
		if nlIdx := strings.IndexAny(ref, "\n\r"); nlIdx >= 0 {
			ref = ref[:nlIdx]
		}
		return ref, nil
	}
	return "", fmt.Errorf("could not parse image reference from docker load output: %s", out)
}

// RunArgs renders spec as docker run arguments. Environment variables are
// emitted sorted by name so the invocation is deterministic.
func RunArgs(spec *runtime.Spec) []string {
	args := []string{"run"}

	if spec.Remove {
		args = append(args, "--rm")
	}

	// Always keep stdin open
	args = append(args, "-i")

	// Add TTY for interactive mode
	if spec.Interactive {
		args = append(args, "-t")
	}

	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}

	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}

	for _, v := range spec.Volumes {
		args = append(args, "-v", v.String())
	}

	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}

	for _, k := range spec.EnvKeys() {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	// Image; its entrypoint is the bootstrapper
	return append(args, spec.Image)
}

// String returns the runtime name
func (d *Docker) String() string {
	return strings.TrimSuffix(filepath.Base(d.dockerPath), ".exe")
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
