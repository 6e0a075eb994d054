package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// Runtime runs session containers
type Runtime interface {
	// Version checks that the runtime binary is invocable
	Version(ctx context.Context) error

	// Info checks that the runtime daemon is reachable
	Info(ctx context.Context) error

	// CanMount checks that a throwaway container from image can read hostPath
	CanMount(ctx context.Context, hostPath, image string) error

	// ImageExists reports whether ref is present locally
	ImageExists(ctx context.Context, ref string) bool

	// Load loads an image tarball and returns the loaded reference
	Load(ctx context.Context, tarPath string) (string, error)

	// Run executes the container described by spec and blocks until it exits
	Run(ctx context.Context, spec *Spec, stdio IO) error
}

// Volume is a bind mount
type Volume struct {
	// Source is the host path as the runtime must receive it
	Source string

	// Target is the path inside the container
	Target string
}

func (v Volume) String() string {
	return v.Source + ":" + v.Target
}

// Spec is the fully composed container invocation. It is built once and not
// mutated afterwards.
type Spec struct {
	// Image reference to run
	Image string

	// Container name
	Name string

	// Environment variables
	Env map[string]string

	// Bind mounts, in order
	Volumes []Volume

	// Working directory inside the container
	WorkDir string

	// User to run as (uid:gid), empty for the image default
	User string

	// Allocate a TTY
	Interactive bool

	// Remove the container on exit
	Remove bool
}

// EnvKeys returns the environment variable names sorted
func (s *Spec) EnvKeys() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IO is the stdio attached to the container. Nil fields default to os.Std*.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExitError reports a container that exited with a non-zero status
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container exited with status %d", e.Code)
}
