// Package bootstrap is the session container's entrypoint. It turns the
// container environment into a validated tool configuration and then hands
// the process over to the interactive tool.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/mthalman/amplifier/internal/config"
	"github.com/mthalman/amplifier/internal/failure"
)

// State is a bootstrap step. Transitions only move forward.
type State int

const (
	Start State = iota
	EnvChecked
	ConfigWritten
	ConfigVerified
	SmokeTested
	Exec
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case EnvChecked:
		return "EnvChecked"
	case ConfigWritten:
		return "ConfigWritten"
	case ConfigVerified:
		return "ConfigVerified"
	case SmokeTested:
		return "SmokeTested"
	case Exec:
		return "Exec"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Execer replaces the current process image. It only returns on failure.
type Execer func(argv0 string, argv []string, envv []string) error

// CommandRunner runs a diagnostic command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ConfigWriter writes the tool configuration to path
type ConfigWriter func(path string) error

// Bootstrapper drives the container start sequence
type Bootstrapper struct {
	cfg *config.Container

	exec        Execer
	run         CommandRunner
	writeConfig ConfigWriter
	lookPath    func(string) (string, error)
	chdir       func(string) error
	environ     func() []string

	state State
}

// Option configures a Bootstrapper
type Option func(*Bootstrapper)

// WithExecer replaces process replacement, for tests
func WithExecer(e Execer) Option {
	return func(b *Bootstrapper) { b.exec = e }
}

// WithCommandRunner replaces how smoke test commands run
func WithCommandRunner(r CommandRunner) Option {
	return func(b *Bootstrapper) { b.run = r }
}

// WithConfigWriter replaces how the tool configuration is written
func WithConfigWriter(w ConfigWriter) Option {
	return func(b *Bootstrapper) { b.writeConfig = w }
}

// WithLookPath replaces executable lookup
func WithLookPath(f func(string) (string, error)) Option {
	return func(b *Bootstrapper) { b.lookPath = f }
}

// WithChdir replaces changing into the target directory
func WithChdir(f func(string) error) Option {
	return func(b *Bootstrapper) { b.chdir = f }
}

// New creates a Bootstrapper for cfg
func New(cfg *config.Container, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		cfg:         cfg,
		exec:        execProcess,
		run:         runCommand,
		writeConfig: WriteToolConfig,
		lookPath:    exec.LookPath,
		chdir:       os.Chdir,
		environ:     os.Environ,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the last state reached
func (b *Bootstrapper) State() State { return b.state }

// ConfigPath is where the tool configuration is written
func (b *Bootstrapper) ConfigPath() string {
	return filepath.Join(b.cfg.Home, ConfigFileName)
}

// Run walks the state machine. On success the process is replaced by the
// interactive tool and Run does not return; any returned error is fatal.
func (b *Bootstrapper) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)

	if err := b.checkEnv(); err != nil {
		return err
	}
	b.advance(ctx, EnvChecked)

	path := b.ConfigPath()
	if err := b.writeConfig(path); err != nil {
		return failure.Wrap(failure.ConfigWriteFailed, err, "writing tool configuration").
			WithHint("make sure $HOME (%s) is writable in the image", b.cfg.Home)
	}
	b.advance(ctx, ConfigWritten)

	if _, err := VerifyToolConfig(path); err != nil {
		return failure.Wrap(failure.ConfigInvalid, err, "tool configuration failed to verify").
			WithHint("the image is broken; rebuild it with 'amplifier build'")
	}
	b.advance(ctx, ConfigVerified)

	for _, w := range b.smokeTest(ctx) {
		log.Warn(w.Error(), "output", w.Hint)
	}
	b.advance(ctx, SmokeTested)

	return b.handOff(ctx)
}

func (b *Bootstrapper) advance(ctx context.Context, next State) {
	if next <= b.state {
		panic(fmt.Sprintf("bootstrap: invalid transition %s -> %s", b.state, next))
	}
	clog.FromContext(ctx).Debug("bootstrap state", "from", b.state, "to", next)
	b.state = next
}

func (b *Bootstrapper) checkEnv() error {
	if strings.TrimSpace(b.cfg.Token) == "" {
		return failure.New(failure.MissingCredential, config.CredentialEnv+" is not set in the container").
			WithHint("set %s on the host before launching; amplifier passes it through", config.CredentialEnv)
	}

	info, err := os.Stat(b.cfg.TargetDir)
	if err != nil {
		return failure.Wrap(failure.TargetNotFound, err, "target directory missing").
			WithHint("the project mount may be missing; run with -v <project>:%s", config.WorkspaceDir)
	}
	if !info.IsDir() {
		return failure.New(failure.TargetNotFound, b.cfg.TargetDir+" is not a directory").
			WithHint("the project mount may be missing; run with -v <project>:%s", config.WorkspaceDir)
	}
	return nil
}

// smokeTest probes the tool. Failures are reported, never fatal.
func (b *Bootstrapper) smokeTest(ctx context.Context) []*failure.Error {
	log := clog.FromContext(ctx)

	var warnings []*failure.Error
	probes := [][]string{
		{"--version"},
		{"config", "list"},
	}
	for _, args := range probes {
		out, err := b.run(ctx, b.cfg.Tool, args...)
		cmdline := strings.Join(append([]string{b.cfg.Tool}, args...), " ")
		if err != nil {
			warnings = append(warnings, failure.Wrap(failure.SmokeTestFailed, err, cmdline+" failed").
				WithHint("%s", strings.TrimSpace(string(out))))
			continue
		}
		log.Info("smoke test passed", "command", cmdline, "output", strings.TrimSpace(string(out)))
	}
	return warnings
}

// handOff replaces this process with the interactive tool
func (b *Bootstrapper) handOff(ctx context.Context) error {
	log := clog.FromContext(ctx)

	path, err := b.lookPath(b.cfg.Tool)
	if err != nil {
		return failure.Wrap(failure.LaunchFailed, err, "finding "+b.cfg.Tool).
			WithHint("the image must provide %s on PATH", b.cfg.Tool)
	}

	if err := b.chdir(b.cfg.TargetDir); err != nil {
		return failure.Wrap(failure.LaunchFailed, err, "entering "+b.cfg.TargetDir)
	}

	argv := ToolArgs(b.cfg.Tool, b.cfg.TargetDir)
	b.advance(ctx, Exec)
	log.Info("starting interactive session", "tool", path, "dir", b.cfg.TargetDir)

	err = b.exec(path, argv, b.environ())
	if err == nil {
		err = errors.New("exec returned without replacing the process")
	}
	return failure.Wrap(failure.LaunchFailed, err, "starting "+b.cfg.Tool)
}

// ToolArgs is the fixed interactive invocation
func ToolArgs(tool, targetDir string) []string {
	return []string{
		tool,
		"--add-dir", targetDir,
		InitialMessage(targetDir),
	}
}

// InitialMessage is the first instruction given to the interactive tool
func InitialMessage(targetDir string) string {
	return fmt.Sprintf("I'm working in %s, which contains the project I'd like help with. "+
		"Start by getting familiar with it, then ask me what to work on.", targetDir)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
