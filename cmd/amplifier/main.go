package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/clog/slag"
	"github.com/mattn/go-isatty"
	"github.com/mthalman/amplifier/internal/bootstrap"
	"github.com/mthalman/amplifier/internal/builder"
	"github.com/mthalman/amplifier/internal/config"
	"github.com/mthalman/amplifier/internal/failure"
	"github.com/mthalman/amplifier/internal/hostenv"
	"github.com/mthalman/amplifier/internal/imageconfig"
	"github.com/mthalman/amplifier/internal/launch"
	"github.com/mthalman/amplifier/internal/logs"
	"github.com/mthalman/amplifier/internal/preflight"
	"github.com/mthalman/amplifier/internal/runtime"
	"github.com/mthalman/amplifier/internal/runtime/docker"
	"github.com/spf13/cobra"
)

type options struct {
	logLevel slag.Level
	stderr   io.Writer

	image          string
	runtime        string
	probeImage     string
	user           string
	skipMountCheck bool
	rebuild        bool
	imageConfig    string
	entryBinary    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts := &options{stderr: stderr}
	ctx = logs.WithLogger(ctx, stderr, opts.logLevel)

	rootCmd := &cobra.Command{
		Use:   "amplifier <target-dir> [data-dir]",
		Short: "Run an AI coding session in a container bound to a project directory",
		Long: `Run an AI coding session in a container bound to a project directory.

The target directory is mounted at /workspace. The data directory
(default ./amplifier-data) is mounted at /app/amplifier-data and keeps
session logs across runs. ` + config.CredentialEnv + ` must be set.

A target directory named like a subcommand (build) must be given as a
path, e.g. "amplifier ./build".`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx = logs.WithLogger(ctx, stderr, opts.logLevel)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.launch(cmd.Context(), args)
		},
	}

	rootCmd.PersistentFlags().Var(&opts.logLevel, "log-level", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.runtime, "runtime", config.DefaultRuntime, "Container runtime binary (docker or podman)")
	rootCmd.PersistentFlags().StringVar(&opts.imageConfig, "image-config", "", "apko YAML image configuration used when building")
	rootCmd.PersistentFlags().StringVar(&opts.entryBinary, "entry-binary", "", "Linux amplifier binary to bake into the image (default: this executable on linux)")
	rootCmd.Flags().StringVar(&opts.image, "image", config.DefaultImage, "Session image")
	rootCmd.Flags().StringVar(&opts.probeImage, "probe-image", config.DefaultProbeImage, "Image used to check that the target can be mounted")
	rootCmd.Flags().StringVar(&opts.user, "user", "", "Run the container as uid:gid")
	rootCmd.Flags().BoolVar(&opts.skipMountCheck, "skip-mount-check", false, "Skip the mount check")
	rootCmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Rebuild the session image before launching")

	rootCmd.AddCommand(opts.buildCommand(), opts.entrypointCommand())
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	return exitCode(ctx, err)
}

// exitCode maps err to the process exit status, logging it unless a phase
// already did. A container exit status passes through unchanged.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}

	var exitErr *runtime.ExitError
	if errors.As(err, &exitErr) {
		clog.FromContext(ctx).Debug("session ended", "status", exitErr.Code)
		return exitErr.Code
	}

	var reported reportedError
	if !errors.As(err, &reported) {
		logFatal(ctx, err)
	}
	return 1
}

// reportedError is a fatal error already written to a phase log
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// reportFatal logs err through ctx, so it lands in the phase log file while
// that is still open.
func reportFatal(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *runtime.ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	logFatal(ctx, err)
	return reportedError{err}
}

func logFatal(ctx context.Context, err error) {
	log := clog.FromContext(ctx)
	if kind, ok := failure.KindOf(err); ok {
		log.Error(err.Error(), "kind", kind)
	} else {
		log.Error(err.Error())
	}
	if hint := failure.HintOf(err); hint != "" {
		log.Info("hint: " + hint)
	}
}

// shadowedTarget reports whether the working directory holds a directory
// named like the subcommand name.
func shadowedTarget(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}

func (o *options) launch(ctx context.Context, args []string) (err error) {
	log := clog.FromContext(ctx)

	host := &config.Host{
		Target:          args[0],
		DataDir:         config.DefaultDataDir,
		Image:           o.image,
		Runtime:         o.runtime,
		ProbeImage:      o.probeImage,
		User:            o.user,
		SkipMountCheck:  o.skipMountCheck,
		Rebuild:         o.rebuild,
		ImageConfigPath: o.imageConfig,
		EntryBinary:     o.entryBinary,
	}
	if len(args) > 1 {
		host.DataDir = args[1]
	}
	if err := config.LoadHostEnv(host); err != nil {
		return err
	}

	class := hostenv.Detect(hostenv.ProbeSignals())
	log.Debug("detected host environment", "class", class)

	rt := docker.New(docker.WithBinary(host.Runtime))

	pfOpts := []preflight.Option{
		preflight.WithClass(class),
		preflight.WithProbeImage(host.ProbeImage),
		preflight.WithRuntimeName(rt.String()),
	}
	if host.SkipMountCheck {
		pfOpts = append(pfOpts, preflight.WithoutMountCheck())
	}

	v, err := preflight.Validate(ctx, rt, preflight.Request{
		Target:  host.Target,
		DataDir: host.DataDir,
		Token:   host.Token,
	}, pfOpts...)
	if err != nil {
		return err
	}

	ctx, phase, openErr := logs.Open(ctx, v.DataDir, "launch", o.stderr, o.logLevel, time.Now())
	if openErr != nil {
		log.Warn("logging to terminal only", "error", openErr)
	} else {
		defer phase.Close()
		log = clog.FromContext(ctx)
		log.Debug("logging to file", "path", phase.Path)
	}
	defer func() { err = reportFatal(ctx, err) }()

	log.Info("launching session",
		"target", v.Target,
		"data", v.DataDir,
		"host", class,
		"credential", launch.MaskSecret(v.Token),
	)

	if host.Rebuild || !rt.ImageExists(ctx, host.Image) {
		log.Info("building session image", "image", host.Image)
		if _, err := o.buildImage(ctx, rt, host.Image, false); err != nil {
			return failure.Wrap(failure.ImageUnavailable, err, "preparing image "+host.Image).
				WithHint("build it with 'amplifier build --entry-binary <linux binary>' or pass --image")
		}
	}

	stdin := os.Stdin.Fd()
	spec := launch.Compose(v, launch.Options{
		Image:       host.Image,
		User:        host.User,
		Interactive: isatty.IsTerminal(stdin) || isatty.IsCygwinTerminal(stdin),
	})
	log.Info("running container", "name", spec.Name)
	log.Debug("container spec", "spec", launch.Describe(spec))

	err = rt.Run(ctx, spec, runtime.IO{})
	var exitErr *runtime.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return failure.Wrap(failure.LaunchFailed, err, "running container "+spec.Name)
	}
	return err
}

func (o *options) buildCommand() *cobra.Command {
	var (
		tag       string
		buildOnly bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the session image and load it into the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if shadowedTarget(cmd.Name()) {
				clog.FromContext(ctx).Warn("building the session image; to launch a session on the directory run: amplifier ./" + cmd.Name())
			}
			rt := docker.New(docker.WithBinary(o.runtime))
			out, err := o.buildImage(ctx, rt, tag, buildOnly)
			if err != nil {
				return failure.Wrap(failure.ImageUnavailable, err, "building image "+tag)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", config.DefaultImage, "Image tag")
	cmd.Flags().BoolVar(&buildOnly, "build-only", false, "Write the image tarball without loading it")
	return cmd
}

// buildImage builds the session image. It returns the tarball path when
// tarOnly is set, otherwise the reference the runtime loaded.
func (o *options) buildImage(ctx context.Context, rt runtime.Runtime, tag string, tarOnly bool) (string, error) {
	log := clog.FromContext(ctx)

	ic, err := imageconfig.Load(o.imageConfig)
	if err != nil {
		return "", err
	}
	entry, err := builder.EntryBinary(o.entryBinary)
	if err != nil {
		return "", err
	}

	// Get cache directories
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	cacheDir = filepath.Join(cacheDir, "amplifier")

	tmpDir := filepath.Join(os.TempDir(), "amplifier")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}

	tarPath, err := builder.New(cacheDir, tmpDir).Build(ctx, ic, tag, entry)
	if err != nil {
		return "", err
	}
	if tarOnly {
		return tarPath, nil
	}
	defer os.Remove(tarPath)

	ref, err := rt.Load(ctx, tarPath)
	if err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}
	log.Info("loaded image", "ref", ref)
	return ref, nil
}

func (o *options) entrypointCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "entrypoint",
		Short:  "Container entrypoint (not for direct use)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The launcher always sets TARGET_DIR in the session container
			if _, ok := os.LookupEnv(launch.EnvTargetDir); !ok && shadowedTarget(cmd.Name()) {
				return failure.New(failure.LaunchFailed, "entrypoint only runs inside the session container").
					WithHint("to launch a session on the directory run: amplifier ./%s", cmd.Name())
			}

			cfg, err := config.LoadContainer()
			if err != nil {
				return err
			}

			ctx, phase, err := logs.Open(ctx, cfg.DataDir, "entrypoint", o.stderr, o.logLevel, time.Now())
			if err != nil {
				clog.FromContext(ctx).Warn("logging to terminal only", "error", err)
			} else {
				defer phase.Close()
			}

			// Only returns on failure
			return reportFatal(ctx, bootstrap.New(cfg).Run(ctx))
		},
	}
}
