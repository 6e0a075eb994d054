package builder

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"chainguard.dev/apko/pkg/apk/apk"
	"chainguard.dev/apko/pkg/build"
	"chainguard.dev/apko/pkg/build/oci"
	"chainguard.dev/apko/pkg/build/types"
	"chainguard.dev/apko/pkg/tarfs"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// EntryPath is where the launcher binary lives inside the session image
const EntryPath = "/usr/local/bin/amplifier"

// Builder builds session images from apko configurations
type Builder struct {
	cacheDir string
	tmpDir   string
}

// New creates a new Builder
func New(cacheDir, tmpDir string) *Builder {
	return &Builder{
		cacheDir: cacheDir,
		tmpDir:   tmpDir,
	}
}

// Build builds the session image and returns the path to a tarball loadable
// with docker load. entryBinary is a linux build of this program; it becomes
// the image entrypoint.
func (b *Builder) Build(ctx context.Context, config *types.ImageConfiguration, tag, entryBinary string) (string, error) {
	log := clog.FromContext(ctx)

	// Default to host architecture
	arch := types.ParseArchitecture(runtime.GOARCH)

	// Create build options
	opts := []build.Option{
		build.WithImageConfiguration(*config),
		build.WithArch(arch),
		build.WithCache(b.cacheDir, false, apk.NewCache(true)),
		build.WithTempDir(b.tmpDir),
	}

	// Create build context
	bc, err := build.New(ctx, tarfs.New(), opts...)
	if err != nil {
		return "", fmt.Errorf("creating build context: %w", err)
	}

	// Build the image filesystem
	log.Info("building image filesystem", "packages", config.Contents.Packages)
	if err := bc.BuildImage(ctx); err != nil {
		return "", fmt.Errorf("building image: %w", err)
	}

	// Create layers
	log.Info("creating image layers")
	layers, err := bc.BuildLayers(ctx)
	if err != nil {
		return "", fmt.Errorf("building layers: %w", err)
	}

	// Build OCI image from layers
	log.Info("building OCI image")
	now := time.Now()
	img, err := oci.BuildImageFromLayers(
		ctx,
		empty.Image,
		layers,
		bc.ImageConfiguration(),
		now,
		arch,
	)
	if err != nil {
		return "", fmt.Errorf("building image from layers: %w", err)
	}

	log.Info("adding entrypoint layer", "binary", entryBinary)
	img, err = withEntrypoint(img, entryBinary, now)
	if err != nil {
		return "", fmt.Errorf("adding entrypoint: %w", err)
	}

	// Generate output path
	outputPath := filepath.Join(b.tmpDir, fmt.Sprintf("amplifier-%d.tar", now.Unix()))

	// Write image to tarball
	log.Info("writing image to tarball", "path", outputPath)
	if err := b.writeImageTarball(img, tag, outputPath); err != nil {
		return "", fmt.Errorf("writing tarball: %w", err)
	}

	return outputPath, nil
}

// withEntrypoint appends a layer holding the launcher binary and points the
// image entrypoint at its bootstrap subcommand.
func withEntrypoint(img v1.Image, entryBinary string, created time.Time) (v1.Image, error) {
	layer, err := entryLayer(entryBinary)
	if err != nil {
		return nil, err
	}

	img, err = mutate.Append(img, mutate.Addendum{
		Layer: layer,
		History: v1.History{
			CreatedBy: "amplifier: add " + EntryPath,
			Created:   v1.Time{Time: created},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("appending layer: %w", err)
	}

	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := cf.Config
	cfg.Entrypoint = []string{EntryPath, "entrypoint"}
	cfg.Cmd = nil
	cfg.WorkingDir = "/workspace"

	return mutate.Config(img, cfg)
}

// entryLayer builds a single file layer placing entryBinary at EntryPath
func entryLayer(entryBinary string) (v1.Layer, error) {
	data, err := os.ReadFile(entryBinary)
	if err != nil {
		return nil, fmt.Errorf("reading entry binary: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     strings.TrimPrefix(EntryPath, "/"),
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}

	layerBytes := buf.Bytes()
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(layerBytes)), nil
	})
}

// EntryBinary picks the binary to bake into the image. The running
// executable only qualifies on linux.
func EntryBinary(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("the image needs a linux build of amplifier; pass --entry-binary")
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return exe, nil
}

// writeImageTarball writes an OCI image to a tarball file
func (b *Builder) writeImageTarball(img v1.Image, tag, outputPath string) error {
	// Parse the tag
	ref, err := name.NewTag(tag)
	if err != nil {
		return fmt.Errorf("parsing tag %q: %w", tag, err)
	}

	// Write to file
	if err := tarball.WriteToFile(outputPath, ref, img); err != nil {
		return fmt.Errorf("writing tarball: %w", err)
	}

	return nil
}
