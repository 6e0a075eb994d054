// Package imageconfig loads the apko configuration for the session image.
package imageconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"chainguard.dev/apko/pkg/build/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultRepository = "https://packages.wolfi.dev/os"
	defaultKeyring    = "https://packages.wolfi.dev/os/wolfi-signing.rsa.pub"
)

// basePackages are always installed: a shell for the smoke tests, git for
// the coding tool and CA certificates for its API calls.
var basePackages = []string{
	"wolfi-base",
	"bash",
	"git",
	"ca-certificates-bundle",
}

// defaultPackages provide the inner tool and the runtimes it shells out to
var defaultPackages = []string{
	"nodejs-22",
	"npm",
	"python-3.12",
	"claude-code",
}

// Default returns the image configuration used when none is supplied
func Default() *types.ImageConfiguration {
	ic := &types.ImageConfiguration{}
	ic.Contents.Packages = slices.Clone(defaultPackages)
	applyDefaults(ic)
	return ic
}

// Parse reads a YAML image configuration and fills in what it leaves out.
// Unknown keys are rejected.
func Parse(r io.Reader) (*types.ImageConfiguration, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ic types.ImageConfiguration
	if err := dec.Decode(&ic); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	applyDefaults(&ic)
	return &ic, nil
}

// Load parses the image configuration at path, or returns Default for ""
func Load(path string) (*types.ImageConfiguration, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func applyDefaults(ic *types.ImageConfiguration) {
	// Add default repositories if none specified
	if len(ic.Contents.RuntimeRepositories) == 0 {
		ic.Contents.RuntimeRepositories = []string{defaultRepository}
		if len(ic.Contents.Keyring) == 0 {
			ic.Contents.Keyring = []string{defaultKeyring}
		}
	}

	for _, pkg := range basePackages {
		if !slices.Contains(ic.Contents.Packages, pkg) {
			ic.Contents.Packages = append(ic.Contents.Packages, pkg)
		}
	}

	if ic.WorkDir == "" {
		ic.WorkDir = "/workspace"
	}
	if ic.Environment == nil {
		ic.Environment = map[string]string{}
	}
	if _, ok := ic.Environment["HOME"]; !ok {
		ic.Environment["HOME"] = "/root"
	}
}
