// Package config builds the explicit configuration passed to each component.
// The environment is read exactly once, here.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	// CredentialEnv carries the inner tool's API token
	CredentialEnv = "ANTHROPIC_API_KEY"

	// Container side mount points
	WorkspaceDir     = "/workspace"
	ContainerDataDir = "/app/amplifier-data"

	DefaultDataDir    = "./amplifier-data"
	DefaultImage      = "amplifier-claude:latest"
	DefaultRuntime    = "docker"
	DefaultProbeImage = "busybox:latest"
	DefaultTool       = "claude"
	DefaultHome       = "/root"
)

// hostEnv is the slice of the environment the launcher reads
type hostEnv struct {
	Token string `envconfig:"ANTHROPIC_API_KEY"`
}

// Host configures a launch. Flags fill in everything except Token.
type Host struct {
	Target  string
	DataDir string
	Token   string

	Image      string
	Runtime    string
	ProbeImage string
	User       string

	SkipMountCheck bool
	Rebuild        bool

	ImageConfigPath string
	EntryBinary     string
}

// LoadHostEnv fills the environment backed fields of h
func LoadHostEnv(h *Host) error {
	var env hostEnv
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	h.Token = env.Token
	return nil
}

// Container configures the in-container bootstrap
type Container struct {
	Token     string `envconfig:"ANTHROPIC_API_KEY"`
	TargetDir string `envconfig:"TARGET_DIR" default:"/workspace"`
	DataDir   string `envconfig:"AMPLIFIER_DATA_DIR" default:"/app/amplifier-data"`
	Home      string `envconfig:"HOME" default:"/root"`
	Tool      string `envconfig:"AMPLIFIER_TOOL" default:"claude"`
}

// LoadContainer reads the container side configuration from the environment
func LoadContainer() (*Container, error) {
	var c Container
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	// envconfig only applies defaults to unset variables; treat empty the same
	if c.TargetDir == "" {
		c.TargetDir = WorkspaceDir
	}
	if c.DataDir == "" {
		c.DataDir = ContainerDataDir
	}
	if c.Tool == "" {
		c.Tool = DefaultTool
	}
	if c.Home == "" {
		c.Home = DefaultHome
	}
	return &c, nil
}
