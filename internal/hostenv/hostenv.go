package hostenv

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Class identifies the host environment, which decides how host paths are
// rewritten before they are handed to the container runtime.
type Class int

const (
	Unix Class = iota
	WSL
	NativeWindows
)

func (c Class) String() string {
	switch c {
	case WSL:
		return "wsl"
	case NativeWindows:
		return "windows"
	default:
		return "unix"
	}
}

// Signals are the facts Detect looks at
type Signals struct {
	// WSLMarker is set when the kernel or environment identifies WSL
	WSLMarker bool

	// GOOS of the running binary
	GOOS string
}

// Detect classifies the host. Rules are checked in order and the first match wins.
func Detect(s Signals) Class {
	switch {
	case s.WSLMarker:
		return WSL
	case s.GOOS == "windows":
		return NativeWindows
	default:
		return Unix
	}
}

// wslMarkerFiles are kernel files whose contents mention "microsoft" under WSL
var wslMarkerFiles = []string{
	"/proc/sys/kernel/osrelease",
	"/proc/version",
}

// ProbeSignals gathers detection signals from the running system
func ProbeSignals() Signals {
	return Signals{
		WSLMarker: hasWSLMarker(os.Getenv, os.ReadFile),
		GOOS:      runtime.GOOS,
	}
}

func hasWSLMarker(getenv func(string) string, readFile func(string) ([]byte, error)) bool {
	if getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	for _, path := range wslMarkerFiles {
		data, err := readFile(path)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), "microsoft") {
			return true
		}
	}
	return false
}

// Translate maps a host path to the path the container runtime must receive
// for a bind mount.
func Translate(hostPath string, class Class) string {
	if class != WSL {
		return hostPath
	}

	p := strings.ReplaceAll(hostPath, `\`, "/")
	if isDrivePath(p) {
		drive := strings.ToLower(p[:1])
		rest := p[2:]
		if rest != "" && !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return "/mnt/" + drive + rest
	}
	return p
}

// Resolve turns a user supplied path into an absolute host path. Under WSL a
// Windows drive path is translated first so it can be stat'ed from Linux.
func Resolve(raw string, class Class) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}
	p := raw
	if class == WSL && isDrivePath(strings.ReplaceAll(p, `\`, "/")) {
		p = Translate(p, class)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", raw, err)
	}
	return abs, nil
}

func isDrivePath(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
