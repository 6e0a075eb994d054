//go:build !unix

package bootstrap

import (
	"fmt"
	"runtime"
)

func execProcess(string, []string, []string) error {
	return fmt.Errorf("process replacement is not supported on %s; the entrypoint runs inside a linux container", runtime.GOOS)
}
