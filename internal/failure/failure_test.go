package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(DataDirUnwritable, cause, "creating data dir").WithHint("check permissions on %s", "/data")

	if err.Error() != "creating data dir: permission denied" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}

	wrapped := fmt.Errorf("preflight: %w", err)
	if k, ok := KindOf(wrapped); !ok || k != DataDirUnwritable {
		t.Errorf("KindOf() = %q, %v", k, ok)
	}
	if !errors.Is(wrapped, New(DataDirUnwritable, "")) {
		t.Error("expected kind match through errors.Is")
	}
	if errors.Is(wrapped, New(TargetNotFound, "")) {
		t.Error("unexpected match for different kind")
	}
	if got := HintOf(wrapped); got != "check permissions on /data" {
		t.Errorf("HintOf() = %q", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should have no kind")
	}
	if HintOf(errors.New("plain")) != "" {
		t.Error("plain error should have no hint")
	}
}

func TestIsWarning(t *testing.T) {
	for _, k := range []Kind{MountUnverified, SmokeTestFailed} {
		if !IsWarning(k) {
			t.Errorf("%s should be a warning", k)
		}
	}
	for _, k := range []Kind{RuntimeNotInstalled, RuntimeNotRunning, TargetNotFound, MissingCredential, DataDirUnwritable, ConfigWriteFailed, ConfigInvalid} {
		if IsWarning(k) {
			t.Errorf("%s should be fatal", k)
		}
	}
}
