// Package logs sets up logging for each phase of a launch. Every phase gets
// its own timestamped plain-text file under the data directory, next to the
// terminal output, so the record survives container teardown.
package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
)

// Retention is how long phase logs are kept
const Retention = 7 * 24 * time.Hour

const timestampLayout = "20060102-150405"

// Dir returns the log directory for a data directory
func Dir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// WithLogger installs a charm logger writing to w on ctx and as the slog default
func WithLogger(ctx context.Context, w io.Writer, level slag.Level) context.Context {
	l := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: true,
	})
	slog.SetDefault(slog.New(l))
	return clog.WithLogger(ctx, clog.New(l))
}

// Phase is an open phase log file
type Phase struct {
	Path string
	file *os.File
}

// Close closes the underlying file
func (p *Phase) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	return p.file.Close()
}

// Open prunes expired logs in the data directory, then opens a new log file
// for phase and returns a context whose logger writes to both term and the file.
func Open(ctx context.Context, dataDir, phase string, term io.Writer, level slag.Level, now time.Time) (context.Context, *Phase, error) {
	dir := Dir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ctx, nil, fmt.Errorf("creating log dir: %w", err)
	}

	if n, err := Cleanup(dir, Retention, now); err != nil {
		clog.FromContext(ctx).Warn("pruning old logs", "dir", dir, "error", err)
	} else if n > 0 {
		clog.FromContext(ctx).Debug("pruned old logs", "dir", dir, "removed", n)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", sanitizePhase(phase), now.Format(timestampLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ctx, nil, fmt.Errorf("opening log file: %w", err)
	}

	ctx = WithLogger(ctx, io.MultiWriter(term, f), level)
	return ctx, &Phase{Path: path, file: f}, nil
}

// Cleanup removes regular files in dir last modified before now-retention.
// It returns the number of files removed.
func Cleanup(dir string, retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading log dir: %w", err)
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func sanitizePhase(phase string) string {
	phase = strings.TrimSpace(phase)
	if phase == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' || r == ':' {
			return '-'
		}
		return r
	}, phase)
}
