// Package sandbox pre-checks plugin sources in an isolated child process.
// A plugin that crashes, hangs, or panics during evaluation takes down the
// probe process, never the host. The child evaluates the plugin and writes
// a single JSON result line to stdout.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultImportTimeout bounds the probe when the caller gives none.
const DefaultImportTimeout = 800 * time.Millisecond

// Result is the probe's verdict, carried over stdout as one JSON line.
type Result struct {
	Success     bool            `json:"success"`
	Name        string          `json:"name,omitempty"`
	Version     string          `json:"version,omitempty"`
	APIVersion  string          `json:"api_version,omitempty"`
	Requires    []string        `json:"requires,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	Sandbox     bool            `json:"sandbox,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Sandbox spawns probe processes.
type Sandbox struct {
	log *zap.Logger

	// probeArgv is the command prefix the plugin path is appended to.
	// Defaults to re-execing the current binary with the probe subcommand.
	probeArgv []string
}

// New creates a Sandbox that re-executes the running binary for probes.
func New(log *zap.Logger) (*Sandbox, error) {
	if log == nil {
		log = zap.NewNop()
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving host binary: %w", err)
	}
	return &Sandbox{log: log, probeArgv: []string{exe, "probe"}}, nil
}

// NewWithArgv creates a Sandbox with an explicit probe command. Used by
// tests to stand in a scripted process for the real probe.
func NewWithArgv(log *zap.Logger, argv []string) *Sandbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sandbox{log: log, probeArgv: argv}
}

// SafeImport evaluates the plugin at path in a child process, bounded by
// timeout (<=0 uses DefaultImportTimeout). The returned Result reports
// whether the plugin is loadable and what its manifest declares. A nil
// error with Success=false means the plugin itself is broken; a non-nil
// error means the probe could not deliver a verdict.
func (s *Sandbox) SafeImport(ctx context.Context, path string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultImportTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string(nil), s.probeArgv...), path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		s.log.Warn("plugin probe timed out",
			zap.String("plugin", path),
			zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("%w: %s after %s", ErrImportTimeout, path, timeout)
	}
	if err != nil {
		s.log.Warn("plugin probe crashed",
			zap.String("plugin", path),
			zap.Error(err),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}

	res, perr := parseResult(stdout.Bytes())
	if perr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, perr)
	}

	s.log.Debug("plugin probe finished",
		zap.String("plugin", path),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

// parseResult scans probe output for the result line. The interpreter may
// emit plugin-side noise before it; the last parseable JSON object wins.
func parseResult(out []byte) (*Result, error) {
	var last *Result
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var r Result
		if err := json.Unmarshal(line, &r); err == nil {
			last = &r
		}
	}
	if last == nil {
		return nil, fmt.Errorf("no result line in probe output")
	}
	return last, nil
}
