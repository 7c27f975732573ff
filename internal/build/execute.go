package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/md2html/internal/apperr"
	"github.com/starford/md2html/internal/graph"
	"github.com/starford/md2html/internal/storage"
)

// runExecute materializes an execute node: compile (if the language
// needs it), run, capture stdout to the node's output file. Scratch
// sources are recreated on every build; only the captured output
// persists. Each
// step is bounded by the configured timeout and killed on expiry, and a
// cancelled run discards its buffered output instead of writing a
// truncated file.
func (s *Scheduler) runExecute(ctx context.Context, n *graph.Node) error {
	src := ""
	if n.Exec != nil && n.Exec.InlineBody != "" {
		tmp, cleanup, err := s.writeInlineSource(n)
		if err != nil {
			return &apperr.BuildError{Path: n.Source, Err: err}
		}
		defer cleanup()
		src = tmp
	} else {
		src = s.execSource(n)
		if src == "" {
			return &apperr.BuildError{Path: n.Source, Err: errors.New("execute node has no program source")}
		}
	}

	cmdSpec, ok := commandFor(src, s.opts.Commands)
	if !ok {
		return &apperr.BuildError{Path: n.Source, Err: fmt.Errorf("no build command for %s", filepath.Ext(src))}
	}

	// The compiled binary is scratch state; only the captured output
	// belongs in the published tree.
	scratch, err := os.MkdirTemp("", "md2html-exec-")
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	defer os.RemoveAll(scratch)
	exe := filepath.Join(scratch, stem(src)+".bin")

	if err := os.MkdirAll(filepath.Dir(n.Output), 0o755); err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}

	n.Exec.CompileCmd = expandCommand(cmdSpec.Compile, src, exe)
	n.Exec.RunCmd = expandCommand(cmdSpec.Run, src, exe)

	if cmdSpec.Compile != "" {
		if _, err := s.runStep(ctx, n.Exec.CompileCmd, filepath.Dir(src)); err != nil {
			return &apperr.BuildError{Path: n.Source, Err: fmt.Errorf("compile: %w", err)}
		}
	}

	stdout, err := s.runStep(ctx, n.Exec.RunCmd, filepath.Dir(src))
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: fmt.Errorf("run: %w", err)}
	}

	if err := storage.WriteAtomic(n.Output, stdout); err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	return nil
}

// writeInlineSource spills a src_begin block to a scratch file so the
// command table can address it like any program.
func (s *Scheduler) writeInlineSource(n *graph.Node) (string, func(), error) {
	ext := n.Exec.Lang
	if ext == "" {
		ext = "sh"
	}
	tmp, err := os.CreateTemp("", "md2html-block-*."+ext)
	if err != nil {
		return "", nil, err
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(n.Exec.InlineBody); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}

// runStep runs one shell command with the configured timeout, capturing
// stdout. A timed-out or cancelled process is killed, never left
// running.
func (s *Scheduler) runStep(ctx context.Context, cmdStr, dir string) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, "sh", "-c", cmdStr)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if stepCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%q timed out after %s", cmdStr, s.opts.ExecTimeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%q: %w: %s", cmdStr, err, firstLines(msg, 5))
		}
		return nil, fmt.Errorf("%q: %w", cmdStr, err)
	}
	return stdout.Bytes(), nil
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
