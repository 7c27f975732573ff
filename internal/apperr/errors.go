// Package apperr defines the build error taxonomy shared across packages.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	// ErrConfig marks an invalid path/flag combination. Detected before
	// any graph construction; fatal.
	ErrConfig = errors.New("config error")
	// ErrCycle marks an include/src cycle. Fatal for the affected nodes
	// only; unaffected targets still build.
	ErrCycle = errors.New("dependency cycle")
	// ErrScan marks malformed directive syntax; the node is marked
	// build-failed and the build continues.
	ErrScan = errors.New("scan error")
	// ErrBuild marks a copy/render/compile/run failure; the node is marked
	// build-failed, dependents are blocked, siblings are unaffected.
	ErrBuild = errors.New("build action error")
)

// Config returns a formatted configuration error.
func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// CycleError reports a dependency cycle with the full node path that
// closes it.
type CycleError struct {
	// Cycle lists the node paths along the cycle, first == last.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// ScanError reports a malformed directive in a markdown file.
type ScanError struct {
	Path string
	Line int
	Msg  string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%v: %s:%d: %s", ErrScan, e.Path, e.Line, e.Msg)
}

func (e *ScanError) Unwrap() error { return ErrScan }

// BuildError reports a failed build action for a single node.
type BuildError struct {
	Path string
	// Blocked is true when the node itself is fine but an upstream
	// prerequisite failed, so it could not be built with fresh data.
	// Err then names the failing prerequisite.
	Blocked bool
	Err     error
}

func (e *BuildError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("%v: %s: blocked by failed dependency: %v", ErrBuild, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrBuild, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return ErrBuild }
