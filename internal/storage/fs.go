// Package storage provides the file-system primitives the builder relies
// on: escape-guarded source reads and atomic output writes.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Inputs reads source files for a build session. Reads are confined to
// the base input directory unless external references are explicitly
// allowed by configuration.
type Inputs struct {
	base          string
	allowExternal bool
}

// NewInputs creates a reader rooted at base (absolute path).
func NewInputs(base string, allowExternal bool) *Inputs {
	return &Inputs{base: base, allowExternal: allowExternal}
}

// Resolve turns a directive reference into an absolute path. Relative
// references resolve against the directory of the referencing file.
// References escaping the input root are rejected unless configured
// otherwise.
func (in *Inputs) Resolve(ref, from string) (string, error) {
	abs := ref
	if !filepath.IsAbs(ref) {
		abs = filepath.Join(filepath.Dir(from), ref)
	}
	abs = filepath.Clean(abs)
	if !in.allowExternal && !underDir(in.base, abs) {
		return "", fmt.Errorf("storage: %s escapes input root %s", ref, in.base)
	}
	return abs, nil
}

// Read returns the raw bytes of the file at abs.
func (in *Inputs) Read(abs string) ([]byte, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", abs, err)
	}
	return data, nil
}

// WriteAtomic writes content to path via tmp file → fsync → rename,
// creating parent directories as needed. A crash mid-write never leaves
// a truncated output file behind.
func WriteAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".md2html-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// CopyAtomic byte-copies src to dst with the same atomicity guarantees
// as WriteAtomic.
func CopyAtomic(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("storage: read %s: %w", src, err)
	}
	return WriteAtomic(dst, data)
}

func underDir(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator))
}
