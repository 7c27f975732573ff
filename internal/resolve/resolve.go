// Package resolve maps raw input arguments plus output configuration to
// canonical output paths, and rejects layouts that would make a build
// write into its own watch set.
package resolve

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/md2html/internal/apperr"
)

// Resolver owns the input→output path mapping for one build session.
type Resolver struct {
	// base is the directory input paths are taken relative to when
	// replicating structure under the output root.
	base string
	// outputRoot is the absolute output directory, or the absolute
	// output file in single-file mode. Empty means in-place conversion.
	outputRoot string
	// outputIsFile marks the single-input, explicit-output-file case.
	outputIsFile bool
	inputs       []string
	dirRoots     []string
}

// New validates the input/output/recursive combination and constructs a
// resolver. All returned errors are ConfigErrors; nothing is built or
// read before they surface.
func New(inputs []string, output string, recursive bool) (*Resolver, error) {
	if len(inputs) == 0 {
		return nil, apperr.Config("no input files specified")
	}

	abs := make([]string, 0, len(inputs))
	var dirRoots []string
	for _, in := range inputs {
		a, err := filepath.Abs(in)
		if err != nil {
			return nil, apperr.Config("resolve input %s: %v", in, err)
		}
		info, err := os.Stat(a)
		if err != nil {
			return nil, apperr.Config("input %s does not exist", in)
		}
		if info.IsDir() {
			if !recursive {
				return nil, apperr.Config("%s is a directory, but recursive mode is not enabled", in)
			}
			dirRoots = append(dirRoots, a)
		}
		abs = append(abs, a)
	}

	r := &Resolver{inputs: abs, dirRoots: dirRoots}

	if output != "" {
		o, err := filepath.Abs(output)
		if err != nil {
			return nil, apperr.Config("resolve output %s: %v", output, err)
		}
		r.outputRoot = o
	}

	switch {
	case len(abs) == 1 && isFile(abs[0]):
		r.base = filepath.Dir(abs[0])
		// A single file with an output path carrying an extension maps
		// 1:1 onto that file.
		if r.outputRoot != "" && filepath.Ext(r.outputRoot) != "" {
			r.outputIsFile = true
		}
	case len(abs) == 1:
		r.base = abs[0]
	default:
		r.base = commonAncestor(abs)
	}

	// An output directory nested inside a watched input root (or the
	// reverse) makes every build feed the watcher that triggered it.
	// The one exception: an underscore- or dot-prefixed output like
	// `_site` is skipped by both the walk and the watcher, so `-r . -o
	// _site` stays legal.
	if r.outputRoot != "" && !r.outputIsFile {
		for _, root := range dirRoots {
			if isAncestor(r.outputRoot, root) || root == r.outputRoot {
				return nil, apperr.Config("output directory %s overlaps watched input %s", r.outputRoot, root)
			}
			if isAncestor(root, r.outputRoot) {
				rel, _ := filepath.Rel(root, r.outputRoot)
				if !hiddenRel(rel) {
					return nil, apperr.Config("output directory %s is inside watched input %s", r.outputRoot, root)
				}
			}
		}
	}

	return r, nil
}

// Inputs returns the absolute input paths in argument order.
func (r *Resolver) Inputs() []string { return r.inputs }

// DirRoots returns the absolute input directories (the watch roots).
func (r *Resolver) DirRoots() []string { return r.dirRoots }

// Base returns the directory relative paths are computed against.
func (r *Resolver) Base() string { return r.base }

// OutputRoot returns the absolute output directory, or "" for in-place.
func (r *Resolver) OutputRoot() string {
	if r.outputIsFile {
		return filepath.Dir(r.outputRoot)
	}
	return r.outputRoot
}

// OutputPath maps an absolute input path to its destination. Markdown
// sources map to .html; everything else keeps its name.
func (r *Resolver) OutputPath(input string) (string, error) {
	if r.outputIsFile {
		return r.outputRoot, nil
	}

	rel, err := filepath.Rel(r.base, input)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperr.Config("%s is not under base input path %s", input, r.base)
	}

	var out string
	if r.outputRoot == "" {
		out = input
	} else {
		out = filepath.Join(r.outputRoot, rel)
	}
	if strings.EqualFold(filepath.Ext(out), ".md") {
		out = out[:len(out)-len(filepath.Ext(out))] + ".html"
	}
	return out, nil
}

// commonAncestor returns the deepest directory containing every path.
func commonAncestor(paths []string) string {
	parts := strings.Split(filepath.ToSlash(dirOf(paths[0])), "/")
	for _, p := range paths[1:] {
		other := strings.Split(filepath.ToSlash(dirOf(p)), "/")
		i := 0
		for i < len(parts) && i < len(other) && parts[i] == other[i] {
			i++
		}
		parts = parts[:i]
	}
	if len(parts) == 0 {
		return string(filepath.Separator)
	}
	anc := strings.Join(parts, "/")
	if anc == "" {
		anc = "/"
	}
	return filepath.FromSlash(anc)
}

func dirOf(p string) string {
	if isFile(p) {
		return filepath.Dir(p)
	}
	return p
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func isAncestor(parent, child string) bool {
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// hiddenRel reports whether any component of a relative path is
// underscore- or dot-prefixed (and therefore excluded from walk/watch).
func hiddenRel(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
