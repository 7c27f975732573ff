package graph

import (
	"path/filepath"
	"strings"
)

// Classify assigns an action kind to a path discovered during the walk.
// The path should be relative to the input tree so that hidden
// ancestors of the configured root do not count as components.
// explicit is true when the path was named directly on the command
// line; explicitly named underscore files are buildable, walked ones
// are notify-only.
func Classify(path string, explicit bool) ActionKind {
	if !explicit && HasHiddenComponent(path) {
		return NotifyOnly
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return Markdown
	case ".html":
		return Template
	default:
		return Copy
	}
}

// HasHiddenComponent reports whether any path component starts with an
// underscore or a dot. Such paths are excluded from the bare walk.
func HasHiddenComponent(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "." || part == ".." || part == "" {
			continue
		}
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
