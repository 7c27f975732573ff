// Package scan extracts @include/@src build directives from markdown
// text. Scanning is a single linear pass over lines with an explicit
// inside-fence/outside-fence state, so directive-looking strings quoted
// in fenced example blocks stay inert.
package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/md2html/internal/apperr"
)

// Kind discriminates directive variants.
type Kind int

const (
	// Include is @include(path): splice the referenced file's rendered
	// body at the directive site.
	Include Kind = iota
	// Src is @src(path, opts): execute the referenced program and splice
	// its captured output.
	Src
	// SrcInline is @src_begin(opts) … @src_end(): like Src but with the
	// code taken from the enclosed block.
	SrcInline
)

func (k Kind) String() string {
	switch k {
	case Include:
		return "include"
	case Src:
		return "src"
	case SrcInline:
		return "src-inline"
	default:
		return "unknown"
	}
}

// Directive is one reference found in a markdown file, in document order.
type Directive struct {
	Kind Kind
	// Path is the referenced file, as written (resolution against the
	// containing file's directory is the caller's job). Empty for
	// SrcInline.
	Path string
	Opts map[string]string
	Line int
	// EndLine is the last source line the directive spans; equal to
	// Line except for SrcInline blocks, where it is the @src_end line.
	EndLine int
	// Body is the code block of a SrcInline directive.
	Body string
	// Ordinal numbers SrcInline blocks within the file, 0-based, stable
	// across rescans.
	Ordinal int
}

var (
	directiveRe = regexp.MustCompile(`^@(include|src)\s*\(\s*([^,()]+?)\s*(?:,\s*(.+?)\s*)?\)\s*$`)
	beginRe     = regexp.MustCompile(`^@src_begin\s*\(\s*(.*?)\s*\)\s*$`)
	endRe       = regexp.MustCompile(`^@src_end\s*\(\s*\)\s*$`)
	fenceRe     = regexp.MustCompile("^(```|~~~)")
)

// File scans the given markdown text and returns its directives in
// order. path is used only for error reporting.
func File(path string, content []byte) ([]Directive, error) {
	var (
		out      []Directive
		inFence  bool
		inBlock  bool
		blockAt  int
		block    Directive
		bodyBuf  []string
		ordinals int
	)

	lines := strings.Split(string(content), "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)

		if inBlock {
			if endRe.MatchString(line) {
				block.Body = strings.Join(bodyBuf, "\n")
				block.EndLine = lineNo
				out = append(out, block)
				inBlock = false
				bodyBuf = nil
				continue
			}
			bodyBuf = append(bodyBuf, raw)
			continue
		}

		if fenceRe.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if m := directiveRe.FindStringSubmatch(line); m != nil {
			d := Directive{
				Path:    strings.Trim(m[2], `"'`),
				Opts:    parseOpts(m[3]),
				Line:    lineNo,
				EndLine: lineNo,
			}
			if m[1] == "include" {
				d.Kind = Include
			} else {
				d.Kind = Src
			}
			if d.Path == "" {
				return nil, &apperr.ScanError{Path: path, Line: lineNo, Msg: "empty directive path"}
			}
			out = append(out, d)
			continue
		}

		if m := beginRe.FindStringSubmatch(line); m != nil {
			block = Directive{
				Kind:    SrcInline,
				Opts:    parseOpts(m[1]),
				Line:    lineNo,
				Ordinal: ordinals,
			}
			ordinals++
			inBlock = true
			blockAt = lineNo
			continue
		}

		// A line that starts like a directive but failed to parse is a
		// hard scan error, not silently-literal text.
		if strings.HasPrefix(line, "@include") || strings.HasPrefix(line, "@src") {
			return nil, &apperr.ScanError{Path: path, Line: lineNo, Msg: fmt.Sprintf("malformed directive: %s", line)}
		}
	}

	if inBlock {
		return nil, &apperr.ScanError{Path: path, Line: blockAt, Msg: "@src_begin without matching @src_end"}
	}
	return out, nil
}

// parseOpts parses a comma-separated key=value option list. Bare words
// become key=true flags.
func parseOpts(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	opts := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			opts[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
		} else {
			opts[part] = "true"
		}
	}
	return opts
}
