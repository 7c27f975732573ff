package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/md2html/internal/apperr"
	"github.com/starford/md2html/internal/checksum"
	"github.com/starford/md2html/internal/graph"
	"github.com/starford/md2html/internal/parser"
	"github.com/starford/md2html/internal/scan"
	"github.com/starford/md2html/internal/storage"
)

// runCopy byte-copies a node to its destination, skipping the write when
// source and destination already hash identically.
func (s *Scheduler) runCopy(n *graph.Node) error {
	if s.opts.NoOverwrite && fileExists(n.Output) {
		return nil
	}
	srcSum, err := checksum.SumFile(n.Source)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	if dstSum, err := checksum.SumFile(n.Output); err == nil && dstSum == srcSum {
		return nil
	}
	if err := storage.CopyAtomic(n.Source, n.Output); err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	return nil
}

// runMarkdown gathers the node's resolved include bodies and execution
// outputs, renders the result to HTML, and writes the page.
func (s *Scheduler) runMarkdown(ctx context.Context, n *graph.Node) error {
	if s.opts.NoOverwrite && fileExists(n.Output) {
		return nil
	}

	data, err := s.in.Read(n.Source)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	pr, err := parser.Parse(data)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}

	body, err := s.expandText(n.Source, pr.Body, map[string]bool{n.Source: true})
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}

	content, err := s.renderer.Markdown([]byte(body))
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	title := pr.Title
	if title == "" {
		title = stem(n.Source)
	}
	page, err := s.renderer.Page(content, title, pr.Template, pr.Frontmatter)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	if err := storage.WriteAtomic(n.Output, []byte(page)); err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	return nil
}

// runTemplate renders a standalone HTML template with site variables.
func (s *Scheduler) runTemplate(n *graph.Node) error {
	if s.opts.NoOverwrite && fileExists(n.Output) {
		return nil
	}
	page, err := s.renderer.Template(n.Source, nil)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	if err := storage.WriteAtomic(n.Output, []byte(page)); err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	return nil
}

// expandText substitutes the directives of one markdown body: includes
// are spliced recursively, src references become snippets plus captured
// output. visited bounds include recursion within this expansion.
func (s *Scheduler) expandText(path, body string, visited map[string]bool) (string, error) {
	directives, err := scan.File(path, []byte(body))
	if err != nil {
		return "", err
	}
	if len(directives) == 0 {
		return body, nil
	}

	byLine := make(map[int]scan.Directive, len(directives))
	for _, d := range directives {
		byLine[d.Line] = d
	}

	lines := strings.Split(body, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		d, ok := byLine[i+1]
		if !ok {
			out = append(out, lines[i])
			continue
		}
		repl, err := s.expandDirective(path, d, visited)
		if err != nil {
			return "", err
		}
		out = append(out, repl)
		i = d.EndLine - 1
	}
	return strings.Join(out, "\n"), nil
}

func (s *Scheduler) expandDirective(path string, d scan.Directive, visited map[string]bool) (string, error) {
	switch d.Kind {
	case scan.Include:
		return s.expandInclude(path, d, visited)
	case scan.Src:
		return s.expandSrc(path, d)
	case scan.SrcInline:
		return s.expandInline(path, d)
	default:
		return "", fmt.Errorf("unhandled directive kind %v", d.Kind)
	}
}

func (s *Scheduler) expandInclude(path string, d scan.Directive, visited map[string]bool) (string, error) {
	ref, err := s.in.Resolve(d.Path, path)
	if err != nil {
		return "", err
	}
	if visited[ref] {
		// Cycles are rejected at edge insertion; a repeat here is a
		// diamond, include each body once per expansion site.
		return "", nil
	}
	visited[ref] = true
	defer delete(visited, ref)

	data, err := s.in.Read(ref)
	if err != nil {
		return "", err
	}
	if filepath.Ext(ref) != ".md" {
		return string(data), nil
	}
	pr, err := parser.Parse(data)
	if err != nil {
		return "", err
	}
	return s.expandText(ref, pr.Body, visited)
}

func (s *Scheduler) expandSrc(path string, d scan.Directive) (string, error) {
	ref, err := s.in.Resolve(d.Path, path)
	if err != nil {
		return "", err
	}
	code, err := s.in.Read(ref)
	if err != nil {
		return "", err
	}

	lang := d.Opts["lang"]
	if lang == "" {
		lang = strings.TrimPrefix(filepath.Ext(ref), ".")
	}

	var b strings.Builder
	writeFence(&b, lang, string(code))

	if s.opts.Execute {
		if execNode, ok := s.g.Node(ref + "#exec"); ok {
			out, err := s.in.Read(execNode.Output)
			if err != nil {
				return "", fmt.Errorf("execution output missing for %s: %w", ref, err)
			}
			b.WriteString("\nOutput:\n\n")
			writeFence(&b, "", string(out))
		}
	}
	return b.String(), nil
}

func (s *Scheduler) expandInline(path string, d scan.Directive) (string, error) {
	var b strings.Builder
	writeFence(&b, d.Opts["lang"], d.Body)

	if s.opts.Execute {
		h := checksum.Sum(fmt.Appendf(nil, "%s:%d", path, d.Ordinal))[:12]
		if execNode, ok := s.g.Node(fmt.Sprintf("%s#block-%s", path, h)); ok {
			out, err := s.in.Read(execNode.Output)
			if err != nil {
				return "", fmt.Errorf("execution output missing for block %d: %w", d.Ordinal, err)
			}
			b.WriteString("\nOutput:\n\n")
			writeFence(&b, "", string(out))
		}
	}
	return b.String(), nil
}

func writeFence(b *strings.Builder, lang, body string) {
	b.WriteString("```")
	b.WriteString(lang)
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n```")
}
