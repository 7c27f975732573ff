// Package build discovers targets, assembles the dependency graph, and
// schedules build actions over it.
package build

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/md2html/internal/apperr"
	"github.com/starford/md2html/internal/checksum"
	"github.com/starford/md2html/internal/graph"
	"github.com/starford/md2html/internal/resolve"
	"github.com/starford/md2html/internal/scan"
	"github.com/starford/md2html/internal/storage"
)

// Planner walks the configured inputs, classifies each discovered file,
// scans markdown for directives, and grows the graph with the resulting
// nodes and edges. It is the single writer of graph structure; the
// scheduler only flips node status.
type Planner struct {
	g      *graph.BuildTargets
	res    *resolve.Resolver
	in     *storage.Inputs
	scans  *scan.Cache
	logger *slog.Logger

	execute  bool
	excludes map[string]bool
	// outputs tracks claimed output paths for md/html conflict detection.
	outputs map[string]string
}

// NewPlanner creates a planner over an empty graph.
func NewPlanner(res *resolve.Resolver, in *storage.Inputs, scans *scan.Cache, logger *slog.Logger, execute bool, excludes []string) *Planner {
	ex := make(map[string]bool, len(excludes))
	for _, e := range excludes {
		ex[e] = true
	}
	return &Planner{
		g:        graph.New(),
		res:      res,
		in:       in,
		scans:    scans,
		logger:   logger,
		execute:  execute,
		excludes: ex,
		outputs:  make(map[string]string),
	}
}

// Graph returns the graph under construction.
func (p *Planner) Graph() *graph.BuildTargets { return p.g }

// Plan discovers all targets for the session's inputs. Scan and cycle
// errors affect only the node that produced them (it is marked failed);
// they are logged and counted, never fatal.
func (p *Planner) Plan() error {
	for _, input := range p.res.Inputs() {
		if isDir(input) {
			if err := p.WalkDir(input); err != nil {
				return err
			}
			continue
		}
		// Directly-named files are explicit: `md2html _draft.md` builds
		// `_draft.html` even though the walk would skip it.
		if _, err := p.addPath(input, true); err != nil {
			return err
		}
	}
	return nil
}

// WalkDir discovers every buildable file under dir. Also used by the
// watch driver to pick up files that appeared after the initial walk.
func (p *Planner) WalkDir(dir string) error {
	outRoot := p.res.OutputRoot()
	dirNode := p.g.AddNode(&graph.Node{Source: dir, Kind: graph.NotifyOnly})

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			// Never walk into the output tree or excluded directories.
			if path == outRoot || p.excludes[d.Name()] {
				return filepath.SkipDir
			}
			if graph.HasHiddenComponent(d.Name()) {
				return filepath.SkipDir
			}
			// Recurse explicitly so files link to their nearest parent
			// directory node.
			if err := p.WalkDir(path); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		if graph.HasHiddenComponent(d.Name()) {
			// Notify-only: tracked for watch propagation, never built.
			n := p.g.AddNode(&graph.Node{Source: path, Kind: graph.NotifyOnly})
			return p.g.AddEdge(n.Source, dirNode.Source, graph.RelCopyParent)
		}
		n, aerr := p.addPath(path, false)
		if aerr != nil {
			return aerr
		}
		if n != nil {
			return p.g.AddEdge(n.Source, dirNode.Source, graph.RelCopyParent)
		}
		return nil
	})
}

// addPath classifies one file, creates its node, and (for markdown)
// scans it for directives. Returns nil without error when the path was
// subsumed by a conflicting target.
func (p *Planner) addPath(path string, explicit bool) (*graph.Node, error) {
	kind := graph.Classify(p.relPath(path), explicit)

	n := &graph.Node{Source: path, Kind: kind}
	if kind != graph.NotifyOnly {
		out, err := p.res.OutputPath(path)
		if err != nil {
			return nil, err
		}
		// A copy target whose destination equals its source has nothing
		// to do (in-place mode).
		if kind == graph.Copy && out == path {
			n.Kind = graph.NotifyOnly
		} else {
			n.Output = out
		}
	}

	if !p.claimOutput(n) {
		return nil, nil
	}
	n = p.g.AddNode(n)

	if filepath.Ext(path) == ".md" {
		if err := p.ScanMarkdown(n, map[string]bool{}); err != nil {
			p.failNode(n, err)
		}
	}
	return n, nil
}

// claimOutput enforces the md/html same-output conflict policy: one
// warning, markdown wins.
func (p *Planner) claimOutput(n *graph.Node) bool {
	if n.Output == "" {
		return true
	}
	prev, taken := p.outputs[n.Output]
	if !taken {
		p.outputs[n.Output] = n.Source
		return true
	}
	if prev == n.Source {
		return true
	}
	p.logger.Warn("output conflict; markdown target wins",
		slog.String("output", n.Output),
		slog.String("kept", prev),
		slog.String("dropped", n.Source))
	if n.Kind == graph.Markdown {
		// Demote the previously claimed template node and take over.
		if old, ok := p.g.Node(prev); ok && old.Kind == graph.Template {
			old.Kind = graph.NotifyOnly
			old.Output = ""
			p.outputs[n.Output] = n.Source
			return true
		}
	}
	return false
}

// ScanMarkdown reads one markdown node, extracts its directives, and
// inserts the corresponding nodes and edges. visited bounds recursion
// within the current traversal: a path seen once is not re-scanned, so
// an include cycle surfaces as a graph error instead of infinite
// recursion.
func (p *Planner) ScanMarkdown(n *graph.Node, visited map[string]bool) error {
	if visited[n.Source] {
		return nil
	}
	visited[n.Source] = true

	data, err := p.in.Read(n.Source)
	if err != nil {
		return &apperr.BuildError{Path: n.Source, Err: err}
	}
	sum := checksum.Sum(data)

	directives, err := p.scans.File(n.Source, sum, data)
	if err != nil {
		return err
	}

	for _, d := range directives {
		switch d.Kind {
		case scan.Include:
			if err := p.addInclude(n, d, visited); err != nil {
				return err
			}
		case scan.Src:
			if err := p.addSrc(n, d, visited); err != nil {
				return err
			}
		case scan.SrcInline:
			p.addInlineSrc(n, d)
		}
	}
	return nil
}

func (p *Planner) addInclude(n *graph.Node, d scan.Directive, visited map[string]bool) error {
	ref, err := p.in.Resolve(d.Path, n.Source)
	if err != nil {
		return &apperr.ScanError{Path: n.Source, Line: d.Line, Msg: err.Error()}
	}

	target := p.refNode(ref)
	if err := p.g.AddEdge(n.Source, target.Source, graph.RelInclude); err != nil {
		return err
	}
	if filepath.Ext(ref) == ".md" {
		if err := p.ScanMarkdown(target, visited); err != nil {
			p.failNode(target, err)
		}
	}
	return nil
}

func (p *Planner) addSrc(n *graph.Node, d scan.Directive, visited map[string]bool) error {
	ref, err := p.in.Resolve(d.Path, n.Source)
	if err != nil {
		return &apperr.ScanError{Path: n.Source, Line: d.Line, Msg: err.Error()}
	}

	raw := p.refNode(ref)

	if !p.execute {
		// Directive stays inert: the snippet renders from the raw file,
		// so an include edge keeps watch propagation working without a
		// derived execute node.
		return p.g.AddEdge(n.Source, raw.Source, graph.RelInclude)
	}

	// Derived execute nodes get a synthetic key so a program that is
	// also a walked copy target keeps its own node.
	key := ref + "#exec"
	exec := p.g.AddNode(&graph.Node{
		Source: key,
		Output: p.execOutput(n, "_"+stem(ref)+".out"),
		Kind:   graph.Execute,
		Exec:   &graph.ExecSpec{},
	})
	if err := p.g.AddEdge(exec.Source, raw.Source, graph.RelSrc); err != nil {
		return err
	}
	return p.g.AddEdge(n.Source, exec.Source, graph.RelSrc)
}

func (p *Planner) addInlineSrc(n *graph.Node, d scan.Directive) {
	// Keyed by a hash of (containing file, block ordinal): unique, and
	// stable across re-scans of the same file.
	h := checksum.Sum(fmt.Appendf(nil, "%s:%d", n.Source, d.Ordinal))[:12]
	key := fmt.Sprintf("%s#block-%s", n.Source, h)

	exec := p.g.AddNode(&graph.Node{
		Source: key,
		Output: p.execOutput(n, fmt.Sprintf("_%s_%d.out", stem(n.Source), d.Ordinal)),
		Kind:   graph.Execute,
		Exec:   &graph.ExecSpec{},
	})
	// AddNode returns the already registered node on a rescan; the body
	// and language must always follow the current scan, so an edited
	// block hashes dirty and re-executes.
	exec.Exec.InlineBody = d.Body
	exec.Exec.Lang = d.Opts["lang"]
	if err := p.g.AddEdge(n.Source, exec.Source, graph.RelSrc); err != nil {
		// A fresh inline node cannot close a cycle.
		p.logger.Error("inline src edge rejected", slog.String("error", err.Error()))
	}
}

// refNode returns (creating if needed) the node for a referenced file.
// Referenced underscore files stay notify-only: they never produce their
// own output, but regular files keep their walked classification.
func (p *Planner) refNode(ref string) *graph.Node {
	if n, ok := p.g.Node(ref); ok {
		return n
	}
	kind := graph.Classify(p.relPath(ref), false)
	n := &graph.Node{Source: ref, Kind: kind}
	if kind == graph.Copy || kind == graph.Template {
		// Files reachable only through a directive are not walk targets;
		// they feed their dependents without building independently.
		n.Kind = graph.NotifyOnly
	} else if kind == graph.Markdown {
		if out, err := p.res.OutputPath(ref); err == nil && !graph.HasHiddenComponent(p.relPath(ref)) {
			n.Output = out
		} else {
			n.Kind = graph.NotifyOnly
		}
	}
	if n.Kind == graph.Markdown && !p.claimOutput(n) {
		n.Kind = graph.NotifyOnly
		n.Output = ""
	}
	return p.g.AddNode(n)
}

// relPath strips the resolved base from a discovered path so the hidden
// rule sees only components inside the input tree. An input root that
// merely lives under a hidden ancestor directory is still buildable.
func (p *Planner) relPath(path string) string {
	rel, err := filepath.Rel(p.res.Base(), path)
	if err != nil {
		return path
	}
	return rel
}

// execOutput places a derived output file adjacent to the referencing
// markdown's own output (falling back to its source directory when the
// markdown has no output of its own).
func (p *Planner) execOutput(n *graph.Node, name string) string {
	dir := filepath.Dir(n.Source)
	if n.Output != "" {
		dir = filepath.Dir(n.Output)
	}
	return filepath.Join(dir, name)
}

func (p *Planner) failNode(n *graph.Node, err error) {
	n.SetStatus(graph.StatusFailed)
	switch {
	case errors.Is(err, apperr.ErrCycle):
		p.logger.Error("dependency cycle", slog.String("path", n.Source), slog.String("error", err.Error()))
	case errors.Is(err, apperr.ErrScan):
		p.logger.Error("directive scan failed", slog.String("path", n.Source), slog.String("error", err.Error()))
	default:
		p.logger.Error("plan failed", slog.String("path", n.Source), slog.String("error", err.Error()))
	}
}

// Rescan re-derives a changed markdown node's edges. Stale include/src
// edges are dropped first so removed directives disappear from the
// graph.
func (p *Planner) Rescan(n *graph.Node) error {
	p.g.DropEdgesFrom(n.Source)
	return p.ScanMarkdown(n, map[string]bool{})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
