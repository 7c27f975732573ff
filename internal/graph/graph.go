// Package graph maintains the build-target dependency DAG: one node per
// discovered file or derived artifact, edges for include/src/copy
// relations, and the upstream/downstream closures the scheduler and
// watcher traverse.
package graph

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/starford/md2html/internal/apperr"
)

// ActionKind is the closed set of build actions a node can carry.
type ActionKind int

const (
	// NotifyOnly nodes never produce output but can trigger rebuilds
	// of dependents (underscore-prefixed files reached by the bare walk).
	NotifyOnly ActionKind = iota
	// Copy nodes are byte-copied to their output path.
	Copy
	// Markdown nodes are rendered to HTML.
	Markdown
	// Execute nodes compile/run a program and capture its stdout.
	Execute
	// Template nodes are standalone HTML templates rendered with site
	// variables.
	Template
)

func (k ActionKind) String() string {
	switch k {
	case NotifyOnly:
		return "notify"
	case Copy:
		return "copy"
	case Markdown:
		return "markdown"
	case Execute:
		return "execute"
	case Template:
		return "template"
	default:
		return "unknown"
	}
}

// Relation tags a dependency edge.
type Relation int

const (
	// RelInclude is a markdown @include reference.
	RelInclude Relation = iota
	// RelSrc is a markdown @src reference to a derived execute node.
	RelSrc
	// RelCopyParent links a directory to a contained file; used only for
	// watch propagation, never for build ordering.
	RelCopyParent
)

func (r Relation) String() string {
	switch r {
	case RelInclude:
		return "include"
	case RelSrc:
		return "src"
	case RelCopyParent:
		return "copy-parent"
	default:
		return "unknown"
	}
}

// Status is a node's last-build state.
type Status int32

const (
	StatusNew Status = iota
	StatusBuilt
	StatusFailed
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "never-built"
	case StatusBuilt:
		return "built"
	case StatusFailed:
		return "build-failed"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ExecSpec describes how an Execute node materializes its output. It is
// recreated on every (re)build of the node; only the captured output file
// persists across runs.
type ExecSpec struct {
	CompileCmd string
	RunCmd     string
	// InlineBody holds the code of a src_begin/src_end block; empty for
	// @src(path) references to files on disk.
	InlineBody string
	// Lang selects the command table entry for inline blocks, as a file
	// extension without the dot ("py", "cpp").
	Lang string
}

// Node is one discovered filesystem entity or derived artifact.
type Node struct {
	// Source is the canonical (absolute) source path. For inline execute
	// blocks it is a synthetic key derived from the containing file and
	// block ordinal.
	Source string
	// Output is the canonical output path; empty for notify-only nodes.
	Output string
	Kind   ActionKind
	// Checksum of the source content as of the last successful build.
	Checksum string
	Exec     *ExecSpec

	status atomic.Int32
}

// Status returns the node's last-build status.
func (n *Node) Status() Status { return Status(n.status.Load()) }

// SetStatus atomically updates the node's last-build status.
func (n *Node) SetStatus(s Status) { n.status.Store(int32(s)) }

// BuildTargets owns all nodes and edges for one build session. It is
// mutated by the walk/scan phase and read concurrently by scheduler
// workers; node build status is the only field mutated during a build
// pass, through the atomic Status accessors.
type BuildTargets struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	// deps maps dependent -> prerequisite -> relation.
	deps map[string]map[string]Relation
	// rdeps maps prerequisite -> dependent -> relation.
	rdeps map[string]map[string]Relation
}

// New creates an empty build-target graph.
func New() *BuildTargets {
	return &BuildTargets{
		nodes: make(map[string]*Node),
		deps:  make(map[string]map[string]Relation),
		rdeps: make(map[string]map[string]Relation),
	}
}

// AddNode inserts a node keyed by its source path. Re-adding an existing
// path returns the existing node unchanged.
func (g *BuildTargets) AddNode(n *Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.nodes[n.Source]; ok {
		return existing
	}
	g.nodes[n.Source] = n
	g.order = append(g.order, n.Source)
	return n
}

// Node returns the node for the given source path, if present.
func (g *BuildTargets) Node(source string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[source]
	return n, ok
}

// Len returns the number of nodes.
func (g *BuildTargets) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns all nodes in insertion order.
func (g *BuildTargets) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.order))
	for _, p := range g.order {
		out = append(out, g.nodes[p])
	}
	return out
}

// AddEdge records that dependent requires prerequisite. Adding an existing
// edge is a no-op. For include/src relations the insertion is rejected
// with a CycleError naming the full cycle it would close.
func (g *BuildTargets) AddEdge(dependent, prerequisite string, rel Relation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.deps[dependent][prerequisite]; ok && cur == rel {
		return nil
	}
	if rel != RelCopyParent {
		if cycle := g.findPath(prerequisite, dependent); cycle != nil {
			return &apperr.CycleError{Cycle: append([]string{dependent}, cycle...)}
		}
	}
	if g.deps[dependent] == nil {
		g.deps[dependent] = make(map[string]Relation)
	}
	g.deps[dependent][prerequisite] = rel
	if g.rdeps[prerequisite] == nil {
		g.rdeps[prerequisite] = make(map[string]Relation)
	}
	g.rdeps[prerequisite][dependent] = rel
	return nil
}

// findPath returns the node path from `from` to `to` along include/src
// dependency edges, or nil if unreachable. Caller holds the lock.
func (g *BuildTargets) findPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	seen := map[string]bool{from: true}
	var dfs func(cur string) []string
	dfs = func(cur string) []string {
		for _, next := range sortedKeys(g.deps[cur]) {
			if g.deps[cur][next] == RelCopyParent {
				continue
			}
			if next == to {
				return []string{cur, next}
			}
			if seen[next] {
				continue
			}
			seen[next] = true
			if rest := dfs(next); rest != nil {
				return append([]string{cur}, rest...)
			}
		}
		return nil
	}
	return dfs(from)
}

// Prereqs returns a copy of dependent's outgoing edges.
func (g *BuildTargets) Prereqs(dependent string) map[string]Relation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Relation, len(g.deps[dependent]))
	for p, r := range g.deps[dependent] {
		out[p] = r
	}
	return out
}

// Dependents returns a copy of prerequisite's incoming edges.
func (g *BuildTargets) Dependents(prerequisite string) map[string]Relation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Relation, len(g.rdeps[prerequisite]))
	for d, r := range g.rdeps[prerequisite] {
		out[d] = r
	}
	return out
}

// DropEdgesFrom removes all outgoing include/src edges of dependent.
// Called before re-scanning a changed markdown file so stale references
// do not survive the rescan.
func (g *BuildTargets) DropEdgesFrom(dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p, rel := range g.deps[dependent] {
		if rel == RelCopyParent {
			continue
		}
		delete(g.deps[dependent], p)
		delete(g.rdeps[p], dependent)
	}
}

// UpstreamClosure returns every node reachable from source in the
// prerequisite direction (include/src edges), deduplicated, in
// reverse-topological order: deepest prerequisite first, source last.
// The sequence is directly buildable front to back.
func (g *BuildTargets) UpstreamClosure(source string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	seen := make(map[string]bool)
	var visit func(cur string)
	visit = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		for _, p := range sortedKeys(g.deps[cur]) {
			if g.deps[cur][p] == RelCopyParent {
				continue
			}
			visit(p)
		}
		if n, ok := g.nodes[cur]; ok {
			out = append(out, n)
		}
	}
	visit(source)
	return out
}

// DownstreamClosure returns source's node plus every node that depends on
// it, directly or transitively, over all relations. The result is
// deduplicated and ordered prerequisite-first, so rebuilding it front to
// back respects the DAG.
func (g *BuildTargets) DownstreamClosure(source string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	member := make(map[string]bool)
	var collect func(cur string)
	collect = func(cur string) {
		if member[cur] {
			return
		}
		member[cur] = true
		for _, d := range sortedKeys(g.rdeps[cur]) {
			collect(d)
		}
	}
	collect(source)

	// Topologically order the collected set by dependency edges within it.
	paths := make([]string, 0, len(member))
	for p := range member {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	indeg := make(map[string]int, len(paths))
	for _, p := range paths {
		for q, rel := range g.deps[p] {
			if rel == RelCopyParent {
				continue
			}
			if member[q] {
				indeg[p]++
			}
		}
	}
	var queue []string
	for _, p := range paths {
		if indeg[p] == 0 {
			queue = append(queue, p)
		}
	}
	var out []*Node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if n, ok := g.nodes[cur]; ok {
			out = append(out, n)
		}
		for _, d := range sortedKeys(g.rdeps[cur]) {
			if !member[d] || g.rdeps[cur][d] == RelCopyParent {
				continue
			}
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return out
}

// DetectCycle checks the whole include/src relation for cycles, returning
// a CycleError naming the first one found. Edge insertion already rejects
// cycles, so this is a consistency check for graphs assembled from
// persisted state.
func (g *BuildTargets) DetectCycle() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(cur string) []string
	visit = func(cur string) []string {
		color[cur] = grey
		stack = append(stack, cur)
		for _, next := range sortedKeys(g.deps[cur]) {
			if g.deps[cur][next] == RelCopyParent {
				continue
			}
			switch color[next] {
			case grey:
				// Slice the stack from the first occurrence of next.
				for i, p := range stack {
					if p == next {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[cur] = black
		return nil
	}

	for _, p := range g.order {
		if color[p] == white {
			if c := visit(p); c != nil {
				return &apperr.CycleError{Cycle: c}
			}
		}
	}
	return nil
}

type nodeJSON struct {
	Input        string   `json:"input"`
	Output       string   `json:"output,omitempty"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// MarshalJSON renders the graph for --dry-run output.
func (g *BuildTargets) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]nodeJSON, 0, len(g.order))
	for _, p := range g.order {
		n := g.nodes[p]
		nj := nodeJSON{
			Input:  n.Source,
			Output: n.Output,
			Type:   n.Kind.String(),
			Status: n.Status().String(),
		}
		for _, dep := range sortedKeys(g.deps[p]) {
			nj.Dependencies = append(nj.Dependencies, dep)
		}
		nodes = append(nodes, nj)
	}
	return json.Marshal(struct {
		Nodes []nodeJSON `json:"nodes"`
	}{Nodes: nodes})
}

func sortedKeys(m map[string]Relation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
