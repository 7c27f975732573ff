package build

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/md2html/internal/apperr"
	"github.com/starford/md2html/internal/cache"
	"github.com/starford/md2html/internal/checksum"
	"github.com/starford/md2html/internal/graph"
	"github.com/starford/md2html/internal/render"
	"github.com/starford/md2html/internal/scan"
	"github.com/starford/md2html/internal/storage"
)

// Options tunes scheduler behavior.
type Options struct {
	// Execute enables @src execution; otherwise directives render as
	// inert snippets.
	Execute bool
	// ExecTimeout bounds each compile or run step of an execute node.
	ExecTimeout time.Duration
	// NoOverwrite skips targets whose destination already exists.
	NoOverwrite bool
	// Concurrency caps how many independent nodes build at once.
	Concurrency int
	// Commands overrides the built-in per-extension command table.
	Commands map[string]Command
}

// Result summarizes one scheduler pass. Counters are updated from the
// wave goroutines under the mutex; callers read them after Build
// returns.
type Result struct {
	mu       sync.Mutex
	Built    int
	Skipped  int
	Failed   int
	Failures []string
}

// OK reports whether every attempted target built.
func (r *Result) OK() bool { return r.Failed == 0 }

func (r *Result) addBuilt() {
	r.mu.Lock()
	r.Built++
	r.mu.Unlock()
}

func (r *Result) addFailure(path string) {
	r.mu.Lock()
	r.Failed++
	r.Failures = append(r.Failures, path)
	r.mu.Unlock()
}

// Scheduler orders dirty targets over the graph and executes their
// actions. Graph structure is read-only during a pass; the shared
// mutable state is node status (atomic) and the result counters
// (mutex-guarded).
type Scheduler struct {
	g        *graph.BuildTargets
	in       *storage.Inputs
	renderer *render.Renderer
	store    cache.Store // nil disables cross-run skip
	scans    *scan.Cache
	logger   *slog.Logger
	opts     Options
}

// NewScheduler wires a scheduler over an assembled graph.
func NewScheduler(g *graph.BuildTargets, in *storage.Inputs, renderer *render.Renderer, store cache.Store, scans *scan.Cache, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 30 * time.Second
	}
	return &Scheduler{g: g, in: in, renderer: renderer, store: store, scans: scans, logger: logger, opts: opts}
}

// Build materializes the dirty set: the merged upstream closures are
// ordered prerequisite-first, unchanged nodes are skipped, and the rest
// execute in dependency waves. Independent nodes within a wave run
// concurrently. A failed node never aborts the pass; its dependents are
// marked blocked instead of building against stale data.
func (s *Scheduler) Build(ctx context.Context, dirty []*graph.Node) (*Result, error) {
	ordered := s.mergeClosures(dirty)

	changed := make(map[string]bool, len(ordered))
	sums := make(map[string]string, len(ordered))
	for _, n := range ordered {
		changed[n.Source] = s.isDirty(n, changed, sums)
	}

	var todo []*graph.Node
	res := &Result{}
	for _, n := range ordered {
		if changed[n.Source] {
			todo = append(todo, n)
		} else {
			res.Skipped++
		}
	}
	if len(todo) == 0 {
		return res, nil
	}

	for _, wave := range s.waves(todo) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Concurrency)
		for _, n := range wave {
			n := n
			g.Go(func() error {
				s.buildNode(gctx, n, sums[n.Source], res)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// mergeClosures concatenates the upstream closures of the dirty set,
// deduplicated. Each closure is reverse-topological, so the first
// occurrence of any node already follows all of its prerequisites.
func (s *Scheduler) mergeClosures(dirty []*graph.Node) []*graph.Node {
	seen := make(map[string]bool)
	var out []*graph.Node
	for _, d := range dirty {
		for _, n := range s.g.UpstreamClosure(d.Source) {
			if !seen[n.Source] {
				seen[n.Source] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// isDirty decides whether a node needs rebuilding: its own content hash
// moved, its output is missing, it never built successfully, or any
// upstream prerequisite is dirty (transitive dirtiness).
func (s *Scheduler) isDirty(n *graph.Node, changed map[string]bool, sums map[string]string) bool {
	cur := s.contentSum(n)
	sums[n.Source] = cur

	for p, rel := range s.g.Prereqs(n.Source) {
		if rel == graph.RelCopyParent {
			continue
		}
		if changed[p] {
			return true
		}
	}

	prev := n.Checksum
	if prev == "" && s.store != nil {
		if row, err := s.store.Get(n.Source); err == nil && row != nil && row.Status == graph.StatusBuilt.String() {
			prev = row.Checksum
			n.Checksum = prev
			n.SetStatus(graph.StatusBuilt)
		}
	}

	switch {
	case n.Status() == graph.StatusFailed || n.Status() == graph.StatusBlocked:
		return true
	case prev == "" || cur != prev:
		return true
	case n.Output != "" && !fileExists(n.Output):
		return true
	}
	return false
}

// contentSum hashes the bytes that define a node's current content.
func (s *Scheduler) contentSum(n *graph.Node) string {
	if n.Kind == graph.Execute {
		if n.Exec != nil && n.Exec.InlineBody != "" {
			return checksum.Sum([]byte(n.Exec.InlineBody))
		}
		// File-backed execute nodes hash their program source.
		if raw := s.execSource(n); raw != "" {
			if sum, err := checksum.SumFile(raw); err == nil {
				return sum
			}
		}
		return ""
	}
	if isDir(n.Source) {
		return ""
	}
	sum, err := checksum.SumFile(n.Source)
	if err != nil {
		return ""
	}
	return sum
}

// execSource returns the program file behind a file-backed execute node.
func (s *Scheduler) execSource(n *graph.Node) string {
	prereqs := s.g.Prereqs(n.Source)
	keys := make([]string, 0, len(prereqs))
	for p, rel := range prereqs {
		if rel == graph.RelSrc {
			keys = append(keys, p)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// waves partitions todo into dependency levels: every node's in-set
// prerequisites live in an earlier wave.
func (s *Scheduler) waves(todo []*graph.Node) [][]*graph.Node {
	member := make(map[string]*graph.Node, len(todo))
	for _, n := range todo {
		member[n.Source] = n
	}
	indeg := make(map[string]int, len(todo))
	for _, n := range todo {
		for p, rel := range s.g.Prereqs(n.Source) {
			if rel == graph.RelCopyParent {
				continue
			}
			if _, ok := member[p]; ok {
				indeg[n.Source]++
			}
		}
	}

	var out [][]*graph.Node
	remaining := len(todo)
	done := make(map[string]bool, len(todo))
	for remaining > 0 {
		var wave []*graph.Node
		for _, n := range todo {
			if done[n.Source] || indeg[n.Source] != 0 {
				continue
			}
			wave = append(wave, n)
		}
		if len(wave) == 0 {
			// Unreachable with an acyclic graph; bail rather than spin.
			break
		}
		for _, n := range wave {
			done[n.Source] = true
			remaining--
			for d, rel := range s.g.Dependents(n.Source) {
				if rel == graph.RelCopyParent {
					continue
				}
				if _, ok := member[d]; ok {
					indeg[d]--
				}
			}
		}
		out = append(out, wave)
	}
	return out
}

// buildNode runs one node's action and records the outcome on the node,
// in the result, and in the persistent cache.
func (s *Scheduler) buildNode(ctx context.Context, n *graph.Node, sum string, res *Result) {
	// A failed prerequisite blocks this node rather than letting it
	// build with stale inputs.
	for p, rel := range s.g.Prereqs(n.Source) {
		if rel == graph.RelCopyParent {
			continue
		}
		if pn, ok := s.g.Node(p); ok {
			if st := pn.Status(); st == graph.StatusFailed || st == graph.StatusBlocked {
				err := &apperr.BuildError{Path: n.Source, Blocked: true, Err: errors.New(p)}
				s.recordFailure(n, graph.StatusBlocked, err, res)
				return
			}
		}
	}

	var err error
	switch n.Kind {
	case graph.NotifyOnly:
		// Nothing to materialize; the checksum update below keeps
		// dependents' dirtiness tracking accurate.
	case graph.Copy:
		err = s.runCopy(n)
	case graph.Markdown:
		err = s.runMarkdown(ctx, n)
	case graph.Execute:
		err = s.runExecute(ctx, n)
	case graph.Template:
		err = s.runTemplate(n)
	}

	if err != nil {
		s.recordFailure(n, graph.StatusFailed, err, res)
		return
	}

	n.Checksum = sum
	n.SetStatus(graph.StatusBuilt)
	if n.Kind != graph.NotifyOnly {
		res.addBuilt()
		s.logger.Debug("built",
			slog.String("src", n.Source),
			slog.String("dest", n.Output),
			slog.String("kind", n.Kind.String()))
	}
	if s.store != nil {
		_ = s.store.Put(cache.Row{
			Path:     n.Source,
			Output:   n.Output,
			Checksum: sum,
			Status:   graph.StatusBuilt.String(),
			BuiltAt:  time.Now().UTC(),
		})
	}
}

func (s *Scheduler) recordFailure(n *graph.Node, st graph.Status, err error, res *Result) {
	n.SetStatus(st)
	res.addFailure(n.Source)
	s.logger.Error("build failed",
		slog.String("path", n.Source),
		slog.String("status", st.String()),
		slog.String("error", err.Error()))
	if s.store != nil {
		_ = s.store.Put(cache.Row{
			Path:    n.Source,
			Output:  n.Output,
			Status:  st.String(),
			BuiltAt: time.Now().UTC(),
		})
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
