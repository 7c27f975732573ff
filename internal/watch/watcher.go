// Package watch drives incremental rebuilds: it subscribes to
// filesystem events on the input roots, coalesces bursts, maps changed
// paths onto graph nodes, and hands the downstream closure to the
// scheduler.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/md2html/internal/build"
	"github.com/starford/md2html/internal/graph"
)

// State is the driver's current phase, exposed for observability.
type State int32

const (
	Idle State = iota
	Debouncing
	Resolving
	Building
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Resolving:
		return "resolving"
	case Building:
		return "building"
	default:
		return "unknown"
	}
}

// RebuildFunc is called after each completed rebuild pass with the
// result; the serve mode uses it to push live-reload events.
type RebuildFunc func(res *build.Result)

// Driver owns the watch loop. Events are queued into the debounce stage;
// the scheduler is never re-entered while a build pass is in flight,
// because a single goroutine runs the whole pipeline.
type Driver struct {
	g       *graph.BuildTargets
	planner *build.Planner
	sched   *build.Scheduler
	// roots are the directories under fsnotify subscription.
	roots []string
	// walkRoots are the recursively-built input directories; only paths
	// under one of them may trigger a partial re-walk.
	walkRoots []string
	debounce  time.Duration
	logger    *slog.Logger
	onRebuilt RebuildFunc

	state atomic.Int32
}

// NewDriver wires a driver over an already-planned graph.
func NewDriver(planner *build.Planner, sched *build.Scheduler, roots, walkRoots []string, debounce time.Duration, logger *slog.Logger, onRebuilt RebuildFunc) *Driver {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Driver{
		g:         planner.Graph(),
		planner:   planner,
		sched:     sched,
		roots:     roots,
		walkRoots: walkRoots,
		debounce:  debounce,
		logger:    logger,
		onRebuilt: onRebuilt,
	}
}

// State returns the driver's current phase.
func (d *Driver) State() State { return State(d.state.Load()) }

// Run watches until ctx is cancelled. New directories created at runtime
// are added to the watch list; changed paths with no corresponding node
// trigger a partial re-walk of their containing directory.
func (d *Driver) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range d.roots {
		if err := addDirsRecursive(w, root); err != nil {
			return err
		}
	}
	d.logger.Info("watcher: started", slog.Any("roots", d.roots))

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		d.state.Store(int32(Debouncing))
		if timer == nil {
			timer = time.NewTimer(d.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(d.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			d.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			d.process(ctx, pending)
			pending = make(map[string]fsnotify.Op)
			d.state.Store(int32(Idle))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isScratch(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
				if err := addDirsRecursive(w, ev.Name); err != nil {
					d.logger.Warn("watcher: add new dir failed",
						slog.String("path", ev.Name),
						slog.String("error", err.Error()))
				}
			}
			pending[ev.Name] |= ev.Op
			schedule()

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("watcher: error", slog.String("error", werr.Error()))
		}
	}
}

// process maps the coalesced change set onto graph nodes and rebuilds
// their downstream closures.
func (d *Driver) process(ctx context.Context, pending map[string]fsnotify.Op) {
	d.state.Store(int32(Resolving))

	seen := make(map[string]bool)
	var dirty []*graph.Node
	for path, op := range pending {
		for _, n := range d.resolveChange(path, op) {
			if !seen[n.Source] {
				seen[n.Source] = true
				dirty = append(dirty, n)
			}
		}
	}
	if len(dirty) == 0 {
		return
	}

	d.state.Store(int32(Building))
	res, err := d.sched.Build(ctx, dirty)
	if err != nil {
		d.logger.Error("watch rebuild failed", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("rebuilt",
		slog.Int("built", res.Built),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	if d.onRebuilt != nil {
		d.onRebuilt(res)
	}
}

// resolveChange returns the downstream closure for one changed path.
// A changed markdown node is re-scanned first so its edge set reflects
// the new content; unknown paths trigger a partial re-walk of the
// containing directory.
func (d *Driver) resolveChange(path string, op fsnotify.Op) []*graph.Node {
	n, ok := d.g.Node(path)
	if !ok {
		if op&(fsnotify.Create|fsnotify.Write) == 0 || isDir(path) {
			return nil
		}
		dir := filepath.Dir(path)
		if !d.underWalkRoot(dir) {
			return nil
		}
		d.logger.Debug("watcher: new path, re-walking dir", slog.String("dir", dir))
		if err := d.planner.WalkDir(dir); err != nil {
			d.logger.Warn("watcher: re-walk failed",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			return nil
		}
		n, ok = d.g.Node(path)
		if !ok {
			return nil
		}
	}

	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// The file is gone; rebuilding its dependents surfaces the read
		// failure instead of leaving pages spliced with stale content.
		d.logger.Debug("watcher: removed", slog.String("path", path))
		n.SetStatus(graph.StatusNew)
		deps := d.g.DownstreamClosure(n.Source)
		out := deps[:0]
		for _, dep := range deps {
			if dep.Source != n.Source {
				out = append(out, dep)
			}
		}
		return out
	}

	if n.Kind == graph.Markdown || (n.Kind == graph.NotifyOnly && strings.HasSuffix(path, ".md")) {
		if err := d.planner.Rescan(n); err != nil {
			d.logger.Error("watcher: rescan failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return d.g.DownstreamClosure(n.Source)
}

func (d *Driver) underWalkRoot(dir string) bool {
	for _, root := range d.walkRoots {
		if dir == root || strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// isScratch filters the builder's own temp files and editor droppings.
func isScratch(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".md2html-tmp-") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// addDirsRecursive adds root and all its non-hidden subdirectories to
// the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, dEntry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !dEntry.IsDir() {
			return nil
		}
		name := dEntry.Name()
		if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
