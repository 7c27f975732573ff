package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/md2html/internal/build"
	"github.com/starford/md2html/internal/render"
	"github.com/starford/md2html/internal/resolve"
	"github.com/starford/md2html/internal/scan"
	"github.com/starford/md2html/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// startDriver plans and builds srcDir -> outDir, then runs a watch
// driver with a short debounce. Rebuild results arrive on the returned
// channel.
func startDriver(t *testing.T, srcDir, outDir string) (context.CancelFunc, chan *build.Result) {
	t.Helper()
	res, err := resolve.New([]string{srcDir}, outDir, true)
	if err != nil {
		t.Fatal(err)
	}
	scans, err := scan.NewCache(64)
	if err != nil {
		t.Fatal(err)
	}
	in := storage.NewInputs(res.Base(), false)
	logger := discardLogger()

	planner := build.NewPlanner(res, in, scans, logger, false, nil)
	if err := planner.Plan(); err != nil {
		t.Fatal(err)
	}
	sched := build.NewScheduler(planner.Graph(), in, render.New(nil, nil, true), nil, scans, logger, build.Options{})
	if _, err := sched.Build(context.Background(), planner.Graph().Nodes()); err != nil {
		t.Fatal(err)
	}

	results := make(chan *build.Result, 16)
	d := NewDriver(planner, sched, res.DirRoots(), res.DirRoots(), 50*time.Millisecond, logger,
		func(r *build.Result) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := d.Run(ctx); err != nil {
			t.Errorf("driver: %v", err)
		}
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher a moment to register its subscriptions.
	time.Sleep(100 * time.Millisecond)
	return cancel, results
}

func waitResult(t *testing.T, results chan *build.Result) *build.Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for rebuild")
		return nil
	}
}

func TestWatch_RebuildOnEdit(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	write(t, src, "a.md", "# Old\n")

	_, results := startDriver(t, src, out)

	write(t, src, "a.md", "# New heading\n")
	r := waitResult(t, results)
	if r.Built == 0 {
		t.Fatalf("edit did not rebuild: %+v", r)
	}

	html, err := os.ReadFile(filepath.Join(out, "a.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "New heading") {
		t.Errorf("output stale: %s", html)
	}
}

func TestWatch_IncludeChangeRebuildsDependent(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	write(t, src, "a.md", "# A\n@include(_part.md)\n")
	write(t, src, "_part.md", "old include\n")

	_, results := startDriver(t, src, out)

	write(t, src, "_part.md", "fresh include\n")
	waitResult(t, results)

	html, err := os.ReadFile(filepath.Join(out, "a.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "fresh include") {
		t.Errorf("dependent page stale: %s", html)
	}
}

func TestWatch_NewFilePickedUp(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	write(t, src, "a.md", "# A\n")

	_, results := startDriver(t, src, out)

	write(t, src, "b.md", "# Brand New\n")
	waitResult(t, results)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if html, err := os.ReadFile(filepath.Join(out, "b.html")); err == nil {
			if !strings.Contains(string(html), "Brand New") {
				t.Errorf("new page content = %s", html)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("new file never built")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIsScratch(t *testing.T) {
	cases := map[string]bool{
		"/x/.md2html-tmp-123": true,
		"/x/a.md~":            true,
		"/x/.a.md.swp":        true,
		"/x/a.md":             false,
	}
	for path, want := range cases {
		if got := isScratch(path); got != want {
			t.Errorf("isScratch(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Building.String() != "building" {
		t.Error("state names changed")
	}
}

func TestWatch_IncludeRemovedFailsDependent(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	write(t, src, "a.md", "# A\n@include(_part.md)\n")
	part := write(t, src, "_part.md", "part text\n")

	_, results := startDriver(t, src, out)

	if err := os.Remove(part); err != nil {
		t.Fatal(err)
	}

	res := waitResult(t, results)
	if res.Failed == 0 {
		t.Fatalf("deleting an include should fail its dependents, got %+v", res)
	}
}
