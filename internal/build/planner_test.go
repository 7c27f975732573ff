package build

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/md2html/internal/graph"
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

// newPlanner builds a planner over srcDir -> outDir in recursive mode.
func newPlanner(t *testing.T, srcDir, outDir string, execute bool) *Planner {
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
	return NewPlanner(res, in, scans, discardLogger(), execute, nil)
}

func TestPlan_WalkClassifiesTree(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "page.md", "# Page\n")
	css := write(t, src, "style.css", "body{}\n")
	hidden := write(t, src, "_partial.md", "# Hidden\n")
	write(t, src, filepath.Join(".git", "config"), "x\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	n, ok := g.Node(md)
	if !ok || n.Kind != graph.Markdown {
		t.Fatalf("markdown node missing or misclassified: %+v", n)
	}
	if want := filepath.Join(out, "page.html"); n.Output != want {
		t.Errorf("output = %q, want %q", n.Output, want)
	}

	if n, ok := g.Node(css); !ok || n.Kind != graph.Copy {
		t.Errorf("css node = %+v, want Copy", n)
	}
	if n, ok := g.Node(hidden); !ok || n.Kind != graph.NotifyOnly || n.Output != "" {
		t.Errorf("underscore file = %+v, want NotifyOnly without output", n)
	}
	if _, ok := g.Node(filepath.Join(src, ".git", "config")); ok {
		t.Error("dot directory should not be walked")
	}

	// Walked files hang off their parent directory node for watch
	// propagation.
	if _, ok := g.Prereqs(md)[src]; !ok {
		t.Errorf("copy-parent edge missing: %v", g.Prereqs(md))
	}
}

func TestPlan_ExplicitUnderscoreInput(t *testing.T) {
	dir := t.TempDir()
	md := write(t, dir, "_draft.md", "# Draft\n")

	res, err := resolve.New([]string{md}, "", false)
	if err != nil {
		t.Fatal(err)
	}
	scans, err := scan.NewCache(64)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPlanner(res, storage.NewInputs(res.Base(), false), scans, discardLogger(), false, nil)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}

	n, ok := p.Graph().Node(md)
	if !ok || n.Kind != graph.Markdown {
		t.Fatalf("directly-named underscore file should build: %+v", n)
	}
	if want := filepath.Join(dir, "_draft.html"); n.Output != want {
		t.Errorf("output = %q, want %q", n.Output, want)
	}
}

func TestPlan_IncludeEdgesAndReferencedHidden(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "# A\n@include(_header.md)\n@include(b.md)\n")
	header := write(t, src, "_header.md", "header text\n")
	b := write(t, src, "b.md", "# B\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	prereqs := g.Prereqs(md)
	if prereqs[header] != graph.RelInclude || prereqs[b] != graph.RelInclude {
		t.Errorf("include edges = %v", prereqs)
	}

	// The referenced underscore file must not gain an output of its own.
	hn, _ := g.Node(header)
	if hn.Kind != graph.NotifyOnly || hn.Output != "" {
		t.Errorf("referenced hidden file = %+v", hn)
	}
	// A regular referenced markdown file keeps its own output.
	bn, _ := g.Node(b)
	if bn.Kind != graph.Markdown || bn.Output == "" {
		t.Errorf("referenced markdown = %+v", bn)
	}
}

func TestPlan_IncludeCycleFailsNode(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	a := write(t, src, "a.md", "@include(b.md)\n")
	b := write(t, src, "b.md", "@include(a.md)\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	an, _ := g.Node(a)
	bn, _ := g.Node(b)
	if an.Status() != graph.StatusFailed && bn.Status() != graph.StatusFailed {
		t.Error("one side of the cycle should be marked failed")
	}
	if err := g.DetectCycle(); err != nil {
		t.Errorf("rejected edge must not enter the graph: %v", err)
	}
}

func TestPlan_MalformedDirectiveFailsOnlyThatFile(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	bad := write(t, src, "bad.md", "@include(broken\n")
	good := write(t, src, "good.md", "# Fine\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	bn, _ := g.Node(bad)
	if bn.Status() != graph.StatusFailed {
		t.Errorf("bad file status = %v, want failed", bn.Status())
	}
	gn, _ := g.Node(good)
	if gn.Status() != graph.StatusNew {
		t.Errorf("good file status = %v, want never-built", gn.Status())
	}
}

func TestPlan_OutputConflictMarkdownWins(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	html := write(t, src, "page.html", "<p>static</p>\n")
	md := write(t, src, "page.md", "# Page\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	mn, _ := g.Node(md)
	if mn.Kind != graph.Markdown || mn.Output == "" {
		t.Fatalf("markdown node = %+v", mn)
	}
	hn, _ := g.Node(html)
	if hn.Kind != graph.NotifyOnly || hn.Output != "" {
		t.Errorf("conflicting template should be demoted: %+v", hn)
	}
}

func TestPlan_SrcWithoutExecuteStaysInert(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "@src(prog.py)\n")
	prog := write(t, src, "prog.py", "print('hi')\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	if _, ok := g.Node(prog + "#exec"); ok {
		t.Error("no execute node without execute mode")
	}
	// The raw file still feeds the page so watch propagation works.
	if g.Prereqs(md)[prog] != graph.RelInclude {
		t.Errorf("prereqs = %v", g.Prereqs(md))
	}
}

func TestPlan_SrcWithExecute(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "@src(prog.py)\n")
	prog := write(t, src, "prog.py", "print('hi')\n")

	p := newPlanner(t, src, out, true)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	exec, ok := g.Node(prog + "#exec")
	if !ok || exec.Kind != graph.Execute {
		t.Fatalf("execute node missing: %+v", exec)
	}
	// Captured output lands next to the page's html, underscore-prefixed
	// so the walk never picks it up.
	if want := filepath.Join(out, "_prog.out"); exec.Output != want {
		t.Errorf("exec output = %q, want %q", exec.Output, want)
	}
	if g.Prereqs(exec.Source)[prog] != graph.RelSrc {
		t.Errorf("exec prereqs = %v", g.Prereqs(exec.Source))
	}
	if g.Prereqs(md)[exec.Source] != graph.RelSrc {
		t.Errorf("page prereqs = %v", g.Prereqs(md))
	}
}

func TestPlan_InlineSrcNodes(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "@src_begin(lang=sh)\necho hi\n@src_end()\n")

	p := newPlanner(t, src, out, true)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	var exec *graph.Node
	for pre := range g.Prereqs(md) {
		if n, ok := g.Node(pre); ok && n.Kind == graph.Execute {
			exec = n
		}
	}
	if exec == nil {
		t.Fatal("inline execute node missing")
	}
	if exec.Exec == nil || exec.Exec.InlineBody != "echo hi" || exec.Exec.Lang != "sh" {
		t.Errorf("exec details = %+v", exec.Exec)
	}
	if want := filepath.Join(out, "_a_0.out"); exec.Output != want {
		t.Errorf("exec output = %q, want %q", exec.Output, want)
	}
}

func TestRescan_DropsRemovedDirectives(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "@include(b.md)\n")
	b := write(t, src, "b.md", "# B\n")

	p := newPlanner(t, src, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()
	if _, ok := g.Prereqs(md)[b]; !ok {
		t.Fatal("include edge missing after plan")
	}

	write(t, src, "a.md", "# no more includes\n")
	n, _ := g.Node(md)
	if err := p.Rescan(n); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Prereqs(md)[b]; ok {
		t.Errorf("stale edge survived rescan: %v", g.Prereqs(md))
	}
	if _, ok := g.Prereqs(md)[src]; !ok {
		t.Error("copy-parent edge should survive rescan")
	}
}

func TestPlan_InPlaceCopyIsNotifyOnly(t *testing.T) {
	src := t.TempDir()
	css := write(t, src, "style.css", "body{}\n")

	p := newPlanner(t, src, "", false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	n, ok := p.Graph().Node(css)
	if !ok || n.Kind != graph.NotifyOnly {
		t.Errorf("in-place copy target = %+v, want NotifyOnly", n)
	}
}

func TestPlan_HiddenAncestorOfRootStillBuilds(t *testing.T) {
	root := filepath.Join(t.TempDir(), "_work", "site")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	md := write(t, root, "a.md", "# A\n")
	draft := write(t, root, "_draft.md", "# D\n")

	p := newPlanner(t, root, out, false)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()

	n, ok := g.Node(md)
	if !ok {
		t.Fatal("a.md not planned")
	}
	if n.Kind != graph.Markdown {
		t.Errorf("kind = %v, want markdown", n.Kind)
	}
	if n.Output == "" {
		t.Error("markdown target under a hidden ancestor should keep its output")
	}

	// The hidden rule still applies to names inside the tree.
	if d, ok := g.Node(draft); !ok || d.Kind != graph.NotifyOnly {
		t.Errorf("walked underscore file should stay notify-only, got %+v", d)
	}
}

func TestRescan_InlineBodyFollowsEdit(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	md := write(t, src, "a.md", "@src_begin(lang=sh)\necho one\n@src_end()\n")

	p := newPlanner(t, src, out, true)
	if err := p.Plan(); err != nil {
		t.Fatal(err)
	}
	g := p.Graph()
	n, ok := g.Node(md)
	if !ok {
		t.Fatal("a.md not planned")
	}

	write(t, src, "a.md", "@src_begin(lang=sh)\necho two\n@src_end()\n")
	if err := p.Rescan(n); err != nil {
		t.Fatal(err)
	}

	var exec *graph.Node
	for pre := range g.Prereqs(md) {
		if en, ok := g.Node(pre); ok && en.Kind == graph.Execute {
			exec = en
		}
	}
	if exec == nil {
		t.Fatal("inline execute node missing after rescan")
	}
	if exec.Exec == nil || exec.Exec.InlineBody != "echo two" {
		t.Errorf("inline body = %+v, want the edited block", exec.Exec)
	}
}
