package graph

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/starford/md2html/internal/apperr"
)

func mustEdge(t *testing.T, g *BuildTargets, dep, pre string, rel Relation) {
	t.Helper()
	if err := g.AddEdge(dep, pre, rel); err != nil {
		t.Fatalf("AddEdge(%s, %s): %v", dep, pre, err)
	}
}

func paths(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Source
	}
	return out
}

func TestAddNode_Idempotent(t *testing.T) {
	g := New()
	a := g.AddNode(&Node{Source: "a.md", Kind: Markdown})
	b := g.AddNode(&Node{Source: "a.md", Kind: Copy})
	if a != b {
		t.Error("re-adding a path should return the existing node")
	}
	if b.Kind != Markdown {
		t.Errorf("kind = %v, want original Markdown", b.Kind)
	}
	if g.Len() != 1 {
		t.Errorf("len = %d, want 1", g.Len())
	}
}

func TestAddEdge_DuplicateNoop(t *testing.T) {
	g := New()
	g.AddNode(&Node{Source: "a.md"})
	g.AddNode(&Node{Source: "b.md"})
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	if len(g.Prereqs("a.md")) != 1 {
		t.Errorf("prereqs = %v, want single edge", g.Prereqs("a.md"))
	}
}

func TestAddEdge_RejectsCycleWithPath(t *testing.T) {
	g := New()
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		g.AddNode(&Node{Source: p, Kind: Markdown})
	}
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	mustEdge(t, g, "b.md", "c.md", RelInclude)

	err := g.AddEdge("c.md", "a.md", RelInclude)
	if err == nil {
		t.Fatal("closing edge should be rejected")
	}
	if !errors.Is(err, apperr.ErrCycle) {
		t.Errorf("error should wrap ErrCycle: %v", err)
	}
	var ce *apperr.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("error should be a CycleError: %v", err)
	}
	// The reported path walks the whole cycle and closes on itself.
	if len(ce.Cycle) != 4 || ce.Cycle[0] != ce.Cycle[len(ce.Cycle)-1] {
		t.Errorf("cycle = %v", ce.Cycle)
	}
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		if !strings.Contains(err.Error(), p) {
			t.Errorf("cycle message missing %s: %v", p, err)
		}
	}
	// The rejected edge must not have been recorded.
	if len(g.Prereqs("c.md")) != 0 {
		t.Errorf("rejected edge was recorded: %v", g.Prereqs("c.md"))
	}
}

func TestAddEdge_SelfCycle(t *testing.T) {
	g := New()
	g.AddNode(&Node{Source: "a.md"})
	if err := g.AddEdge("a.md", "a.md", RelInclude); !errors.Is(err, apperr.ErrCycle) {
		t.Errorf("self include should be a cycle, got %v", err)
	}
}

func TestAddEdge_CopyParentIgnoresCycles(t *testing.T) {
	g := New()
	g.AddNode(&Node{Source: "dir", Kind: NotifyOnly})
	g.AddNode(&Node{Source: "dir/a.md", Kind: Markdown})
	mustEdge(t, g, "dir/a.md", "dir", RelCopyParent)
	// The reverse direction is fine for watch-only edges.
	mustEdge(t, g, "dir", "dir/a.md", RelCopyParent)
}

func TestUpstreamClosure_Order(t *testing.T) {
	// a -> b -> d, a -> c -> d: d must come first, a last, no duplicates.
	g := New()
	for _, p := range []string{"a.md", "b.md", "c.md", "d.md"} {
		g.AddNode(&Node{Source: p, Kind: Markdown})
	}
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	mustEdge(t, g, "a.md", "c.md", RelInclude)
	mustEdge(t, g, "b.md", "d.md", RelInclude)
	mustEdge(t, g, "c.md", "d.md", RelInclude)

	got := paths(g.UpstreamClosure("a.md"))
	want := []string{"d.md", "b.md", "c.md", "a.md"}
	if len(got) != len(want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closure = %v, want %v", got, want)
		}
	}
}

func TestUpstreamClosure_SkipsCopyParent(t *testing.T) {
	g := New()
	g.AddNode(&Node{Source: "dir", Kind: NotifyOnly})
	g.AddNode(&Node{Source: "dir/a.md", Kind: Markdown})
	mustEdge(t, g, "dir/a.md", "dir", RelCopyParent)

	got := paths(g.UpstreamClosure("dir/a.md"))
	if len(got) != 1 || got[0] != "dir/a.md" {
		t.Errorf("closure = %v, want [dir/a.md]", got)
	}
}

func TestDownstreamClosure_PrerequisiteFirst(t *testing.T) {
	// a includes b, b includes c. Touching c rebuilds c, then b, then a.
	g := New()
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		g.AddNode(&Node{Source: p, Kind: Markdown})
	}
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	mustEdge(t, g, "b.md", "c.md", RelInclude)

	got := paths(g.DownstreamClosure("c.md"))
	want := []string{"c.md", "b.md", "a.md"}
	if len(got) != len(want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closure = %v, want %v", got, want)
		}
	}
}

func TestDownstreamClosure_IncludesCopyParentDependents(t *testing.T) {
	// A directory change notifies its contained files.
	g := New()
	g.AddNode(&Node{Source: "dir", Kind: NotifyOnly})
	g.AddNode(&Node{Source: "dir/a.md", Kind: Markdown})
	mustEdge(t, g, "dir/a.md", "dir", RelCopyParent)

	got := paths(g.DownstreamClosure("dir"))
	if len(got) != 2 {
		t.Fatalf("closure = %v, want dir and dir/a.md", got)
	}
}

func TestDropEdgesFrom(t *testing.T) {
	g := New()
	for _, p := range []string{"a.md", "b.md", "dir"} {
		g.AddNode(&Node{Source: p})
	}
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	mustEdge(t, g, "a.md", "dir", RelCopyParent)

	g.DropEdgesFrom("a.md")

	prereqs := g.Prereqs("a.md")
	if _, ok := prereqs["b.md"]; ok {
		t.Error("include edge should be dropped")
	}
	if _, ok := prereqs["dir"]; !ok {
		t.Error("copy-parent edge should survive a rescan drop")
	}
	if _, ok := g.Dependents("b.md")["a.md"]; ok {
		t.Error("reverse edge should be dropped too")
	}
}

func TestDetectCycle_CleanGraph(t *testing.T) {
	g := New()
	for _, p := range []string{"a.md", "b.md"} {
		g.AddNode(&Node{Source: p})
	}
	mustEdge(t, g, "a.md", "b.md", RelInclude)
	if err := g.DetectCycle(); err != nil {
		t.Errorf("unexpected cycle: %v", err)
	}
}

func TestNodeStatus_Atomic(t *testing.T) {
	n := &Node{Source: "a.md"}
	if n.Status() != StatusNew {
		t.Errorf("status = %v, want never-built", n.Status())
	}
	n.SetStatus(StatusFailed)
	if n.Status() != StatusFailed {
		t.Errorf("status = %v, want build-failed", n.Status())
	}
}

func TestMarshalJSON_Shape(t *testing.T) {
	g := New()
	g.AddNode(&Node{Source: "a.md", Output: "a.html", Kind: Markdown})
	g.AddNode(&Node{Source: "b.md", Output: "b.html", Kind: Markdown})
	mustEdge(t, g, "a.md", "b.md", RelInclude)

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		Nodes []struct {
			Input        string   `json:"input"`
			Output       string   `json:"output"`
			Type         string   `json:"type"`
			Status       string   `json:"status"`
			Dependencies []string `json:"dependencies"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(payload.Nodes))
	}
	first := payload.Nodes[0]
	if first.Input != "a.md" || first.Output != "a.html" || first.Type != "markdown" {
		t.Errorf("node = %+v", first)
	}
	if len(first.Dependencies) != 1 || first.Dependencies[0] != "b.md" {
		t.Errorf("dependencies = %v", first.Dependencies)
	}
	if first.Status != "never-built" {
		t.Errorf("status = %q", first.Status)
	}
}
