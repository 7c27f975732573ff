package graph

import "testing"

func TestClassify_ByExtension(t *testing.T) {
	cases := []struct {
		path     string
		explicit bool
		want     ActionKind
	}{
		{"doc.md", false, Markdown},
		{"doc.MD", false, Markdown},
		{"page.html", false, Template},
		{"style.css", false, Copy},
		{"image.png", false, Copy},
		{"_partial.md", false, NotifyOnly},
		{"sub/_hidden/doc.md", false, NotifyOnly},
		{".secret/doc.md", false, NotifyOnly},
	}
	for _, tc := range cases {
		if got := Classify(tc.path, tc.explicit); got != tc.want {
			t.Errorf("Classify(%q, %v) = %v, want %v", tc.path, tc.explicit, got, tc.want)
		}
	}
}

func TestClassify_ExplicitUnderscoreBuilds(t *testing.T) {
	if got := Classify("_partial.md", true); got != Markdown {
		t.Errorf("explicitly named underscore file = %v, want Markdown", got)
	}
	if got := Classify("_assets/logo.png", true); got != Copy {
		t.Errorf("explicitly referenced asset = %v, want Copy", got)
	}
}

func TestHasHiddenComponent(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"a/b/c.md", false},
		{"_a/b.md", true},
		{"a/_b/c.md", true},
		{"a/.cache/c.md", true},
		{"./a/b.md", false},
		{"../a/b.md", false},
	}
	for _, tc := range cases {
		if got := HasHiddenComponent(tc.path); got != tc.want {
			t.Errorf("HasHiddenComponent(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
