// Package render wraps the external text-transformation collaborators:
// goldmark for markdown→HTML and html/template for page wrapping.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// defaultPage wraps rendered markdown when no template is configured.
const defaultPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
{{if .DefaultCSS}}<style>
body { max-width: 48rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; }
pre { background: #f6f8fa; padding: 1rem; overflow-x: auto; }
code { font-family: ui-monospace, monospace; }
</style>{{end}}
</head>
<body>
{{.Content}}
</body>
</html>
`

// PageData is the variable set exposed to page templates.
type PageData struct {
	Title      string
	Content    template.HTML
	Vars       map[string]interface{}
	Site       map[string]interface{}
	DefaultCSS bool
}

// Renderer converts markdown bodies to full HTML pages.
type Renderer struct {
	md           goldmark.Markdown
	templateDirs []string
	siteVars     map[string]interface{}
	defaultCSS   bool
}

// New creates a renderer. templateDirs are searched in order for
// templates named by front matter; siteVars are exposed to every page.
func New(templateDirs []string, siteVars map[string]interface{}, defaultCSS bool) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		templateDirs: templateDirs,
		siteVars:     siteVars,
		defaultCSS:   defaultCSS,
	}
}

// Markdown converts a markdown body to an HTML fragment.
func (r *Renderer) Markdown(body []byte) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(body, &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return buf.String(), nil
}

// Page wraps an HTML fragment in the named template (or the built-in
// default page when name is empty or not found).
func (r *Renderer) Page(content, title, name string, vars map[string]interface{}) (string, error) {
	data := PageData{
		Title:      title,
		Content:    template.HTML(content),
		Vars:       vars,
		Site:       r.siteVars,
		DefaultCSS: r.defaultCSS,
	}

	text := defaultPage
	if name != "" {
		if path, ok := r.FindTemplate(name); ok {
			raw, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("render: read template %s: %w", name, err)
			}
			text = string(raw)
		}
	}

	tmpl, err := template.New(filepath.Base(name + "page")).Parse(text)
	if err != nil {
		return "", fmt.Errorf("render: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}

// Template renders a standalone HTML template file with site variables.
func (r *Renderer) Template(path string, vars map[string]interface{}) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("render: read %s: %w", path, err)
	}
	tmpl, err := template.New(filepath.Base(path)).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("render: parse %s: %w", path, err)
	}
	data := PageData{Vars: vars, Site: r.siteVars, DefaultCSS: r.defaultCSS}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute %s: %w", path, err)
	}
	return buf.String(), nil
}

// FindTemplate searches the configured template directories for name.
func (r *Renderer) FindTemplate(name string) (string, bool) {
	for _, dir := range r.templateDirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}
